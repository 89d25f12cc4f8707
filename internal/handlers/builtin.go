// Package handlers provides the built-in action_type handlers the executor
// daemon registers at startup. These are intentionally thin: the concrete
// LLM provider identity and the external API shape of any research/data-fetch
// backend are out of scope here, so each handler only validates its payload
// and reports structured success — a deployment wires its own richer
// handler via registry.Registry.Register for any type that needs to reach
// an external system.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
	"github.com/amuzetnoM/syndicate-sub000/internal/registry"
)

// RegisterBuiltins installs a no-op-but-valid handler for every
// registry.BuiltinActionTypes entry. Call before any deployment-specific
// registry.Registry.Register calls that should override a given type.
func RegisterBuiltins(reg *registry.Registry) {
	for _, actionType := range registry.BuiltinActionTypes {
		reg.Register(actionType, echoHandler(actionType))
	}
}

// echoHandler validates that payload (if present) is well-formed JSON and
// reports success, echoing the action_type and payload back as the result.
// It never reaches quota/retriable territory on its own; those outcomes are
// reserved for handlers that call out to rate-limited external systems.
func echoHandler(actionType string) queue.Handler {
	return func(_ context.Context, task *db.Task) queue.Outcome {
		if task.Payload != "" {
			var v any
			if err := json.Unmarshal([]byte(task.Payload), &v); err != nil {
				return queue.Outcome{
					Kind: queue.OutcomePermanent,
					Err:  fmt.Errorf("invalid payload for action_type %q: %w", actionType, err),
				}
			}
		}
		return queue.Outcome{
			Kind:   queue.OutcomeOK,
			Result: fmt.Sprintf(`{"action_type":%q,"handled_by":"builtin"}`, actionType),
		}
	}
}
