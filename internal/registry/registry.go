// Package registry is the action_type -> Handler dispatch table the
// executor daemon consults: a map keyed by action_type, guarded by a
// RWMutex so concurrent lookups don't block each other.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
)

// BuiltinActionTypes is the default action_type vocabulary, carried over
// from the original project's handler dispatch (research, monitoring,
// data_fetch, calculation, code_exploration, insights, generate).
var BuiltinActionTypes = []string{
	"research",
	"monitoring",
	"data_fetch",
	"calculation",
	"code_exploration",
	"insights",
	"generate",
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]queue.Handler
}

func New() *Registry {
	return &Registry{handlers: make(map[string]queue.Handler)}
}

// Register binds a handler to an action_type. A later Register call for the
// same action_type replaces the previous handler, so callers can override a
// built-in at startup.
func (r *Registry) Register(actionType string, h queue.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// Lookup returns the handler bound to actionType, or a handler that always
// returns OutcomePermanent when the action_type is unknown: an unrecognized
// action_type is a permanent failure, not a crash.
func (r *Registry) Lookup(actionType string) queue.Handler {
	r.mu.RLock()
	h, ok := r.handlers[actionType]
	r.mu.RUnlock()
	if ok {
		return h
	}
	return func(_ context.Context, task *db.Task) queue.Outcome {
		return queue.Outcome{Kind: queue.OutcomePermanent, Err: fmt.Errorf("no handler registered for action_type %q", task.ActionType)}
	}
}

func (r *Registry) ActionTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
