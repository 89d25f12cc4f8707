package handlers

import (
	"context"
	"testing"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
	"github.com/amuzetnoM/syndicate-sub000/internal/registry"
)

func TestRegisterBuiltinsCoversAllBuiltinActionTypes(t *testing.T) {
	reg := registry.New()
	RegisterBuiltins(reg)

	for _, actionType := range registry.BuiltinActionTypes {
		h := reg.Lookup(actionType)
		outcome := h(context.Background(), &db.Task{ActionType: actionType})
		if outcome.Kind != queue.OutcomeOK {
			t.Fatalf("action_type %q: outcome.Kind = %v, want OutcomeOK", actionType, outcome.Kind)
		}
	}
}

func TestEchoHandlerRejectsInvalidPayload(t *testing.T) {
	reg := registry.New()
	RegisterBuiltins(reg)

	h := reg.Lookup("research")
	outcome := h(context.Background(), &db.Task{ActionType: "research", Payload: "{not json"})
	if outcome.Kind != queue.OutcomePermanent {
		t.Fatalf("outcome.Kind = %v, want OutcomePermanent for malformed payload", outcome.Kind)
	}
}
