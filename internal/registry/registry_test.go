package registry

import (
	"context"
	"testing"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
)

func TestRegistryLookupUnknownActionTypeIsPermanent(t *testing.T) {
	r := New()
	h := r.Lookup("nonexistent")
	outcome := h(context.Background(), &db.Task{ActionType: "nonexistent"})
	if outcome.Kind != queue.OutcomePermanent {
		t.Fatalf("Kind = %v, want OutcomePermanent", outcome.Kind)
	}
	if outcome.Err == nil {
		t.Fatalf("Err = nil, want a descriptive error")
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := New()
	called := false
	r.Register("research", func(ctx context.Context, task *db.Task) queue.Outcome {
		called = true
		return queue.Outcome{Kind: queue.OutcomeOK}
	})

	h := r.Lookup("research")
	outcome := h(context.Background(), &db.Task{ActionType: "research"})
	if !called {
		t.Fatalf("registered handler was not invoked")
	}
	if outcome.Kind != queue.OutcomeOK {
		t.Fatalf("Kind = %v, want OutcomeOK", outcome.Kind)
	}
}

func TestRegistryActionTypesSorted(t *testing.T) {
	r := New()
	r.Register("monitoring", func(ctx context.Context, task *db.Task) queue.Outcome { return queue.Outcome{} })
	r.Register("data_fetch", func(ctx context.Context, task *db.Task) queue.Outcome { return queue.Outcome{} })

	types := r.ActionTypes()
	if len(types) != 2 || types[0] != "data_fetch" || types[1] != "monitoring" {
		t.Fatalf("ActionTypes() = %v, want sorted [data_fetch monitoring]", types)
	}
}
