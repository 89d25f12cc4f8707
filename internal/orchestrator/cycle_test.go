package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/executor"
	"github.com/amuzetnoM/syndicate-sub000/internal/insights"
	"github.com/amuzetnoM/syndicate-sub000/internal/lifecycle"
	"github.com/amuzetnoM/syndicate-sub000/internal/publisher"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
	"github.com/amuzetnoM/syndicate-sub000/internal/registry"
	"github.com/amuzetnoM/syndicate-sub000/internal/schedule"
)

type fakeGenerator struct {
	name, docType, cadence string
	dir                    string
	calls                  int
}

func (g *fakeGenerator) Name() string    { return g.name }
func (g *fakeGenerator) DocType() string { return g.docType }
func (g *fakeGenerator) Cadence() string { return g.cadence }
func (g *fakeGenerator) Invoke(ctx context.Context) ([]string, error) {
	g.calls++
	path := filepath.Join(g.dir, "doc.md")
	if err := os.WriteFile(path, []byte("---\nstatus: review\n---\nbody"), 0o644); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, docType, content string) ([]insights.ActionItem, error) {
	return []insights.ActionItem{{ActionType: "research", Priority: 1, Payload: "follow up"}}, nil
}

type fakeTarget struct{ calls int }

func (f *fakeTarget) Publish(ctx context.Context, filePath, content string) (string, error) {
	f.calls++
	return "ref", nil
}

func newTestEngine(t *testing.T, gens []Generator) (*Engine, *fakeTarget) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator-test.db")
	database, err := db.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	lc := lifecycle.New(db.NewLifecycleRepo(database.SQL()))
	lcRepo := db.NewLifecycleRepo(database.SQL())
	sched := schedule.New(db.NewScheduleRepo(database.SQL()))
	if err := sched.EnsureDefaults(context.Background()); err != nil {
		t.Fatalf("EnsureDefaults() error = %v", err)
	}
	cfgRepo := db.NewConfigRepo(database.SQL())
	taskRepo := db.NewTaskRepo(database.SQL())
	logRepo := db.NewExecutionLogRepo(database.SQL())
	q := queue.New(taskRepo, logRepo, 3)
	reg := registry.New()
	daemon := executor.New(executor.DefaultConfig("test-worker"), q, reg, cfgRepo, nil)

	target := &fakeTarget{}
	pub := publisher.New(lc, db.NewPublishRepo(database.SQL()), sched, target, nil)
	insightsEngine := insights.New(lc, q, fakeExtractor{})

	engine := New(gens, lc, lcRepo, sched, insightsEngine, pub, daemon, cfgRepo, nil)
	if err := engine.EnsureGeneratorSchedules(context.Background()); err != nil {
		t.Fatalf("EnsureGeneratorSchedules() error = %v", err)
	}
	return engine, target
}

func TestRunOnceInvokesDueGeneratorsAndRegistersDocuments(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{name: "daily_journal", docType: "reports", cadence: "daily", dir: t.TempDir()}
	engine, target := newTestEngine(t, []Generator{gen})

	result, err := engine.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.calls)
	}
	if result.GeneratorsRun != 1 || result.DocumentsQueued != 1 {
		t.Fatalf("result = %+v, want 1 generator and 1 document", result)
	}
	if result.InsightsCreated != 1 {
		t.Fatalf("InsightsCreated = %d, want 1", result.InsightsCreated)
	}
	if target.calls != 1 {
		t.Fatalf("target.calls = %d, want 1 (document reached review and was ready to publish)", target.calls)
	}
}

func TestRunOnceSkipsGeneratorNotYetDue(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{name: "weekly_report", docType: "reports", cadence: "weekly", dir: t.TempDir()}
	engine, _ := newTestEngine(t, []Generator{gen})

	if _, err := engine.RunOnce(ctx); err != nil {
		t.Fatalf("first RunOnce() error = %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("generator calls after first cycle = %d, want 1", gen.calls)
	}

	// Second cycle immediately after: weekly cadence means it should not re-run.
	if _, err := engine.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("generator calls after second cycle = %d, want still 1 (not yet due)", gen.calls)
	}
}

func TestRunOnceRespectsFeatureToggles(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{name: "daily_journal", docType: "reports", cadence: "daily", dir: t.TempDir()}
	engine, target := newTestEngine(t, []Generator{gen})

	if err := engine.toggles.Set(ctx, TogglePublishing, "false"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := engine.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if target.calls != 0 {
		t.Fatalf("target.calls = %d, want 0 with publishing disabled", target.calls)
	}
}

func TestRunUntilIdleStopsWhenNoNewWork(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{name: "daily_journal", docType: "reports", cadence: "daily", dir: t.TempDir()}
	engine, _ := newTestEngine(t, []Generator{gen})

	result, err := engine.RunUntilIdle(ctx, 0)
	if err != nil {
		t.Fatalf("RunUntilIdle() error = %v", err)
	}
	if result.GeneratorsRun != 0 && !result.Idle() {
		t.Fatalf("expected loop to terminate on an idle cycle, got %+v", result)
	}
}
