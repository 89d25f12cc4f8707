package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
	"github.com/amuzetnoM/syndicate-sub000/internal/registry"
)

func newTestDaemon(t *testing.T) (*Daemon, *queue.Queue, *db.ConfigRepo, *db.TaskRepo) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "executor-test.db")
	database, err := db.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	taskRepo := db.NewTaskRepo(database.SQL())
	q := queue.New(taskRepo, db.NewExecutionLogRepo(database.SQL()), 3)
	reg := registry.New()
	cfgRepo := db.NewConfigRepo(database.SQL())

	cfg := DefaultConfig("test-worker")
	cfg.PollInterval = time.Millisecond
	cfg.OrphanTimeout = time.Hour
	d := New(cfg, q, reg, cfgRepo, nil)
	return d, q, cfgRepo, taskRepo
}

func TestExecuteTaskSuccessMarksComplete(t *testing.T) {
	ctx := context.Background()
	d, q, _, _ := newTestDaemon(t)
	d.registry.Register("research", func(ctx context.Context, task *db.Task) queue.Outcome {
		return queue.Outcome{Kind: queue.OutcomeOK, Result: "done"}
	})

	task, err := q.Enqueue(ctx, queue.EnqueueInput{ActionType: "research"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := d.ExecuteTask(ctx, task); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	got, err := d.queue.GetReady(ctx, 10)
	if err != nil {
		t.Fatalf("GetReady() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("GetReady() = %+v, want none left ready", got)
	}
}

func TestExecuteTaskQuotaErrorReschedules(t *testing.T) {
	ctx := context.Background()
	d, q, _, _ := newTestDaemon(t)
	d.registry.Register("monitoring", func(ctx context.Context, task *db.Task) queue.Outcome {
		return queue.Outcome{Kind: queue.OutcomeQuota, Err: errors.New("rate limit exceeded, try later")}
	})

	task, err := q.Enqueue(ctx, queue.EnqueueInput{ActionType: "monitoring", MaxRetries: intPtr(5)})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := d.ExecuteTask(ctx, task); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	got, err := q.GetReady(ctx, 10)
	if err != nil {
		t.Fatalf("GetReady() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("GetReady() = %+v, want none ready yet (rescheduled into the future)", got)
	}
}

func TestExecuteTaskPermanentErrorFailsImmediately(t *testing.T) {
	ctx := context.Background()
	d, q, _, taskRepo := newTestDaemon(t)
	d.registry.Register("data_fetch", func(ctx context.Context, task *db.Task) queue.Outcome {
		return queue.Outcome{Kind: queue.OutcomePermanent, Err: errors.New("invalid configuration")}
	})

	task, err := q.Enqueue(ctx, queue.EnqueueInput{ActionType: "data_fetch"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := d.ExecuteTask(ctx, task); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}

	refreshed, err := taskRepo.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if refreshed.Status != db.TaskStatusFailed {
		t.Fatalf("Status = %q, want %q", refreshed.Status, db.TaskStatusFailed)
	}
}

func TestLeaderElectionStealsStaleLock(t *testing.T) {
	ctx := context.Background()
	d, _, cfgRepo, _ := newTestDaemon(t)
	c := *d.cfg.Load()
	c.LeaderTTL = time.Minute
	d.ReloadConfig(c)

	stale := time.Now().UTC().Add(-time.Hour).Unix()
	if err := cfgRepo.Set(ctx, "executor_leader", "other-worker|"+itoa(stale)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	d.tryElect(ctx)

	if !d.isLeader {
		t.Fatalf("isLeader = false, want true after stealing a stale lock")
	}
}

func TestExecuteTaskDryRunReleasesInsteadOfRunning(t *testing.T) {
	ctx := context.Background()
	d, q, _, _ := newTestDaemon(t)
	c := *d.cfg.Load()
	c.DryRun = true
	d.ReloadConfig(c)
	called := false
	d.registry.Register("research", func(ctx context.Context, task *db.Task) queue.Outcome {
		called = true
		return queue.Outcome{Kind: queue.OutcomeOK}
	})

	task, err := q.Enqueue(ctx, queue.EnqueueInput{ActionType: "research"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := d.ExecuteTask(ctx, task); err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}
	if called {
		t.Fatal("handler was invoked in dry-run mode")
	}

	got, err := q.GetReady(ctx, 10)
	if err != nil {
		t.Fatalf("GetReady() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetReady() = %+v, want the task back in pending", got)
	}
	if got[0].ReleaseReason != "dry_run" {
		t.Fatalf("ReleaseReason = %q, want %q", got[0].ReleaseReason, "dry_run")
	}
}

func TestReleaseOnNonInProgressTaskReturnsFalse(t *testing.T) {
	ctx := context.Background()
	_, q, _, _ := newTestDaemon(t)
	task, err := q.Enqueue(ctx, queue.EnqueueInput{ActionType: "research"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	released, err := q.Release(ctx, task.ID, "manual", 0)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if released {
		t.Fatal("Release() = true, want false for a task that was never claimed")
	}
}

func TestDrainStopsWhenQueueEmpty(t *testing.T) {
	ctx := context.Background()
	d, q, _, _ := newTestDaemon(t)
	d.registry.Register("research", func(ctx context.Context, task *db.Task) queue.Outcome {
		return queue.Outcome{Kind: queue.OutcomeOK}
	})

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, queue.EnqueueInput{ActionType: "research"}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	n, err := d.Drain(ctx, 0)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("Drain() = %d, want 3", n)
	}

	n, err = d.Drain(ctx, 0)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("second Drain() = %d, want 0 on an empty queue", n)
	}
}

func TestReleaseCurrentIsNoOpWithoutAClaim(t *testing.T) {
	ctx := context.Background()
	d, _, _, _ := newTestDaemon(t)
	if err := d.ReleaseCurrent(ctx, "daemon_exit"); err != nil {
		t.Fatalf("ReleaseCurrent() error = %v", err)
	}
}

func intPtr(n int) *int { return &n }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
