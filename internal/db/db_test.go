package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syndicate-test.db")
	database, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database, path
}

func assertTableExists(t *testing.T, conn *sql.DB, table string) {
	t.Helper()
	var name string
	err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
	if err != nil {
		t.Fatalf("table %q does not exist: %v", table, err)
	}
}

func TestOpenCreatesDBFileAndRunsMigrations(t *testing.T) {
	database, _ := openTestDB(t)
	conn := database.SQL()

	for _, table := range []string{"tasks", "document_lifecycle", "publish_records", "schedule_tracker", "system_config", "task_execution_log", "llm_sanitizer_audit"} {
		assertTableExists(t, conn, table)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database, path := openTestDB(t)
	_ = database.Close()

	reopened, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	assertTableExists(t, reopened.SQL(), "tasks")
}

func TestTaskRepoEnqueueClaimAndComplete(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepo(database.SQL())

	task := &Task{ID: "ACT-20260101-0001", ActionType: "research", Priority: PriorityHigh, Payload: "{}"}
	if err := repo.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ready, err := repo.GetReady(ctx, 10)
	if err != nil {
		t.Fatalf("GetReady() error = %v", err)
	}
	if len(ready) != 1 || ready[0].ID != task.ID {
		t.Fatalf("GetReady() = %+v, want one ready task", ready)
	}

	ok, err := repo.Claim(ctx, task.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !ok {
		t.Fatalf("Claim() = false, want true")
	}

	// A second claim attempt must lose the race.
	ok, err = repo.Claim(ctx, task.ID, "worker-2")
	if err != nil {
		t.Fatalf("second Claim() error = %v", err)
	}
	if ok {
		t.Fatalf("second Claim() = true, want false (already claimed)")
	}

	if err := repo.MarkComplete(ctx, task.ID); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}

	got, err := repo.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != TaskStatusCompleted {
		t.Fatalf("Status = %q, want %q", got.Status, TaskStatusCompleted)
	}
}

func TestTaskRepoIncrementRetryReschedules(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepo(database.SQL())

	task := &Task{ID: "ACT-20260101-0002", ActionType: "monitoring"}
	if err := repo.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := repo.Claim(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	retryCount, err := repo.IncrementRetry(ctx, task.ID, "transient failure")
	if err != nil {
		t.Fatalf("IncrementRetry() error = %v", err)
	}
	if retryCount != 1 {
		t.Fatalf("IncrementRetry() = %d, want 1", retryCount)
	}

	// IncrementRetry alone leaves the task in_progress; Release performs the
	// actual state transition and applies the backoff delay.
	got, err := repo.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != TaskStatusInProgress {
		t.Fatalf("Status = %q, want %q", got.Status, TaskStatusInProgress)
	}

	released, err := repo.Release(ctx, task.ID, "retry_1", time.Hour)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !released {
		t.Fatalf("Release() = false, want true")
	}

	got, err = repo.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != TaskStatusPending {
		t.Fatalf("Status = %q, want %q", got.Status, TaskStatusPending)
	}
	if got.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.ClaimedBy != "" {
		t.Fatalf("ClaimedBy = %q, want empty after retry", got.ClaimedBy)
	}

	ready, err := repo.GetReady(ctx, 10)
	if err != nil {
		t.Fatalf("GetReady() error = %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("GetReady() = %+v, want none (rescheduled into the future)", ready)
	}
}

func TestTaskRepoResetStuckRecoversOrphans(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepo(database.SQL())

	task := &Task{ID: "ACT-20260101-0003", ActionType: "data_fetch"}
	if err := repo.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := repo.Claim(ctx, task.ID, "worker-dead"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	// Force the claimed_at timestamp into the past to simulate a stale claim.
	past := formatTimestamp(time.Now().UTC().Add(-2 * time.Hour))
	if _, err := database.SQL().ExecContext(ctx, `UPDATE tasks SET claimed_at = ? WHERE action_id = ?`, past, task.ID); err != nil {
		t.Fatalf("failed to backdate claimed_at: %v", err)
	}

	reset, err := repo.ResetStuck(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ResetStuck() error = %v", err)
	}
	if len(reset) != 1 || reset[0] != task.ID {
		t.Fatalf("ResetStuck() = %+v, want [%s]", reset, task.ID)
	}

	got, err := repo.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != TaskStatusPending {
		t.Fatalf("Status = %q, want %q", got.Status, TaskStatusPending)
	}
}

func TestExecutionLogRepoLogsEveryAttempt(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	repo := NewExecutionLogRepo(database.SQL())

	for i := 0; i < 3; i++ {
		entry := &ExecutionLogEntry{ActionID: "ACT-1", Success: i == 2, ErrorMessage: "retrying"}
		if err := repo.LogExecution(ctx, entry); err != nil {
			t.Fatalf("LogExecution() error = %v", err)
		}
	}

	entries, err := repo.ListByAction(ctx, "ACT-1")
	if err != nil {
		t.Fatalf("ListByAction() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if !entries[2].Success {
		t.Fatalf("final entry Success = false, want true")
	}
}

func TestLifecycleRepoRegisterAndSyncReadiness(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	repo := NewLifecycleRepo(database.SQL())

	path := "/docs/reports/2026-01-01-weekly.md"
	if err := repo.Register(ctx, path, "weekly_report", "hash-v1", LifecycleStatusDraft); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	safe, err := repo.IsSafeToOverwrite(ctx, path)
	if err != nil {
		t.Fatalf("IsSafeToOverwrite() error = %v", err)
	}
	if !safe {
		t.Fatalf("IsSafeToOverwrite() = false, want true for draft")
	}

	ready, err := repo.IsReadyForSync(ctx, path)
	if err != nil {
		t.Fatalf("IsReadyForSync() error = %v", err)
	}
	if ready {
		t.Fatalf("IsReadyForSync() = true, want false while draft")
	}

	if err := repo.UpdateStatus(ctx, path, LifecycleStatusInProgress, ""); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.UpdateStatus(ctx, path, LifecycleStatusReview, ""); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.UpdateStatus(ctx, path, LifecycleStatusPublished, "notion-page-1"); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	safe, err = repo.IsSafeToOverwrite(ctx, path)
	if err != nil {
		t.Fatalf("IsSafeToOverwrite() error = %v", err)
	}
	if safe {
		t.Fatalf("IsSafeToOverwrite() = true, want false once published")
	}

	ready, err = repo.IsReadyForSync(ctx, path)
	if err != nil {
		t.Fatalf("IsReadyForSync() error = %v", err)
	}
	if !ready {
		t.Fatalf("IsReadyForSync() = false, want true once published")
	}

	rec, err := repo.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.PublishedAt == nil {
		t.Fatalf("PublishedAt = nil, want non-nil once published")
	}
	if rec.RemoteID != "notion-page-1" {
		t.Fatalf("RemoteID = %q, want %q", rec.RemoteID, "notion-page-1")
	}

	if err := repo.UpdateStatus(ctx, path, LifecycleStatusDraft, ""); err == nil {
		t.Fatalf("UpdateStatus() regression to draft = nil error, want rejection")
	}
}

func TestScheduleRepoShouldRunNow(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	repo := NewScheduleRepo(database.SQL())

	if err := repo.EnsureDefaults(ctx); err != nil {
		t.Fatalf("EnsureDefaults() error = %v", err)
	}

	due, err := repo.ShouldRunNow(ctx, "journal_publish")
	if err != nil {
		t.Fatalf("ShouldRunNow() error = %v", err)
	}
	if !due {
		t.Fatalf("ShouldRunNow() = false, want true before first run")
	}

	if err := repo.MarkRun(ctx, "journal_publish"); err != nil {
		t.Fatalf("MarkRun() error = %v", err)
	}

	due, err = repo.ShouldRunNow(ctx, "journal_publish")
	if err != nil {
		t.Fatalf("ShouldRunNow() error = %v", err)
	}
	if due {
		t.Fatalf("ShouldRunNow() = true, want false right after a daily run")
	}
}

func TestConfigRepoCompareAndSwapLeaderElection(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	repo := NewConfigRepo(database.SQL())

	won, err := repo.CompareAndSwap(ctx, "executor_leader", "", "worker-1|100")
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if !won {
		t.Fatalf("first CompareAndSwap() = false, want true")
	}

	won, err = repo.CompareAndSwap(ctx, "executor_leader", "", "worker-2|101")
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if won {
		t.Fatalf("second CompareAndSwap() = true, want false (leader already set)")
	}

	won, err = repo.CompareAndSwap(ctx, "executor_leader", "worker-1|100", "worker-2|101")
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if !won {
		t.Fatalf("steal CompareAndSwap() = false, want true when old value matches")
	}
}
