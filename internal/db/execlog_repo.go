package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/metrics"
)

type ExecutionLogRepo struct {
	db *sql.DB
}

func NewExecutionLogRepo(db *sql.DB) *ExecutionLogRepo {
	return &ExecutionLogRepo{db: db}
}

// transientStorageRetries/backoff bound the narrow internal retry used only
// for LogExecution, which must not silently drop an execution record on a
// momentary SQLITE_BUSY from a concurrent reader.
const (
	transientStorageRetries = 3
	transientStorageBackoff = 50 * time.Millisecond
)

// LogExecution appends one immutable execution record. It retries a small,
// fixed number of times on a transient storage error (e.g. SQLITE_BUSY
// surfaced despite busy_timeout), with exponential backoff and one
// metrics.ExecutionLogRetries increment per retry, before surfacing the
// failure.
func (r *ExecutionLogRepo) LogExecution(ctx context.Context, e *ExecutionLogEntry) error {
	if e.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = nowUTC()
	}

	var lastErr error
	for attempt := 0; attempt <= transientStorageRetries; attempt++ {
		if attempt > 0 {
			metrics.ExecutionLogRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(transientStorageBackoff << (attempt - 1)):
			}
		}
		_, err := r.db.ExecContext(ctx, `
INSERT INTO task_execution_log (id, action_id, success, result_data, execution_time_ms, error_message, artifacts, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, e.ID, e.ActionID, boolToInt(e.Success), e.ResultData, e.ExecutionTimeMS, e.ErrorMessage, e.Artifacts, formatTimestamp(e.ExecutedAt))
		if err == nil {
			return nil
		}
		if !isTransientStorageError(err) {
			return fmt.Errorf("failed to log execution for task %q: %w", e.ActionID, err)
		}
		lastErr = err
	}
	return fmt.Errorf("failed to log execution for task %q after %d retries: %w", e.ActionID, transientStorageRetries, lastErr)
}

func (r *ExecutionLogRepo) ListByAction(ctx context.Context, actionID string) ([]*ExecutionLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, action_id, success, result_data, execution_time_ms, error_message, artifacts, executed_at
FROM task_execution_log WHERE action_id = ? ORDER BY executed_at ASC
`, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution log for task %q: %w", actionID, err)
	}
	defer rows.Close()

	var entries []*ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		var successInt int
		var executedAtRaw string
		var resultData, errorMessage, artifacts sql.NullString
		if err := rows.Scan(&e.ID, &e.ActionID, &successInt, &resultData, &e.ExecutionTimeMS, &errorMessage, &artifacts, &executedAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan execution log row: %w", err)
		}
		e.Success = successInt != 0
		e.ResultData = stringOrEmpty(resultData)
		e.ErrorMessage = stringOrEmpty(errorMessage)
		e.Artifacts = stringOrEmpty(artifacts)
		ts, err := parseTimestamp(executedAtRaw)
		if err != nil {
			return nil, err
		}
		e.ExecutedAt = ts
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isTransientStorageError recognizes SQLite's busy/locked conditions, which
// busy_timeout mostly absorbs but can still surface under sustained
// contention; anything else is treated as permanent.
func isTransientStorageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "sqlite_busy")
}
