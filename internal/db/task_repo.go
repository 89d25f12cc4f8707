package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

// Enqueue inserts a new task, or upserts payload/priority/scheduled_for onto
// an existing pending task with the same action_id (idempotent re-enqueue).
func (r *TaskRepo) Enqueue(ctx context.Context, t *Task) error {
	if t.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		t.ID = id
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.ScheduledFor.IsZero() {
		t.ScheduledFor = nowUTC()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = nowUTC()
	}
	t.UpdatedAt = t.CreatedAt

	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (action_id, action_type, title, description, source_report, source_context, priority, status, payload, retry_count, max_retries, scheduled_for, deadline, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
ON CONFLICT(action_id) DO UPDATE SET
	title = excluded.title,
	description = excluded.description,
	payload = excluded.payload,
	priority = excluded.priority,
	scheduled_for = excluded.scheduled_for,
	deadline = excluded.deadline,
	updated_at = excluded.updated_at
WHERE tasks.status = 'pending'
`, t.ID, t.ActionType, nullIfEmpty(t.Title), nullIfEmpty(t.Description), nullIfEmpty(t.SourceReport), nullIfEmpty(t.SourceContext), t.Priority, t.Status, t.Payload, t.MaxRetries, formatTimestamp(t.ScheduledFor), formatTimestampPtr(t.Deadline), formatTimestamp(t.CreatedAt), formatTimestamp(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue task %q: %w", t.ID, err)
	}
	return nil
}

// GetReady returns pending tasks whose scheduled_for has arrived, highest
// priority first, earliest scheduled_for first within a priority band, then
// oldest created_at, with action_id as the final tie-break.
func (r *TaskRepo) GetReady(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT action_id, action_type, title, description, source_report, source_context, priority, status, payload, retry_count, max_retries, scheduled_for, deadline, claimed_by, claimed_at, last_error, release_reason, created_at, updated_at
FROM tasks
WHERE status = 'pending' AND scheduled_for <= ?
ORDER BY priority DESC, scheduled_for ASC, created_at ASC, action_id ASC
LIMIT ?
`, formatTimestamp(nowUTC()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetScheduled returns pending tasks whose scheduled_for is still in the future.
func (r *TaskRepo) GetScheduled(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT action_id, action_type, title, description, source_report, source_context, priority, status, payload, retry_count, max_retries, scheduled_for, deadline, claimed_by, claimed_at, last_error, release_reason, created_at, updated_at
FROM tasks
WHERE status = 'pending' AND scheduled_for > ?
ORDER BY scheduled_for ASC
LIMIT ?
`, formatTimestamp(nowUTC()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Claim atomically transitions a pending task to in_progress for workerID.
// It reports whether the claim succeeded (false means another worker won
// the race or the task no longer qualifies).
func (r *TaskRepo) Claim(ctx context.Context, actionID, workerID string) (bool, error) {
	now := formatTimestamp(nowUTC())
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET status = 'in_progress', claimed_by = ?, claimed_at = ?, updated_at = ?
WHERE action_id = ? AND status = 'pending'
`, workerID, now, now, actionID)
	if err != nil {
		return false, fmt.Errorf("failed to claim task %q: %w", actionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for task %q: %w", actionID, err)
	}
	return affected > 0, nil
}

// Release returns a claimed task to pending, clearing claim fields and
// recording reason. Only a task currently in_progress is a legal source;
// it reports whether the release applied (false if the task was not
// in_progress, e.g. already completed/failed or never claimed). delay, if
// positive, advances scheduled_for by that much to impose backoff before
// the task is eligible again.
func (r *TaskRepo) Release(ctx context.Context, actionID, reason string, delay time.Duration) (bool, error) {
	now := nowUTC()
	scheduledFor := now
	if delay > 0 {
		scheduledFor = now.Add(delay)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET status = 'pending', claimed_by = NULL, claimed_at = NULL, release_reason = ?, scheduled_for = ?, updated_at = ?
WHERE action_id = ? AND status = 'in_progress'
`, nullIfEmpty(reason), formatTimestamp(scheduledFor), formatTimestamp(now), actionID)
	if err != nil {
		return false, fmt.Errorf("failed to release task %q: %w", actionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read release result for task %q: %w", actionID, err)
	}
	return affected > 0, nil
}

func (r *TaskRepo) MarkComplete(ctx context.Context, actionID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET status = 'completed', claimed_by = NULL, claimed_at = NULL, last_error = NULL, updated_at = ?
WHERE action_id = ?
`, formatTimestamp(nowUTC()), actionID)
	if err != nil {
		return fmt.Errorf("failed to mark task %q complete: %w", actionID, err)
	}
	return nil
}

// MarkFailed transitions a task to its terminal failed state (retries exhausted
// or the handler classified the error as permanent).
func (r *TaskRepo) MarkFailed(ctx context.Context, actionID, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET status = 'failed', claimed_by = NULL, claimed_at = NULL, last_error = ?, updated_at = ?
WHERE action_id = ?
`, lastError, formatTimestamp(nowUTC()), actionID)
	if err != nil {
		return fmt.Errorf("failed to mark task %q failed: %w", actionID, err)
	}
	return nil
}

// IncrementRetry bumps retry_count and records lastError without touching
// status or the claim — it leaves the task in_progress so a subsequent
// Release call (which requires that status) performs the actual state
// transition and records the release reason in one caller-visible step. It
// returns the retry_count after the increment.
func (r *TaskRepo) IncrementRetry(ctx context.Context, actionID, lastError string) (int, error) {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET retry_count = retry_count + 1, last_error = ?, updated_at = ? WHERE action_id = ?
`, lastError, formatTimestamp(nowUTC()), actionID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry for task %q: %w", actionID, err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT retry_count FROM tasks WHERE action_id = ?`, actionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read retry count for task %q: %w", actionID, err)
	}
	return n, nil
}

// ResetStuck returns in_progress tasks claimed longer than staleAfter to
// pending, for orphan recovery when a worker dies mid-task. It returns the
// action_ids it reset.
func (r *TaskRepo) ResetStuck(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	cutoff := formatTimestamp(nowUTC().Add(-staleAfter))
	rows, err := r.db.QueryContext(ctx, `
SELECT action_id FROM tasks WHERE status = 'in_progress' AND claimed_at < ?
`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stuck task id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating stuck tasks: %w", err)
	}

	for _, id := range ids {
		if _, err := r.Release(ctx, id, "orphan_recovery", 0); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (r *TaskRepo) Get(ctx context.Context, actionID string) (*Task, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT action_id, action_type, title, description, source_report, source_context, priority, status, payload, retry_count, max_retries, scheduled_for, deadline, claimed_by, claimed_at, last_error, release_reason, created_at, updated_at
FROM tasks WHERE action_id = ?
`, actionID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *TaskRepo) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := `SELECT action_id, action_type, title, description, source_report, source_context, priority, status, payload, retry_count, max_retries, scheduled_for, deadline, claimed_by, claimed_at, last_error, release_reason, created_at, updated_at FROM tasks`
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ActionType != "" {
		where = append(where, "action_type = ?")
		args = append(args, filter.ActionType)
	}
	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CountByStatus returns the number of tasks in each status, for queue-depth
// health reporting.
func (r *TaskRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var scheduledForRaw, createdAtRaw, updatedAtRaw string
	var title, description, sourceReport, sourceContext, deadline sql.NullString
	var claimedBy, claimedAt, lastError, releaseReason sql.NullString
	if err := row.Scan(
		&t.ID, &t.ActionType, &title, &description, &sourceReport, &sourceContext,
		&t.Priority, &t.Status, &t.Payload, &t.RetryCount, &t.MaxRetries,
		&scheduledForRaw, &deadline, &claimedBy, &claimedAt, &lastError, &releaseReason,
		&createdAtRaw, &updatedAtRaw,
	); err != nil {
		return nil, err
	}
	var err error
	if t.ScheduledFor, err = parseTimestamp(scheduledForRaw); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	if t.ClaimedAt, err = parseTimestampPtr(claimedAt); err != nil {
		return nil, err
	}
	if t.Deadline, err = parseTimestampPtr(deadline); err != nil {
		return nil, err
	}
	t.Title = stringOrEmpty(title)
	t.Description = stringOrEmpty(description)
	t.SourceReport = stringOrEmpty(sourceReport)
	t.SourceContext = stringOrEmpty(sourceContext)
	t.ClaimedBy = stringOrEmpty(claimedBy)
	t.LastError = stringOrEmpty(lastError)
	t.ReleaseReason = stringOrEmpty(releaseReason)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating tasks: %w", err)
	}
	return tasks, nil
}
