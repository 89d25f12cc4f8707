package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type ScheduleRepo struct {
	db *sql.DB
}

func NewScheduleRepo(db *sql.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

// DefaultSchedules mirrors the original project's _init_default_schedules seed list:
// the named recurring jobs the orchestrator gates on, by cadence.
var DefaultSchedules = map[string]string{
	"journal_publish":          "daily",
	"notion_sync":              "daily",
	"insights_extraction":      "daily",
	"economic_calendar":        "daily",
	"institution_watchlist":    "weekly",
	"task_execution":           "hourly",
	"weekly_report_publish":    "weekly",
	"monthly_report_publish":   "monthly",
	"yearly_report_publish":    "yearly",
}

// EnsureDefaults seeds every named schedule in DefaultSchedules that is not
// already tracked, due immediately on first seed.
func (r *ScheduleRepo) EnsureDefaults(ctx context.Context) error {
	now := formatTimestamp(nowUTC())
	for name, cadence := range DefaultSchedules {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO schedule_tracker (task_name, cadence, next_due_at)
VALUES (?, ?, ?)
ON CONFLICT(task_name) DO NOTHING
`, name, cadence, now)
		if err != nil {
			return fmt.Errorf("failed to seed schedule %q: %w", name, err)
		}
	}
	return nil
}

// EnsureSchedule seeds a single named schedule if it is not already tracked,
// due immediately on first seed. Used by callers (e.g. the orchestrator) that
// register generator names dynamically rather than from DefaultSchedules.
func (r *ScheduleRepo) EnsureSchedule(ctx context.Context, taskName, cadence string) error {
	now := formatTimestamp(nowUTC())
	_, err := r.db.ExecContext(ctx, `
INSERT INTO schedule_tracker (task_name, cadence, next_due_at)
VALUES (?, ?, ?)
ON CONFLICT(task_name) DO NOTHING
`, taskName, cadence, now)
	if err != nil {
		return fmt.Errorf("failed to seed schedule %q: %w", taskName, err)
	}
	return nil
}

func (r *ScheduleRepo) Get(ctx context.Context, taskName string) (*ScheduleTracker, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT task_name, cadence, last_run_at, next_due_at FROM schedule_tracker WHERE task_name = ?
`, taskName)
	var st ScheduleTracker
	var lastRunAt sql.NullString
	var nextDueAtRaw string
	if err := row.Scan(&st.TaskName, &st.Cadence, &lastRunAt, &nextDueAtRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get schedule %q: %w", taskName, err)
	}
	var err error
	if st.NextDueAt, err = parseTimestamp(nextDueAtRaw); err != nil {
		return nil, err
	}
	if st.LastRunAt, err = parseTimestampPtr(lastRunAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// ShouldRunNow reports whether taskName is due: either never run, or the
// cadence interval has elapsed since last_run_at.
func (r *ScheduleRepo) ShouldRunNow(ctx context.Context, taskName string) (bool, error) {
	st, err := r.Get(ctx, taskName)
	if err != nil {
		return false, err
	}
	if st == nil {
		return true, nil
	}
	if st.LastRunAt == nil {
		return true, nil
	}
	return !nowUTC().Before(st.NextDueAt), nil
}

// MarkRun records taskName as having just run, advancing next_due_at by its cadence interval.
func (r *ScheduleRepo) MarkRun(ctx context.Context, taskName string) error {
	st, err := r.Get(ctx, taskName)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("schedule %q is not tracked", taskName)
	}
	now := nowUTC()
	next := now.Add(cadenceInterval(st.Cadence))
	_, err = r.db.ExecContext(ctx, `
UPDATE schedule_tracker SET last_run_at = ?, next_due_at = ? WHERE task_name = ?
`, formatTimestamp(now), formatTimestamp(next), taskName)
	if err != nil {
		return fmt.Errorf("failed to mark schedule %q run: %w", taskName, err)
	}
	return nil
}

func (r *ScheduleRepo) Status(ctx context.Context) ([]*ScheduleTracker, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT task_name, cadence, last_run_at, next_due_at FROM schedule_tracker ORDER BY task_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule status: %w", err)
	}
	defer rows.Close()

	var result []*ScheduleTracker
	for rows.Next() {
		var st ScheduleTracker
		var lastRunAt sql.NullString
		var nextDueAtRaw string
		if err := rows.Scan(&st.TaskName, &st.Cadence, &lastRunAt, &nextDueAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan schedule status row: %w", err)
		}
		var perr error
		if st.NextDueAt, perr = parseTimestamp(nextDueAtRaw); perr != nil {
			return nil, perr
		}
		if st.LastRunAt, perr = parseTimestampPtr(lastRunAt); perr != nil {
			return nil, perr
		}
		result = append(result, &st)
	}
	return result, rows.Err()
}

func cadenceInterval(cadence string) time.Duration {
	switch cadence {
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	case "weekly":
		return 7 * 24 * time.Hour
	case "monthly":
		return 30 * 24 * time.Hour
	case "yearly":
		return 365 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
