package db

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Task states, per the queue state machine: pending -> in_progress -> (completed | failed); a retry releases in_progress -> pending, and failed is terminal.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Lifecycle statuses for generated documents, in their required total order:
// a document only ever advances left to right, except MarkForUpdate's
// explicit published -> in_progress exception.
const (
	LifecycleStatusDraft      = "draft"
	LifecycleStatusInProgress = "in_progress"
	LifecycleStatusReview     = "review"
	LifecycleStatusPublished  = "published"
	LifecycleStatusArchived   = "archived"
)

// lifecycleStatusOrder ranks the statuses above for monotonicity checks.
var lifecycleStatusOrder = map[string]int{
	LifecycleStatusDraft:      0,
	LifecycleStatusInProgress: 1,
	LifecycleStatusReview:     2,
	LifecycleStatusPublished:  3,
	LifecycleStatusArchived:   4,
}

// LifecycleStatusRank returns a lifecycle status's position in the total
// order, or -1 for an unrecognized status.
func LifecycleStatusRank(status string) int {
	if rank, ok := lifecycleStatusOrder[status]; ok {
		return rank
	}
	return -1
}

// Task priority enum, ordered critical > high > medium > low; GetReady sorts
// by this value descending.
const (
	PriorityLow = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Task is a unit of queued work, mirroring the original action_insights table.
type Task struct {
	ID             string     `json:"id" db:"action_id"`
	ActionType     string     `json:"action_type" db:"action_type"`
	Title          string     `json:"title,omitempty" db:"title"`
	Description    string     `json:"description,omitempty" db:"description"`
	SourceReport   string     `json:"source_report,omitempty" db:"source_report"`
	SourceContext  string     `json:"source_context,omitempty" db:"source_context"`
	Priority       int        `json:"priority" db:"priority"`
	Status         string     `json:"status" db:"status"`
	Payload        string     `json:"payload" db:"payload"`
	RetryCount     int        `json:"retry_count" db:"retry_count"`
	MaxRetries     int        `json:"max_retries" db:"max_retries"`
	ScheduledFor   time.Time  `json:"scheduled_for" db:"scheduled_for"`
	Deadline       *time.Time `json:"deadline,omitempty" db:"deadline"`
	ClaimedBy      string     `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	LastError      string     `json:"last_error,omitempty" db:"last_error"`
	ReleaseReason  string     `json:"release_reason,omitempty" db:"release_reason"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// LifecycleRecord tracks a generated document through draft -> published ->
// archived. Fingerprint holds the content_hash used to detect a changed
// document on re-registration; Version increments by exactly 1 on every
// update that changes content_hash or advances status.
type LifecycleRecord struct {
	FilePath    string     `json:"file_path" db:"file_path"`
	DocType     string     `json:"doc_type" db:"doc_type"`
	Status      string     `json:"status" db:"status"`
	Fingerprint string     `json:"fingerprint,omitempty" db:"fingerprint"`
	Version     int        `json:"version" db:"version"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
	ClaimedBy   string     `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
	RemoteID    string     `json:"remote_id,omitempty" db:"remote_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// PublishRecord is one successful (or attempted) sync of a document to the remote target.
type PublishRecord struct {
	ID          string    `json:"id" db:"id"`
	FilePath    string    `json:"file_path" db:"file_path"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	RemoteRef   string    `json:"remote_ref,omitempty" db:"remote_ref"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
}

// ScheduleTracker records the last run of a named recurring task and its cadence.
type ScheduleTracker struct {
	TaskName    string    `json:"task_name" db:"task_name"`
	Cadence     string    `json:"cadence" db:"cadence"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	NextDueAt   time.Time `json:"next_due_at" db:"next_due_at"`
}

// FeatureToggle is a boolean or string switch in the system_config key/value table.
type FeatureToggle struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SanitizerAudit records one LLM-input/output sanitization pass for later audit.
type SanitizerAudit struct {
	ID        string    `json:"id" db:"id"`
	ActionID  string    `json:"action_id,omitempty" db:"action_id"`
	Stage     string    `json:"stage" db:"stage"`
	Findings  string    `json:"findings,omitempty" db:"findings"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ExecutionLogEntry is an immutable append-only record of one task execution attempt.
type ExecutionLogEntry struct {
	ID              string    `json:"id" db:"id"`
	ActionID        string    `json:"action_id" db:"action_id"`
	Success         bool      `json:"success" db:"success"`
	ResultData      string    `json:"result_data,omitempty" db:"result_data"`
	ExecutionTimeMS int64     `json:"execution_time_ms" db:"execution_time_ms"`
	ErrorMessage    string    `json:"error_message,omitempty" db:"error_message"`
	Artifacts       string    `json:"artifacts,omitempty" db:"artifacts"`
	ExecutedAt      time.Time `json:"executed_at" db:"executed_at"`
}

type TaskFilter struct {
	Status     string
	ActionType string
	Limit      int
}

func NewID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatTimestampPtr(ts *time.Time) sql.NullString {
	if ts == nil || ts.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: ts.UTC().Format(time.RFC3339), Valid: true}
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func parseTimestampPtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	ts, err := parseTimestamp(v.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	return string(buf), nil
}

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func stringOrEmpty(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}
