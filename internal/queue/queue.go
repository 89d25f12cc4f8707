// Package queue is the Task Queue component: it wraps internal/db's
// TaskRepo/ExecutionLogRepo with boundary validation and the tagged Outcome
// result handlers return, instead of relying on string-matched errors.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
)

// OutcomeKind classifies how a task execution attempt ended, so retry and
// quota-backoff policy can be applied without re-parsing an error string.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeQuota
	OutcomeRetriable
	OutcomePermanent
)

// Outcome is what a Handler returns instead of a bare error, so the executor
// never has to re-derive retry policy from an error string.
type Outcome struct {
	Kind    OutcomeKind
	Err     error
	Result  string
	Artifacts string
}

// Handler executes one task's action_type-specific work.
type Handler func(ctx context.Context, task *db.Task) Outcome

var enqueueValidate = validator.New()

// EnqueueInput is the boundary-validated shape callers build before
// Enqueue persists it. Priority is restricted to the enumerated
// critical/high/medium/low set (db.PriorityCritical..db.PriorityLow).
// MaxRetries is a pointer so "unset" (inherit the queue's configured
// default) is distinguishable from an explicit 0 ("never retry"); -1 means
// retry forever.
type EnqueueInput struct {
	ActionID      string    `validate:"omitempty,max=128"`
	ActionType    string    `validate:"required,max=64"`
	Title         string    `validate:"omitempty,max=256"`
	Description   string
	SourceReport  string
	SourceContext string
	Priority      int `validate:"oneof=0 1 2 3"`
	Payload       string
	ScheduledFor  time.Time
	Deadline      time.Time
	MaxRetries    *int `validate:"omitempty,min=-1,max=1000"`
}

type Queue struct {
	tasks             *db.TaskRepo
	logs              *db.ExecutionLogRepo
	defaultMaxRetries int
}

// New builds a Queue whose EnqueueInput.MaxRetries, when left unset, falls
// back to defaultMaxRetries (the MAX_RETRIES environment tunable).
func New(tasks *db.TaskRepo, logs *db.ExecutionLogRepo, defaultMaxRetries int) *Queue {
	return &Queue{tasks: tasks, logs: logs, defaultMaxRetries: defaultMaxRetries}
}

// SetDefaultMaxRetries updates the fallback applied to future Enqueue calls
// that leave MaxRetries unset, letting a SIGHUP config reload take effect
// without restarting the daemon.
func (q *Queue) SetDefaultMaxRetries(n int) {
	q.defaultMaxRetries = n
}

// Enqueue validates input and inserts (or idempotently upserts, if still
// pending) a task.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (*db.Task, error) {
	if err := enqueueValidate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid task input: %w", err)
	}
	maxRetries := q.defaultMaxRetries
	if in.MaxRetries != nil {
		maxRetries = *in.MaxRetries
	}
	var deadline *time.Time
	if !in.Deadline.IsZero() {
		d := in.Deadline
		deadline = &d
	}
	t := &db.Task{
		ID:            in.ActionID,
		ActionType:    in.ActionType,
		Title:         in.Title,
		Description:   in.Description,
		SourceReport:  in.SourceReport,
		SourceContext: in.SourceContext,
		Priority:      in.Priority,
		Payload:       in.Payload,
		ScheduledFor:  in.ScheduledFor,
		Deadline:      deadline,
		MaxRetries:    maxRetries,
	}
	if err := q.tasks.Enqueue(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (q *Queue) GetReady(ctx context.Context, limit int) ([]*db.Task, error) {
	return q.tasks.GetReady(ctx, limit)
}

func (q *Queue) GetScheduled(ctx context.Context, limit int) ([]*db.Task, error) {
	return q.tasks.GetScheduled(ctx, limit)
}

func (q *Queue) Claim(ctx context.Context, actionID, workerID string) (bool, error) {
	return q.tasks.Claim(ctx, actionID, workerID)
}

// Release returns a claimed task to pending with reason recorded and an
// optional backoff delay. It reports false if the task was not in_progress
// (already finished, or never claimed).
func (q *Queue) Release(ctx context.Context, actionID, reason string, delay time.Duration) (bool, error) {
	return q.tasks.Release(ctx, actionID, reason, delay)
}

func (q *Queue) ResetStuck(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	return q.tasks.ResetStuck(ctx, staleAfter)
}

func (q *Queue) CountByStatus(ctx context.Context) (map[string]int, error) {
	return q.tasks.CountByStatus(ctx)
}

// Finish applies outcome to task: complete, permanent failure, or a
// rescheduled retry with exponential backoff capped at maxBackoff — the
// caller (internal/executor) supplies the backoff policy so Finish stays a
// pure state-transition function.
func (q *Queue) Finish(ctx context.Context, task *db.Task, outcome Outcome, nextAttempt time.Time) error {
	if err := q.logExecution(ctx, task, outcome); err != nil {
		return err
	}

	switch outcome.Kind {
	case OutcomeOK:
		return q.tasks.MarkComplete(ctx, task.ID)
	case OutcomePermanent:
		msg := ""
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		return q.tasks.MarkFailed(ctx, task.ID, msg)
	case OutcomeQuota, OutcomeRetriable:
		msg := ""
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		// MaxRetries < 0 means retry forever; otherwise a task whose
		// retry_count (retries already granted, not counting the attempt just
		// made) has reached MaxRetries fails permanently instead of being
		// released again.
		if task.MaxRetries >= 0 && task.RetryCount >= task.MaxRetries {
			return q.tasks.MarkFailed(ctx, task.ID, msg)
		}
		retryCount, err := q.tasks.IncrementRetry(ctx, task.ID, msg)
		if err != nil {
			return err
		}
		reason := fmt.Sprintf("retry_%d", retryCount)
		if outcome.Kind == OutcomeQuota {
			reason = fmt.Sprintf("quota_retry_%d", retryCount)
		}
		delay := time.Until(nextAttempt)
		if _, err := q.tasks.Release(ctx, task.ID, reason, delay); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unhandled outcome kind %d for task %q", outcome.Kind, task.ID)
	}
}

func (q *Queue) logExecution(ctx context.Context, task *db.Task, outcome Outcome) error {
	entry := &db.ExecutionLogEntry{
		ActionID:   task.ID,
		Success:    outcome.Kind == OutcomeOK,
		ResultData: outcome.Result,
		Artifacts:  outcome.Artifacts,
	}
	if outcome.Err != nil {
		entry.ErrorMessage = outcome.Err.Error()
	}
	return q.logs.LogExecution(ctx, entry)
}
