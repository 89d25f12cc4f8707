package orchestrator

import (
	"context"
	"time"
)

// RunUntilIdle repeats RunOnce until a cycle produces no new work (no
// documents queued, no insights, no tasks executed, nothing published), or
// ctx is cancelled. Backs the --wait-forever CLI mode.
func (e *Engine) RunUntilIdle(ctx context.Context, pollInterval time.Duration) (CycleResult, error) {
	var last CycleResult
	for {
		result, err := e.RunOnce(ctx)
		if err != nil {
			return result, err
		}
		last = result
		if result.Idle() {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// RunUntilIdleOrTimeout behaves like RunUntilIdle but gives up after maxWait.
func (e *Engine) RunUntilIdleOrTimeout(ctx context.Context, pollInterval, maxWait time.Duration) (CycleResult, error) {
	deadline := time.Now().Add(maxWait)
	var last CycleResult
	for {
		result, err := e.RunOnce(ctx)
		if err != nil {
			return result, err
		}
		last = result
		if result.Idle() || time.Now().After(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
