package orchestrator

import (
	"context"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/watch"
)

// RunWatch drives the orchestrator event-rather-than-poll: it runs one
// cycle up front, then watches dirs for the Create/Rename events a
// generator's atomic write produces and runs a fresh cycle (coalesced via a
// trailing debounce so a burst of files triggers one cycle, not N) until
// ctx is cancelled. Complements RunCron/RunUntilIdle for deployments that
// would rather react to output than poll a fixed interval — generators are
// expected to write files atomically, with a header block present on
// completion, so a watch event always corresponds to a finished document.
func (e *Engine) RunWatch(ctx context.Context, dirs []string, coalesce time.Duration) error {
	if coalesce <= 0 {
		coalesce = time.Second
	}

	if _, err := e.RunOnce(ctx); err != nil {
		e.logger.Error("initial watch cycle failed", "error", err)
	}

	w, err := watch.New(dirs, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			e.logger.Error("watcher close failed", "error", cerr)
		}
	}()

	events := make(chan watch.Event, 32)
	go w.Run(ctx, events)

	var pending bool
	timer := time.NewTimer(coalesce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("watch mode stopping")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.logger.Debug("watch event received", "file_path", ev.Path)
			if !pending {
				pending = true
				timer.Reset(coalesce)
			}
		case <-timer.C:
			pending = false
			result, err := e.RunOnce(ctx)
			if err != nil {
				e.logger.Error("watch-triggered cycle failed", "error", err)
				continue
			}
			e.logger.Info("watch-triggered cycle complete",
				"generators_run", result.GeneratorsRun,
				"documents_queued", result.DocumentsQueued,
				"insights_created", result.InsightsCreated,
				"tasks_executed", result.TasksExecuted,
				"documents_published", result.DocumentsPublish,
			)
		}
	}
}
