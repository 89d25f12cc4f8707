package orchestrator

import (
	"context"

	"github.com/robfig/cron/v3"
)

// RunCron drives the orchestrator continuously on a cron expression (e.g.
// "*/15 * * * *"), running one RunOnce cycle per tick until ctx is
// cancelled. Per-generator cadence gating still lives in schedule_tracker,
// so the cron tick only needs to be frequent enough to catch each
// generator's own schedule.
func (e *Engine) RunCron(ctx context.Context, expr string) error {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		result, err := e.RunOnce(ctx)
		if err != nil {
			e.logger.Error("cron cycle failed", "error", err)
			return
		}
		e.logger.Info("cron cycle complete",
			"generators_run", result.GeneratorsRun,
			"documents_queued", result.DocumentsQueued,
			"insights_created", result.InsightsCreated,
			"tasks_executed", result.TasksExecuted,
			"documents_published", result.DocumentsPublish,
		)
	})
	if err != nil {
		return err
	}

	c.Start()
	defer func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}()

	<-ctx.Done()
	e.logger.Info("cron mode stopping")
	return nil
}
