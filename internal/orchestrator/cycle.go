// Package orchestrator is the Main Orchestrator: the cycle driver that
// invokes external generators, registers their output in the lifecycle,
// runs insights extraction, drives the executor daemon, and triggers
// publishing.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/executor"
	"github.com/amuzetnoM/syndicate-sub000/internal/header"
	"github.com/amuzetnoM/syndicate-sub000/internal/insights"
	"github.com/amuzetnoM/syndicate-sub000/internal/lifecycle"
	"github.com/amuzetnoM/syndicate-sub000/internal/publisher"
	"github.com/amuzetnoM/syndicate-sub000/internal/schedule"
)

// Feature toggle keys stored in system_config, gating remote publishing,
// task execution, and insights extraction independently per cycle.
const (
	ToggleTaskExecution = "feature.task_execution"
	ToggleInsights      = "feature.insights_extraction"
	TogglePublishing    = "feature.publishing"

	extractableDocsTask = "insights_extraction"
)

// CycleResult summarizes one orchestrator pass, printed by cmd/orchestrator
// and used to decide whether the wait-forever loop should keep iterating.
type CycleResult struct {
	GeneratorsRun    int
	DocumentsQueued  int
	InsightsCreated  int
	TasksExecuted    int
	DocumentsPublish int
}

func (r CycleResult) Idle() bool {
	return r.DocumentsQueued == 0 && r.InsightsCreated == 0 && r.TasksExecuted == 0 && r.DocumentsPublish == 0
}

type Engine struct {
	generators    []Generator
	lifecycle     *lifecycle.Registry
	lifecycleRepo *db.LifecycleRepo
	schedules     *schedule.Tracker
	insights      *insights.Engine
	publisher     *publisher.Publisher
	daemon        *executor.Daemon
	toggles       *db.ConfigRepo
	logger        *slog.Logger
}

func New(
	generators []Generator,
	lc *lifecycle.Registry,
	lifecycleRepo *db.LifecycleRepo,
	schedules *schedule.Tracker,
	insightsEngine *insights.Engine,
	pub *publisher.Publisher,
	daemon *executor.Daemon,
	toggles *db.ConfigRepo,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		generators:    generators,
		lifecycle:     lc,
		lifecycleRepo: lifecycleRepo,
		schedules:     schedules,
		insights:      insightsEngine,
		publisher:     pub,
		daemon:        daemon,
		toggles:       toggles,
		logger:        logger,
	}
}

// EnsureGeneratorSchedules seeds a schedule_tracker row per registered
// generator, due immediately on first run.
func (e *Engine) EnsureGeneratorSchedules(ctx context.Context) error {
	for _, g := range e.generators {
		if err := e.schedules.EnsureSchedule(ctx, g.Name(), g.Cadence()); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce executes one full cycle: generators -> lifecycle registration ->
// insights extraction -> task execution -> publishing.
func (e *Engine) RunOnce(ctx context.Context) (CycleResult, error) {
	var result CycleResult

	for _, g := range e.generators {
		due, err := e.schedules.ShouldRunNow(ctx, g.Name())
		if err != nil {
			return result, fmt.Errorf("failed to check schedule for generator %q: %w", g.Name(), err)
		}
		if !due {
			e.logger.Debug("generator not due", "generator", g.Name())
			continue
		}

		paths, err := g.Invoke(ctx)
		if err != nil {
			e.logger.Error("generator failed", "generator", g.Name(), "error", err)
			continue
		}
		result.GeneratorsRun++
		for _, p := range paths {
			if err := e.registerGenerated(ctx, p, g.DocType()); err != nil {
				e.logger.Error("lifecycle registration failed", "file_path", p, "error", err)
				continue
			}
			result.DocumentsQueued++
		}
		if err := e.schedules.MarkRun(ctx, g.Name()); err != nil {
			return result, fmt.Errorf("failed to mark generator %q run: %w", g.Name(), err)
		}
	}

	insightsEnabled, err := e.toggles.IsEnabled(ctx, ToggleInsights, true)
	if err != nil {
		return result, err
	}
	if insightsEnabled {
		n, err := e.runInsights(ctx)
		if err != nil {
			e.logger.Error("insights extraction failed", "error", err)
		}
		result.InsightsCreated = n
	} else {
		e.logger.Debug("insights extraction disabled via toggle")
	}

	taskExecEnabled, err := e.toggles.IsEnabled(ctx, ToggleTaskExecution, true)
	if err != nil {
		return result, err
	}
	if taskExecEnabled && e.daemon != nil {
		n, err := e.daemon.RunOnce(ctx)
		if err != nil {
			e.logger.Error("task execution failed", "error", err)
		}
		result.TasksExecuted = n
	} else if !taskExecEnabled {
		e.logger.Debug("task execution disabled via toggle")
	}

	publishingEnabled, err := e.toggles.IsEnabled(ctx, TogglePublishing, true)
	if err != nil {
		return result, err
	}
	if publishingEnabled {
		n, err := e.runPublishing(ctx)
		if err != nil {
			e.logger.Error("publishing failed", "error", err)
		}
		result.DocumentsPublish = n
	} else {
		e.logger.Debug("publishing disabled via toggle")
	}

	return result, nil
}

// registerGenerated reads a just-written document back off disk and
// registers it in the lifecycle, computing the content hash Register needs
// to detect a changed document on re-registration and trusting the status
// the generator stamped in the document's own header — falling back to
// draft if the header's status doesn't name a recognized lifecycle status.
func (e *Engine) registerGenerated(ctx context.Context, filePath, docType string) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read generated document %q: %w", filePath, err)
	}
	sum := sha256.Sum256(raw)
	contentHash := hex.EncodeToString(sum[:])

	block, _ := header.Parse(string(raw))
	status := block.Status
	if db.LifecycleStatusRank(status) < 0 {
		status = db.LifecycleStatusDraft
	}

	return e.lifecycle.Register(ctx, filePath, docType, contentHash, status)
}

// runInsights extracts action items from review/published documents not
// yet processed today, gated by the shared insights_extraction schedule.
func (e *Engine) runInsights(ctx context.Context) (int, error) {
	if e.insights == nil {
		return 0, nil
	}
	due, err := e.schedules.ShouldRunNow(ctx, extractableDocsTask)
	if err != nil {
		return 0, err
	}
	if !due {
		e.logger.Debug("insights extraction already run today")
		return 0, nil
	}

	var records []*db.LifecycleRecord
	for _, status := range []string{db.LifecycleStatusReview, db.LifecycleStatusPublished} {
		recs, err := e.lifecycleRepo.ListByStatus(ctx, status)
		if err != nil {
			return 0, err
		}
		records = append(records, recs...)
	}

	now := time.Now().UTC()
	total := 0
	for _, rec := range records {
		if !insights.ExtractableDocTypes[rec.DocType] {
			continue
		}
		content, err := os.ReadFile(rec.FilePath)
		if err != nil {
			e.logger.Debug("insights read failed", "file_path", rec.FilePath, "error", err)
			continue
		}
		n, err := e.insights.RunForDocument(ctx, rec.FilePath, rec.DocType, string(content), now)
		if err != nil {
			e.logger.Error("insights extraction failed for document", "file_path", rec.FilePath, "error", err)
			continue
		}
		total += n
	}

	if err := e.schedules.MarkRun(ctx, extractableDocsTask); err != nil {
		return total, err
	}
	return total, nil
}

// runPublishing retries every unpublished lifecycle record, recording
// failures back onto the lifecycle row.
func (e *Engine) runPublishing(ctx context.Context) (int, error) {
	if e.publisher == nil {
		return 0, nil
	}
	records, err := e.lifecycleRepo.ListNotPublished(ctx, 200)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	n, err := e.publisher.RetryFailedPublishes(ctx, records, func(filePath, errMsg string) error {
		return e.lifecycleRepo.RecordPublishFailure(ctx, filePath, errMsg)
	})
	if err != nil {
		if _, ok := err.(publisher.NotConfiguredError); ok {
			e.logger.Debug("publishing skipped, no target configured")
			return n, nil
		}
		return n, err
	}
	return n, nil
}
