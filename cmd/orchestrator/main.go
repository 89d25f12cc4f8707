// Command orchestrator drives one full cycle of the system: invoking the
// registered document generators, registering their output into the
// lifecycle, extracting insights, running the executor inline, and
// publishing anything ready.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/adminapi"
	"github.com/amuzetnoM/syndicate-sub000/internal/config"
	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/executor"
	"github.com/amuzetnoM/syndicate-sub000/internal/handlers"
	"github.com/amuzetnoM/syndicate-sub000/internal/insights"
	"github.com/amuzetnoM/syndicate-sub000/internal/lifecycle"
	"github.com/amuzetnoM/syndicate-sub000/internal/metrics"
	"github.com/amuzetnoM/syndicate-sub000/internal/orchestrator"
	"github.com/amuzetnoM/syndicate-sub000/internal/publisher"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
	"github.com/amuzetnoM/syndicate-sub000/internal/registry"
	"github.com/amuzetnoM/syndicate-sub000/internal/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Info("starting orchestrator", "version", version, "output_dir", cfg.OutputDir)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	appDB, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := appDB.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	taskRepo := db.NewTaskRepo(appDB.SQL())
	logRepo := db.NewExecutionLogRepo(appDB.SQL())
	cfgRepo := db.NewConfigRepo(appDB.SQL())
	scheduleRepo := db.NewScheduleRepo(appDB.SQL())
	lifecycleRepo := db.NewLifecycleRepo(appDB.SQL())
	publishRepo := db.NewPublishRepo(appDB.SQL())

	scheduleTracker := schedule.New(scheduleRepo)
	if err := scheduleTracker.EnsureDefaults(ctx); err != nil {
		logger.Error("failed to seed default schedules", "error", err)
		os.Exit(1)
	}

	q := queue.New(taskRepo, logRepo, cfg.MaxRetries)
	reg := registry.New()
	handlers.RegisterBuiltins(reg)
	metrics.Register(prometheus.DefaultRegisterer)

	lifecycleRegistry := lifecycle.New(lifecycleRepo)
	insightsEngine := insights.New(lifecycleRegistry, q, insights.HeuristicExtractor{})
	pub := publisher.New(lifecycleRegistry, publishRepo, scheduleTracker, nil, logger)

	execCfg := executor.Config{
		WorkerID:             cfg.WorkerID,
		PollInterval:         cfg.PollInterval,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		OrphanTimeout:        time.Duration(cfg.OrphanTimeoutHours) * time.Hour,
		LeaderTTL:            time.Duration(cfg.LeaderTTLSeconds) * time.Second,
		InitialBackoff:       time.Duration(cfg.InitialBackoffSeconds) * time.Second,
		MaxBackoff:           time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		MaxConsecutiveErrors: uint32(cfg.MaxConsecutiveErrors),
		BatchSize:            5,
		MaxRetries:           cfg.MaxRetries,
	}
	daemon := executor.New(execCfg, q, reg, cfgRepo, logger)

	generators := builtinGenerators(cfg.OutputDir)

	engine := orchestrator.New(generators, lifecycleRegistry, lifecycleRepo, scheduleTracker, insightsEngine, pub, daemon, cfgRepo, logger)
	if err := engine.EnsureGeneratorSchedules(ctx); err != nil {
		logger.Error("failed to seed generator schedules", "error", err)
		os.Exit(1)
	}

	if cfg.HealthAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/", adminapi.New(daemon, scheduleTracker, logger).Router())
		server := &http.Server{Addr: cfg.HealthAddr, Handler: mux}
		go func() {
			logger.Info("admin API listening", "addr", cfg.HealthAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin API server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = server.Close()
		}()
	}

	switch {
	case cfg.Watch:
		watchDirs := []string{
			filepath.Join(cfg.OutputDir, "journal"),
			filepath.Join(cfg.OutputDir, "premarket"),
			filepath.Join(cfg.OutputDir, "reports"),
		}
		for _, d := range watchDirs {
			if err := os.MkdirAll(d, 0o755); err != nil {
				logger.Error("failed to create watch directory", "dir", d, "error", err)
				os.Exit(1)
			}
		}
		if err := engine.RunWatch(ctx, watchDirs, time.Second); err != nil {
			logger.Error("orchestrator watch mode stopped with error", "error", err)
			os.Exit(1)
		}
	case cfg.ScheduleCron != "":
		if err := engine.RunCron(ctx, cfg.ScheduleCron); err != nil {
			logger.Error("orchestrator cron mode stopped with error", "error", err)
			os.Exit(1)
		}
	case cfg.WaitForever:
		result, err := engine.RunUntilIdle(ctx, cfg.PollInterval)
		logCycle(logger, result)
		if err != nil {
			logger.Error("orchestrator wait-forever mode stopped with error", "error", err)
			os.Exit(1)
		}
	default:
		result, err := engine.RunOnce(ctx)
		logCycle(logger, result)
		if err != nil {
			logger.Error("orchestrator cycle failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("orchestrator shut down cleanly")
}

func logCycle(logger *slog.Logger, result orchestrator.CycleResult) {
	logger.Info("cycle complete",
		"generators_run", result.GeneratorsRun,
		"documents_queued", result.DocumentsQueued,
		"insights_created", result.InsightsCreated,
		"tasks_executed", result.TasksExecuted,
		"documents_published", result.DocumentsPublish,
	)
}

// builtinGenerators wires the default report-producing generators, each
// writing a placeholder body under outputDir/<doc_type>/ — the same
// dependency-free boundary stance internal/handlers/builtin.go takes for
// action_type handlers: the concrete research/data source is left to the
// deployment. A deployment overrides any entry by substituting its own
// orchestrator.Generator before calling orchestrator.New.
func builtinGenerators(outputDir string) []orchestrator.Generator {
	journalDir := filepath.Join(outputDir, "journal")
	premarketDir := filepath.Join(outputDir, "premarket")
	weeklyDir := filepath.Join(outputDir, "reports")
	monthlyDir := filepath.Join(outputDir, "reports")
	yearlyDir := filepath.Join(outputDir, "reports")

	return []orchestrator.Generator{
		orchestrator.NewFileGenerator("daily_journal", "reports", "daily", journalDir, db.LifecycleStatusReview,
			func(_ context.Context, cycleDate time.Time) (string, error) {
				return fmt.Sprintf("# Daily Journal - %s\n\nNo automated content source configured.\n", cycleDate.Format("2006-01-02")), nil
			}),
		orchestrator.NewFileGenerator("premarket_plan", "reports", "daily", premarketDir, db.LifecycleStatusReview,
			func(_ context.Context, cycleDate time.Time) (string, error) {
				return fmt.Sprintf("# Premarket Plan - %s\n\nNo automated content source configured.\n", cycleDate.Format("2006-01-02")), nil
			}),
		orchestrator.NewFileGenerator("weekly_report", "reports", "weekly", weeklyDir, db.LifecycleStatusReview,
			func(_ context.Context, cycleDate time.Time) (string, error) {
				return fmt.Sprintf("# Weekly Report - week of %s\n\nNo automated content source configured.\n", cycleDate.Format("2006-01-02")), nil
			}),
		orchestrator.NewFileGenerator("monthly_report", "reports", "monthly", monthlyDir, db.LifecycleStatusReview,
			func(_ context.Context, cycleDate time.Time) (string, error) {
				return fmt.Sprintf("# Monthly Report - %s\n\nNo automated content source configured.\n", cycleDate.Format("2006-01")), nil
			}),
		orchestrator.NewFileGenerator("yearly_report", "reports", "yearly", yearlyDir, db.LifecycleStatusReview,
			func(_ context.Context, cycleDate time.Time) (string, error) {
				return fmt.Sprintf("# Yearly Report - %s\n\nNo automated content source configured.\n", cycleDate.Format("2006")), nil
			}),
	}
}
