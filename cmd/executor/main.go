// Command executor runs the standalone Executor Daemon: claims ready tasks,
// executes them through the registered action_type handlers, and maintains
// heartbeat and advisory leader election — independent of the orchestrator
// process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/amuzetnoM/syndicate-sub000/internal/adminapi"
	"github.com/amuzetnoM/syndicate-sub000/internal/config"
	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/executor"
	"github.com/amuzetnoM/syndicate-sub000/internal/handlers"
	"github.com/amuzetnoM/syndicate-sub000/internal/metrics"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
	"github.com/amuzetnoM/syndicate-sub000/internal/registry"
	"github.com/amuzetnoM/syndicate-sub000/internal/schedule"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	if cfg.Spawn {
		if err := spawnDetached(logger); err != nil {
			logger.Error("failed to spawn detached daemon", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("starting executor", "version", version, "worker_id", cfg.WorkerID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

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

	q := queue.New(taskRepo, logRepo, cfg.MaxRetries)
	reg := registry.New()
	handlers.RegisterBuiltins(reg)

	metrics.Register(prometheus.DefaultRegisterer)

	execCfg := executor.Config{
		WorkerID:             cfg.WorkerID,
		PollInterval:         cfg.PollInterval,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		OrphanTimeout:        time.Duration(cfg.OrphanTimeoutHours) * time.Hour,
		OrphanCheckInterval:  5 * time.Minute,
		LeaderTTL:            time.Duration(cfg.LeaderTTLSeconds) * time.Second,
		InitialBackoff:       time.Duration(cfg.InitialBackoffSeconds) * time.Second,
		MaxBackoff:           time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		MaxConsecutiveErrors: uint32(cfg.MaxConsecutiveErrors),
		BatchSize:            5,
		DryRun:               cfg.DryRun,
		MaxRetries:           cfg.MaxRetries,
	}
	daemon := executor.New(execCfg, q, reg, cfgRepo, logger)
	defer func() {
		if err := daemon.ReleaseCurrent(context.Background(), "daemon_exit"); err != nil {
			logger.Error("failed to release current task on exit", "error", err)
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reloaded := *cfg
				reloaded.ApplyEnv()
				execCfg.PollInterval = reloaded.PollInterval
				execCfg.HeartbeatInterval = reloaded.HeartbeatInterval
				execCfg.OrphanTimeout = time.Duration(reloaded.OrphanTimeoutHours) * time.Hour
				execCfg.LeaderTTL = time.Duration(reloaded.LeaderTTLSeconds) * time.Second
				execCfg.InitialBackoff = time.Duration(reloaded.InitialBackoffSeconds) * time.Second
				execCfg.MaxBackoff = time.Duration(reloaded.MaxBackoffSeconds) * time.Second
				execCfg.MaxConsecutiveErrors = uint32(reloaded.MaxConsecutiveErrors)
				execCfg.MaxRetries = reloaded.MaxRetries
				daemon.ReloadConfig(execCfg)
				q.SetDefaultMaxRetries(reloaded.MaxRetries)
				logger.Info("reloaded configuration from environment on SIGHUP", "max_retries", reloaded.MaxRetries)
			}
		}
	}()

	switch {
	case cfg.HealthOnly:
		runHealthOnce(ctx, daemon, logger)
		return
	case cfg.RecoverOrphans:
		runRecoverOrphansOnce(ctx, daemon, logger)
		return
	case cfg.Once:
		runDrainOnce(ctx, daemon, cfg.MaxTasks, logger)
		return
	}

	if cfg.HealthAddr != "" {
		scheduleTracker := schedule.New(scheduleRepo)
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

	if cfg.Supervise {
		runSupervised(ctx, daemon, logger)
		return
	}

	if err := daemon.Run(ctx); err != nil {
		logger.Error("executor daemon stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("executor daemon shut down cleanly")
}

// newLogger builds the console handler and, when cfg.LogFile is set, tees
// output into a size-capped rotating file (10MB, 5 backups) alongside it.
// The returned closer flushes the rotating writer on shutdown.
func newLogger(cfg *config.Config) (*slog.Logger, func()) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = func() {
			if err := rotator.Close(); err != nil {
				fmt.Fprintln(os.Stderr, "failed to close rotating log file:", err)
			}
		}
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler), closer
}

func runHealthOnce(ctx context.Context, daemon *executor.Daemon, logger *slog.Logger) {
	h, err := daemon.Health(ctx)
	if err != nil {
		logger.Error("health check failed", "error", err)
		os.Exit(1)
	}
	out, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		logger.Error("failed to marshal health snapshot", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	total := 0
	for _, n := range h.QueueDepth {
		total += n
	}
	fmt.Fprintf(os.Stderr, "%s tasks queued across %s statuses\n", humanize.Comma(int64(total)), humanize.Comma(int64(len(h.QueueDepth))))
}

func runRecoverOrphansOnce(ctx context.Context, daemon *executor.Daemon, logger *slog.Logger) {
	if err := daemon.RecoverOrphans(ctx); err != nil {
		logger.Error("orphan recovery failed", "error", err)
		os.Exit(1)
	}
	logger.Info("orphan recovery pass complete")
}

func runDrainOnce(ctx context.Context, daemon *executor.Daemon, maxTasks int, logger *slog.Logger) {
	start := time.Now()
	n, err := daemon.Drain(ctx, maxTasks)
	if err != nil {
		logger.Error("drain pass failed", "executed", n, "error", err)
		os.Exit(1)
	}
	logger.Info("drain pass complete", "executed", n, "elapsed", humanize.RelTime(start, time.Now(), "", ""))
}

// runSupervised restarts Run under a crash loop with exponential backoff
// (1s, capped at 300s) between attempts, resetting once a run survives
// longer than the cap. Backs the --supervise CLI mode.
func runSupervised(ctx context.Context, daemon *executor.Daemon, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 300 * time.Second
	for ctx.Err() == nil {
		start := time.Now()
		err := daemon.Run(ctx)
		if ctx.Err() != nil {
			logger.Info("supervised executor shut down cleanly")
			return
		}
		if err == nil {
			logger.Info("supervised executor run exited without error, restarting")
		} else {
			logger.Error("supervised executor run crashed, restarting", "error", err, "ran_for", humanize.RelTime(start, time.Now(), "", ""))
		}
		if time.Since(start) > maxBackoff {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// spawnDetached launches a child executor process in daemon mode, detached
// from the current session, and exits. Backs the --spawn CLI mode.
func spawnDetached(logger *slog.Logger) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}
	args := make([]string, 0, len(os.Args))
	for _, a := range os.Args[1:] {
		if a == "--spawn" || a == "-spawn" {
			continue
		}
		args = append(args, a)
	}
	args = append(args, "--daemon")

	cmd := exec.Command(self, args...)
	cmd.Stdin = nil
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start detached daemon: %w", err)
	}
	logger.Info("spawned detached executor daemon", "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}

// detachedSysProcAttr starts the child in its own session so it survives
// the parent exiting and doesn't receive the parent's terminal signals.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
