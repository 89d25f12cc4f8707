// Package config is the ambient configuration loader shared by cmd/executor
// and cmd/orchestrator: stdlib flag over a defaults struct, environment
// variable overrides, and a flat Key=Value persisted file — carried from the
// teacher's internal/config/config.go.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBPath       string
	WorkerID     string
	ConfigPath   string
	HealthAddr   string
	OutputDir    string
	LogFormat    string
	Verbose      bool
	ScheduleCron string
	Once         bool
	WaitForever  bool
	Detached     bool
	Watch        bool

	// Executor CLI modes: --daemon|-d, --once|-1, --recover-orphans,
	// --health, --spawn, --supervise, --dry-run.
	Daemon         bool
	RecoverOrphans bool
	HealthOnly     bool
	Spawn          bool
	Supervise      bool
	DryRun         bool
	MaxTasks       int
	LogFile        string

	PollInterval         time.Duration
	HeartbeatInterval    time.Duration
	OrphanTimeoutHours   int
	LeaderTTLSeconds     int
	MaxRetries           int
	InitialBackoffSeconds int
	MaxBackoffSeconds    int
	MaxConsecutiveErrors int
}

func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	hostname, _ := os.Hostname()

	cfg := &Config{
		DBPath:                filepath.Join(homeDir, ".config", "syndicate", "syndicate.db"),
		WorkerID:              hostname,
		ConfigPath:            filepath.Join(homeDir, ".config", "syndicate", "config"),
		OutputDir:             filepath.Join(homeDir, ".local", "share", "syndicate", "documents"),
		LogFormat:             "text",
		PollInterval:          10 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		OrphanTimeoutHours:    2,
		LeaderTTLSeconds:      90,
		MaxRetries:            3,
		InitialBackoffSeconds: 5,
		MaxBackoffSeconds:     300,
		MaxConsecutiveErrors:  5,
	}

	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	cfg.ApplyEnv()

	flag.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to SQLite database")
	flag.StringVar(&cfg.WorkerID, "worker-id", cfg.WorkerID, "executor worker identity for claims, heartbeat, and leader election")
	flag.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "bind address for the optional admin HTTP/WS API (empty disables it)")
	flag.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory generated documents are written into")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "structured log handler: text or json")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug-level logging")
	flag.StringVar(&cfg.ScheduleCron, "schedule", cfg.ScheduleCron, "cron expression for continuous orchestrator mode (empty runs once)")
	flag.BoolVar(&cfg.Once, "once", cfg.Once, "run a single cycle and exit")
	flag.BoolVar(&cfg.WaitForever, "wait-forever", cfg.WaitForever, "after the first cycle, keep cycling until a pass produces no new work")
	flag.BoolVar(&cfg.Detached, "detached", cfg.Detached, "recorded in the config (also set by DETACHED_EXECUTOR); the orchestrator runs the executor inline in every mode and does not start a background process")
	flag.BoolVar(&cfg.Watch, "watch", cfg.Watch, "run a cycle immediately whenever a new document appears under output-dir, instead of polling on a schedule")
	flag.BoolVar(&cfg.Daemon, "daemon", cfg.Daemon, "run the executor continuously (default mode when no other CLI mode is given)")
	flag.BoolVar(&cfg.Daemon, "d", cfg.Daemon, "shorthand for -daemon")
	flag.BoolVar(&cfg.Once, "1", cfg.Once, "shorthand for -once")
	flag.BoolVar(&cfg.RecoverOrphans, "recover-orphans", cfg.RecoverOrphans, "run a single orphan-recovery pass and exit")
	flag.BoolVar(&cfg.HealthOnly, "health", cfg.HealthOnly, "print a JSON health snapshot and exit")
	flag.BoolVar(&cfg.Spawn, "spawn", cfg.Spawn, "start a detached daemon child process and exit")
	flag.BoolVar(&cfg.Supervise, "supervise", cfg.Supervise, "run the daemon under a restart-on-crash supervisor loop")
	flag.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "simulate execution: release claimed tasks instead of running handlers")
	flag.IntVar(&cfg.MaxTasks, "max-tasks", cfg.MaxTasks, "cap on tasks executed in -once/-1 drain mode (0 means unbounded)")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "path to a rotating log file (size-capped, kept alongside console output)")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "executor poll loop interval")
	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "executor heartbeat interval")
	flag.IntVar(&cfg.OrphanTimeoutHours, "orphan-timeout-hours", cfg.OrphanTimeoutHours, "hours before an in_progress claim is considered orphaned")
	flag.IntVar(&cfg.LeaderTTLSeconds, "leader-ttl-seconds", cfg.LeaderTTLSeconds, "seconds before a leader lock is considered stale")
	flag.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "default max retries for newly enqueued tasks")
	flag.IntVar(&cfg.InitialBackoffSeconds, "initial-backoff-seconds", cfg.InitialBackoffSeconds, "initial retry backoff in seconds")
	flag.IntVar(&cfg.MaxBackoffSeconds, "max-backoff-seconds", cfg.MaxBackoffSeconds, "max retry backoff in seconds")
	flag.IntVar(&cfg.MaxConsecutiveErrors, "max-consecutive-errors", cfg.MaxConsecutiveErrors, "consecutive task-dispatch errors (claim or bookkeeping failures) before the circuit opens; failed handler outcomes are not counted")
	flag.Parse()

	if err := cfg.saveToFile(); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv layers EXECUTOR_*/MAX_*/DETACHED_EXECUTOR environment overrides
// onto c. Called once from Load() (before flags, which take final
// precedence, are parsed: default -> file -> environment -> CLI flag) and
// again by a SIGHUP handler against a shallow copy of the live config, so
// MAX_RETRIES/INITIAL_BACKOFF_SECONDS/MAX_BACKOFF_SECONDS and friends can be
// re-read without re-parsing (and panicking on) CLI flags a second time.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("EXECUTOR_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			c.PollInterval = d
		}
	}
	if v := os.Getenv("EXECUTOR_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			c.HeartbeatInterval = d
		}
	}
	setIntEnv("EXECUTOR_ORPHAN_TIMEOUT_HOURS", &c.OrphanTimeoutHours)
	setIntEnv("EXECUTOR_LEADER_TTL_SECONDS", &c.LeaderTTLSeconds)
	setIntEnv("MAX_RETRIES", &c.MaxRetries)
	setIntEnv("INITIAL_BACKOFF_SECONDS", &c.InitialBackoffSeconds)
	setIntEnv("MAX_BACKOFF_SECONDS", &c.MaxBackoffSeconds)
	setIntEnv("MAX_CONSECUTIVE_ERRORS", &c.MaxConsecutiveErrors)
	if v := strings.ToLower(os.Getenv("DETACHED_EXECUTOR")); v == "1" || v == "true" {
		c.Detached = true
	}
}

func setIntEnv(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch key {
		case "DBPath":
			c.DBPath = value
		case "WorkerID":
			c.WorkerID = value
		case "HealthAddr":
			c.HealthAddr = value
		case "LogFormat":
			c.LogFormat = value
		}
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data := fmt.Sprintf("DBPath=%s\nWorkerID=%s\nHealthAddr=%s\nLogFormat=%s\n", c.DBPath, c.WorkerID, c.HealthAddr, c.LogFormat)
	return os.WriteFile(c.ConfigPath, []byte(data), 0o600)
}
