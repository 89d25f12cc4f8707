// Package executor is the standalone Executor Daemon: polling claim loop,
// quota/retry policy, consecutive-error circuit, heartbeat + leader
// election, and orphan recovery.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/metrics"
	"github.com/amuzetnoM/syndicate-sub000/internal/quota"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
	"github.com/amuzetnoM/syndicate-sub000/internal/registry"
)

// Config holds the executor daemon's tunables, sourced from
// internal/config's environment-variable overrides.
type Config struct {
	WorkerID              string
	PollInterval          time.Duration
	HeartbeatInterval     time.Duration
	OrphanTimeout         time.Duration
	LeaderTTL             time.Duration
	InitialBackoff        time.Duration
	MaxBackoff            time.Duration
	MaxConsecutiveErrors  uint32
	BatchSize             int
	// OrphanCheckInterval controls how often Run() re-sweeps for orphaned
	// in_progress tasks beyond the initial startup pass (~5 minutes). Zero
	// disables the periodic re-check.
	OrphanCheckInterval time.Duration
	// DryRun simulates execution: claimed tasks are released with
	// reason="dry_run" instead of being dispatched to a handler.
	DryRun bool
	// MaxRetries is the default retry budget threaded into the queue for
	// tasks enqueued without an explicit override.
	MaxRetries int
}

// DefaultConfig returns the executor daemon's out-of-the-box tunables.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:             workerID,
		PollInterval:         10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		OrphanTimeout:        2 * time.Hour,
		LeaderTTL:            90 * time.Second,
		InitialBackoff:       5 * time.Second,
		MaxBackoff:           5 * time.Minute,
		MaxConsecutiveErrors: 5,
		BatchSize:            5,
		OrphanCheckInterval:  5 * time.Minute,
	}
}

// Daemon is the Executor Daemon component.
type Daemon struct {
	cfg      atomic.Pointer[Config]
	queue    *queue.Queue
	registry *registry.Registry
	cfgRepo  *db.ConfigRepo
	logger   *slog.Logger
	breaker  *gobreaker.CircuitBreaker

	mu            sync.Mutex
	currentTaskID string
	isLeader      bool
	tasksThisRun  int
}

func New(cfg Config, q *queue.Queue, reg *registry.Registry, cfgRepo *db.ConfigRepo, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{queue: q, registry: reg, cfgRepo: cfgRepo, logger: logger}
	d.cfg.Store(&cfg)
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "executor-poll",
		Timeout: cfg.MaxBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= d.cfg.Load().MaxConsecutiveErrors
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("executor circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return d
}

// ReloadConfig swaps the live config pointer, letting a SIGHUP-triggered
// environment re-read take effect without interrupting whatever task is
// currently in progress — every tunable is read fresh from d.cfg.Load() on
// each loop iteration rather than captured once at startup.
func (d *Daemon) ReloadConfig(cfg Config) {
	d.cfg.Store(&cfg)
}

// RecoverOrphans resets in_progress tasks whose claim has gone stale —
// called by Run at startup and every OrphanCheckInterval, and at the start
// of each RunOnce and Drain.
func (d *Daemon) RecoverOrphans(ctx context.Context) error {
	ids, err := d.queue.ResetStuck(ctx, d.cfg.Load().OrphanTimeout)
	if err != nil {
		return fmt.Errorf("failed to recover orphans: %w", err)
	}
	for range ids {
		metrics.OrphansRecovered.Inc()
	}
	if len(ids) > 0 {
		d.logger.Info("recovered orphaned tasks", "count", len(ids), "ids", ids)
	}
	return nil
}

// ExecuteTask claims, runs, and finishes a single task through its
// registered Handler. If the claim does not apply (the task is no longer
// pending), it returns nil without running the task.
func (d *Daemon) ExecuteTask(ctx context.Context, task *db.Task) error {
	ok, err := d.queue.Claim(ctx, task.ID, d.cfg.Load().WorkerID)
	if err != nil {
		return fmt.Errorf("failed to claim task %q: %w", task.ID, err)
	}
	if !ok {
		return nil // lost the claim race to another worker
	}

	d.mu.Lock()
	d.currentTaskID = task.ID
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.currentTaskID = ""
		d.mu.Unlock()
	}()

	if d.cfg.Load().DryRun {
		released, err := d.queue.Release(ctx, task.ID, "dry_run", 0)
		if err != nil {
			return fmt.Errorf("failed to release dry-run task %q: %w", task.ID, err)
		}
		if !released {
			return fmt.Errorf("dry-run release of task %q did not apply (not in_progress)", task.ID)
		}
		d.logger.Info("dry-run: released task instead of executing", "action_id", task.ID, "action_type", task.ActionType)
		return nil
	}

	handler := d.registry.Lookup(task.ActionType)
	start := time.Now()
	outcome := handler(ctx, task)
	elapsed := time.Since(start)

	outcome = d.classify(outcome)
	metrics.TasksExecuted.Inc()
	switch outcome.Kind {
	case queue.OutcomeOK:
		metrics.TasksSucceeded.Inc()
	case queue.OutcomePermanent:
		metrics.TasksFailed.Inc()
	case queue.OutcomeQuota:
		metrics.TasksRetried.WithLabelValues("quota").Inc()
	case queue.OutcomeRetriable:
		metrics.TasksRetried.WithLabelValues("retriable").Inc()
	}

	next := d.nextAttempt(task.RetryCount)
	if err := d.queue.Finish(ctx, task, outcome, next); err != nil {
		return fmt.Errorf("failed to finish task %q: %w", task.ID, err)
	}

	d.logger.Info("executed task", "action_id", task.ID, "action_type", task.ActionType, "outcome", outcomeName(outcome.Kind), "elapsed_ms", elapsed.Milliseconds())
	return nil
}

// classify upgrades a handler's bare error (if it forgot to set a Kind) using
// the shared quota pattern set, so a handler calling an unmodified
// third-party client still gets correct retry policy.
func (d *Daemon) classify(o queue.Outcome) queue.Outcome {
	if o.Kind != queue.OutcomeOK || o.Err == nil {
		if o.Kind == 0 && o.Err != nil {
			if quota.Classify(o.Err) == quota.KindQuota {
				o.Kind = queue.OutcomeQuota
			} else {
				o.Kind = queue.OutcomeRetriable
			}
		}
	}
	return o
}

// nextAttempt computes exponential backoff from InitialBackoff, doubling per
// retry and capped at MaxBackoff.
func (d *Daemon) nextAttempt(retryCount int) time.Time {
	backoff := d.cfg.Load().InitialBackoff
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff > d.cfg.Load().MaxBackoff {
			backoff = d.cfg.Load().MaxBackoff
			break
		}
	}
	return time.Now().UTC().Add(backoff)
}

// PollAndExecute claims and runs up to BatchSize ready tasks, through the
// consecutive-error circuit breaker.
func (d *Daemon) PollAndExecute(ctx context.Context) (int, error) {
	ready, err := d.queue.GetReady(ctx, d.cfg.Load().BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch ready tasks: %w", err)
	}

	executed := 0
	for _, task := range ready {
		_, err := d.breaker.Execute(func() (any, error) {
			return nil, d.ExecuteTask(ctx, task)
		})
		metrics.ConsecutiveErrors.Set(float64(d.breaker.Counts().ConsecutiveFailures))
		if err != nil {
			if err == gobreaker.ErrOpenState {
				d.logger.Warn("executor circuit open, pausing poll loop", "backoff", d.cfg.Load().MaxBackoff)
				return executed, nil
			}
			d.logger.Error("task execution failed", "action_id", task.ID, "error", err)
			continue
		}
		executed++
	}
	return executed, nil
}

// RunOnce runs a single recover-orphans + poll-and-execute pass, used by the
// orchestrator's force-inline mode. It returns the number of tasks executed.
func (d *Daemon) RunOnce(ctx context.Context) (int, error) {
	if err := d.RecoverOrphans(ctx); err != nil {
		return 0, err
	}
	return d.PollAndExecute(ctx)
}

// Drain recovers orphans once, then repeatedly polls and executes batches of
// ready tasks (BatchSize each) until a pass returns zero (queue empty) or
// maxTasks is reached (maxTasks<=0 means unbounded). It returns the total
// number of tasks executed; this backs the --once/-1 CLI mode.
func (d *Daemon) Drain(ctx context.Context, maxTasks int) (int, error) {
	if err := d.RecoverOrphans(ctx); err != nil {
		return 0, err
	}
	total := 0
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if maxTasks > 0 && total >= maxTasks {
			return total, nil
		}
		n, err := d.PollAndExecute(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
	}
}

// IsLeader reports whether this worker currently holds the advisory
// executor_leader lock.
func (d *Daemon) IsLeader() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isLeader
}

// ReleaseCurrent releases whatever task this worker currently holds
// claimed, if any, recording reason. Used at process exit (SIGTERM/SIGINT)
// so a shutdown never leaves an orphaned in_progress row longer than
// necessary.
func (d *Daemon) ReleaseCurrent(ctx context.Context, reason string) error {
	d.mu.Lock()
	id := d.currentTaskID
	d.mu.Unlock()
	if id == "" {
		return nil
	}
	if _, err := d.queue.Release(ctx, id, reason, 0); err != nil {
		return fmt.Errorf("failed to release current task %q: %w", id, err)
	}
	d.mu.Lock()
	d.currentTaskID = ""
	d.mu.Unlock()
	return nil
}

// Run drives the daemon continuously: heartbeat, leader election, and poll
// loops as goroutines under ctx, returning when ctx is cancelled (SIGTERM/
// SIGINT) after the current task finishes.
func (d *Daemon) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.heartbeatLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.leaderElectionLoop(ctx)
	}()

	pollTicker := time.NewTicker(d.cfg.Load().PollInterval)
	defer pollTicker.Stop()

	var orphanTicker *time.Ticker
	var orphanChan <-chan time.Time
	if d.cfg.Load().OrphanCheckInterval > 0 {
		orphanTicker = time.NewTicker(d.cfg.Load().OrphanCheckInterval)
		defer orphanTicker.Stop()
		orphanChan = orphanTicker.C
	}

	if err := d.RecoverOrphans(ctx); err != nil {
		d.logger.Error("initial orphan recovery failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-orphanChan:
			if err := d.RecoverOrphans(ctx); err != nil {
				d.logger.Error("periodic orphan recovery failed", "error", err)
			}
			if interval := d.cfg.Load().OrphanCheckInterval; interval > 0 {
				orphanTicker.Reset(interval)
			}
		case <-pollTicker.C:
			pollTicker.Reset(d.cfg.Load().PollInterval)
			if !d.IsLeader() {
				d.logger.Debug("standby, skipping poll cycle")
				continue
			}
			if _, err := d.PollAndExecute(ctx); err != nil {
				d.logger.Error("poll cycle failed", "error", err)
			}
		}
	}
}

func (d *Daemon) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Load().HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.beat(ctx)
			ticker.Reset(d.cfg.Load().HeartbeatInterval)
		}
	}
}

func (d *Daemon) beat(ctx context.Context) {
	now := time.Now().UTC()
	metrics.HeartbeatTimestamp.WithLabelValues(d.cfg.Load().WorkerID).Set(float64(now.Unix()))
	if err := d.cfgRepo.Set(ctx, "executor_heartbeat_"+d.cfg.Load().WorkerID, now.Format(time.RFC3339)); err != nil {
		d.logger.Error("heartbeat write failed", "error", err)
	}
}

// leaderElectionLoop attempts to (re)acquire the "executor_leader" key every
// half of LeaderTTL, stealing it from a holder whose stamp is stale.
func (d *Daemon) leaderElectionLoop(ctx context.Context) {
	nextInterval := func() time.Duration {
		interval := d.cfg.Load().LeaderTTL / 2
		if interval <= 0 {
			interval = 30 * time.Second
		}
		return interval
	}
	ticker := time.NewTicker(nextInterval())
	defer ticker.Stop()
	d.tryElect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tryElect(ctx)
			ticker.Reset(nextInterval())
		}
	}
}

func (d *Daemon) tryElect(ctx context.Context) {
	current, ok, err := d.cfgRepo.Get(ctx, "executor_leader")
	if err != nil {
		d.logger.Error("leader election read failed", "error", err)
		return
	}

	var oldValue string
	if ok {
		holder, stamp := splitLeaderValue(current)
		if holder == d.cfg.Load().WorkerID {
			oldValue = current
		} else if stale, err := isStaleLeaderStamp(stamp, d.cfg.Load().LeaderTTL); err == nil && stale {
			oldValue = current
		} else {
			d.setLeader(false)
			return
		}
	}

	newValue := fmt.Sprintf("%s|%d", d.cfg.Load().WorkerID, time.Now().UTC().Unix())
	won, err := d.cfgRepo.CompareAndSwap(ctx, "executor_leader", oldValue, newValue)
	if err != nil {
		d.logger.Error("leader election swap failed", "error", err)
		return
	}
	d.setLeader(won)
}

func (d *Daemon) setLeader(is bool) {
	d.mu.Lock()
	d.isLeader = is
	d.mu.Unlock()
	v := 0.0
	if is {
		v = 1.0
	}
	metrics.IsLeader.WithLabelValues(d.cfg.Load().WorkerID).Set(v)
}

func splitLeaderValue(v string) (holder, stamp string) {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] == '|' {
			return v[:i], v[i+1:]
		}
	}
	return v, ""
}

func isStaleLeaderStamp(stamp string, ttl time.Duration) (bool, error) {
	var unix int64
	if _, err := fmt.Sscanf(stamp, "%d", &unix); err != nil {
		return true, nil // unparseable stamp is treated as stale
	}
	age := time.Since(time.Unix(unix, 0))
	return age > ttl, nil
}

// Health is the snapshot served by --health and internal/adminapi's
// /healthz.
type Health struct {
	WorkerID      string         `json:"worker_id"`
	IsLeader      bool           `json:"is_leader"`
	CurrentTaskID string         `json:"current_task_id,omitempty"`
	QueueDepth    map[string]int `json:"queue_depth"`
}

func (d *Daemon) Health(ctx context.Context) (Health, error) {
	counts, err := d.queue.CountByStatus(ctx)
	if err != nil {
		return Health{}, err
	}
	d.mu.Lock()
	h := Health{WorkerID: d.cfg.Load().WorkerID, IsLeader: d.isLeader, CurrentTaskID: d.currentTaskID, QueueDepth: counts}
	d.mu.Unlock()
	return h, nil
}

func outcomeName(k queue.OutcomeKind) string {
	switch k {
	case queue.OutcomeOK:
		return "ok"
	case queue.OutcomeQuota:
		return "quota"
	case queue.OutcomeRetriable:
		return "retriable"
	case queue.OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}
