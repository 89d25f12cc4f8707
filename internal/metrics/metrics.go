// Package metrics registers the executor/publisher's Prometheus
// instrumentation once at daemon startup, mirroring the original project's
// best-effort `from syndicate.metrics import METRICS` block.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TasksExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syndicate_tasks_executed_total",
		Help: "Total number of task execution attempts.",
	})
	TasksSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syndicate_tasks_succeeded_total",
		Help: "Total number of tasks that completed successfully.",
	})
	TasksFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syndicate_tasks_failed_total",
		Help: "Total number of tasks that reached a terminal failed state.",
	})
	TasksRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "syndicate_tasks_retried_total",
		Help: "Total number of task retries, labeled by classification.",
	}, []string{"reason"})
	OrphansRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syndicate_orphans_recovered_total",
		Help: "Total number of stuck in-progress tasks reset by orphan recovery.",
	})
	ExecutionLogRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syndicate_execution_log_retries_total",
		Help: "Total number of transient-storage retries while writing the execution log.",
	})
	ConsecutiveErrors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "syndicate_consecutive_errors",
		Help: "Current consecutive execution error count in the poll loop.",
	})
	IsLeader = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "syndicate_executor_is_leader",
		Help: "1 if this worker currently holds the executor leader lock.",
	}, []string{"worker_id"})
	HeartbeatTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "syndicate_heartbeat_timestamp_seconds",
		Help: "Unix timestamp of this worker's last heartbeat.",
	}, []string{"worker_id"})
)

// Register adds every collector to reg. It tolerates AlreadyRegisteredError,
// matching the original's tolerant metrics-import try/except — tests and
// in-process daemon restarts register twice against the same default
// registry.
func Register(reg prometheus.Registerer) {
	collectors := []prometheus.Collector{
		TasksExecuted, TasksSucceeded, TasksFailed, TasksRetried,
		OrphansRecovered, ExecutionLogRetries, ConsecutiveErrors, IsLeader,
		HeartbeatTimestamp,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
