// ============================================================================
// Thread Pool Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose scheduler metrics for Prometheus monitoring
//
// Monitoring Philosophy:
//   Based on RED (Rate, Errors, Duration) and USE (Utilization, Saturation, Errors)
//   Provides comprehensive scheduler observability
//
// Metric Categories:
//
//   1. Task Counters - Cumulative, monotonically increasing:
//      - threadpool_tasks_posted_total: Total tasks accepted by PostTask/PostDelayedTask
//      - threadpool_tasks_rejected_total: Total tasks refused (shutdown phase or fence)
//      - threadpool_tasks_completed_total: Total tasks that finished running
//
//   2. Performance Metrics (Histogram) - Distribution stats:
//      - threadpool_task_latency_seconds: post-to-completion latency distribution
//        * Buckets: 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10
//        * For scheduling-delay and SLA monitoring
//
//   3. Status Metrics (Gauge) - Instantaneous values:
//      - threadpool_queued_task_sources: task sources currently queued, by group
//      - threadpool_running_tasks: tasks currently running, by group
//      - threadpool_max_tasks: current max_tasks ceiling, by group
//      - threadpool_fence_active: 1 if a CanRunNone fence is held, else 0
//      - threadpool_best_effort_fence_active: 1 if a CanRunForegroundOnly fence is held
//      - threadpool_shutdown_phase: 0=NotStarted, 1=InProgress, 2=Complete
//
// Use Cases:
//
//   Alerting:
//   - threadpool_task_latency_seconds > 5s → scheduling starvation
//   - threadpool_tasks_rejected_total rate increase → shutdown thrash or fence misuse
//   - threadpool_queued_task_sources continuous growth → insufficient capacity
//
//   Capacity Planning:
//   - threadpool_tasks_completed_total / time → throughput trends
//   - threadpool_running_tasks / threadpool_max_tasks → group saturation
//   - threadpool_queued_task_sources peaks → required max_tasks
//
//   Troubleshooting:
//   - threadpool_best_effort_fence_active stuck at 1 → EndBestEffortFence never called
//   - task_latency anomaly → check for a held fence or a MayBlock scope gone WillBlock
//
// Prometheus Query Examples:
//
//   # Tasks completed per minute
//   rate(threadpool_tasks_completed_total[1m])
//
//   # 95th percentile task latency
//   histogram_quantile(0.95, threadpool_task_latency_seconds_bucket)
//
//   # Rejection rate
//   rate(threadpool_tasks_rejected_total[5m]) / rate(threadpool_tasks_posted_total[5m])
//
//   # Group saturation
//   threadpool_running_tasks / threadpool_max_tasks
//
// HTTP Endpoint:
//   Exposed via /metrics endpoint, scraped by Prometheus
//   Port: given by the caller of StartServer (the CLI passes metrics.port)
//   Format: OpenMetrics / Prometheus text format
//
// Performance:
//   - Counter/Gauge operations are atomic, thread-safe
//   - Histogram calculates multiple buckets with overhead
//   - Per-group gauges are keyed by a "group" label, not one series per group
//
// Future Extensions:
//   Possible additional metrics:
//   - JobTaskSource concurrency utilization
//   - single-thread worker idle time
//   - delayed-task queue depth
//
// ============================================================================
// Metrics Module
// Responsibility: Collect and expose Prometheus metrics
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for a ThreadPool. All methods are
// safe to call concurrently; Prometheus collectors are inherently so.
type Collector struct {
	// Task counters
	tasksPosted    prometheus.Counter
	tasksRejected  prometheus.Counter
	tasksCompleted prometheus.Counter

	// Performance metrics
	taskLatency prometheus.Histogram

	// Status metrics, labeled by thread group name ("foreground"/"background")
	queuedTaskSources *prometheus.GaugeVec
	runningTasks      *prometheus.GaugeVec
	maxTasks          *prometheus.GaugeVec

	fenceActive           prometheus.Gauge
	bestEffortFenceActive prometheus.Gauge
	shutdownPhase         prometheus.Gauge
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		tasksPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadpool_tasks_posted_total",
			Help: "Total number of tasks accepted for posting",
		}),
		tasksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadpool_tasks_rejected_total",
			Help: "Total number of tasks refused at post time (shutdown phase or fence)",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadpool_tasks_completed_total",
			Help: "Total number of tasks that finished running",
		}),
		taskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "threadpool_task_latency_seconds",
			Help:    "Post-to-completion latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		queuedTaskSources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "threadpool_queued_task_sources",
			Help: "Current number of task sources queued, by thread group",
		}, []string{"group"}),
		runningTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "threadpool_running_tasks",
			Help: "Current number of tasks running, by thread group",
		}, []string{"group"}),
		maxTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "threadpool_max_tasks",
			Help: "Current max_tasks ceiling, by thread group",
		}, []string{"group"}),
		fenceActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadpool_fence_active",
			Help: "1 if a CanRunNone fence is currently held, else 0",
		}),
		bestEffortFenceActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadpool_best_effort_fence_active",
			Help: "1 if a CanRunForegroundOnly fence is currently held, else 0",
		}),
		shutdownPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadpool_shutdown_phase",
			Help: "Shutdown phase: 0=NotStarted, 1=InProgress, 2=Complete",
		}),
	}

	prometheus.MustRegister(c.tasksPosted)
	prometheus.MustRegister(c.tasksRejected)
	prometheus.MustRegister(c.tasksCompleted)
	prometheus.MustRegister(c.taskLatency)
	prometheus.MustRegister(c.queuedTaskSources)
	prometheus.MustRegister(c.runningTasks)
	prometheus.MustRegister(c.maxTasks)
	prometheus.MustRegister(c.fenceActive)
	prometheus.MustRegister(c.bestEffortFenceActive)
	prometheus.MustRegister(c.shutdownPhase)

	return c
}

// RecordPosted records a task accepted for posting.
func (c *Collector) RecordPosted() {
	c.tasksPosted.Inc()
}

// RecordRejected records a task refused at post time.
func (c *Collector) RecordRejected() {
	c.tasksRejected.Inc()
}

// RecordCompleted records a task completion with its post-to-completion latency.
func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.tasksCompleted.Inc()
	c.taskLatency.Observe(latencySeconds)
}

// SetGroupStats updates the per-group queue/running/max_tasks gauges for
// the named thread group ("foreground" or "background").
func (c *Collector) SetGroupStats(group string, queued, running, maxTasks int) {
	c.queuedTaskSources.WithLabelValues(group).Set(float64(queued))
	c.runningTasks.WithLabelValues(group).Set(float64(running))
	c.maxTasks.WithLabelValues(group).Set(float64(maxTasks))
}

// SetFenceState reflects the current CanRunPolicy inputs.
func (c *Collector) SetFenceState(fenced, bestEffortFenced bool) {
	c.fenceActive.Set(boolToFloat(fenced))
	c.bestEffortFenceActive.Set(boolToFloat(bestEffortFenced))
}

// SetShutdownPhase reflects the TaskTracker's current shutdown phase.
func (c *Collector) SetShutdownPhase(phase int) {
	c.shutdownPhase.Set(float64(phase))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// StartServer starts the Prometheus metrics HTTP server.
//
// Parameters:
//   - port: HTTP server port
//
// Returns:
//   - error: Error on startup failure
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
