// Package telemetry defines the Prometheus metrics exported by the
// benchmark pipeline.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentbench"

var (
	// RunsFinished counts runs reaching a terminal status.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Benchmark runs that reached a terminal status",
	}, []string{"status", "trigger"})

	// RunsSubmitted counts runs handed to the worker pool.
	RunsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_submitted_total",
		Help:      "Benchmark runs submitted for asynchronous execution by result",
	}, []string{"result"})

	// AlertsTriggered counts fired alerts.
	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_triggered_total",
		Help:      "Alerts that fired by severity",
	}, []string{"severity"})

	// NotificationFailures counts per-channel delivery failures.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Alert notification delivery failures by channel",
	}, []string{"channel"})

	// ProviderFailures counts skipped metric provider invocations.
	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_failures_total",
		Help:      "Metric provider failures by metric name",
	}, []string{"metric"})

	// KPIEvaluationFailures counts KPIs that could not be compiled or
	// evaluated.
	KPIEvaluationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kpi_evaluation_failures_total",
		Help:      "KPI formulas that failed to compile or evaluate",
	})

	// TraceDuration tracks per-trace scoring latency.
	TraceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trace_processing_duration_seconds",
		Help:      "Time spent scoring and persisting one trace",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// SchedulesDispatched counts due schedules turned into runs.
	SchedulesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedules_dispatched_total",
		Help:      "Due schedules processed by the task runner by result",
	}, []string{"result"})

	// StaleRunsFailed counts runs failed by the stale-run sweep.
	StaleRunsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_runs_failed_total",
		Help:      "Runs failed because they exceeded the stale-run timeout",
	})
)

// ObserveTrace records the time elapsed since start.
func ObserveTrace(start time.Time) {
	TraceDuration.Observe(time.Since(start).Seconds())
}
