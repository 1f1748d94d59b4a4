/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Submit rejection reasons as they appear in metric labels.
const (
	RejectionReasonQueueFull   = "queue_full"
	RejectionReasonQueueClosed = "queue_closed"
	RejectionReasonRateLimited = "rate_limited"
)

// MetricsCollector is an interface for collecting task queue metrics.
type MetricsCollector interface {
	// SetQueuedAmount sets the total number of queued tasks.
	SetQueuedAmount(amount int)

	// SetRunningAmount sets the total number of currently running tasks.
	SetRunningAmount(amount int)

	// IncTasksSettled increments the counter of settled tasks with the given final status.
	IncTasksSettled(status Status)

	// IncSubmitRejections increments the counter of rejected submissions with the given reason.
	IncSubmitRejections(reason string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents a Prometheus-based MetricsCollector.
type PrometheusMetrics struct {
	QueuedAmount     prometheus.Gauge
	RunningAmount    prometheus.Gauge
	TasksSettled     *prometheus.CounterVec
	SubmitRejections *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new Prometheus-based MetricsCollector with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new Prometheus-based MetricsCollector with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	queuedAmount := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   opts.Namespace,
		Name:        "task_queue_queued_amount",
		Help:        "Total number of queued tasks.",
		ConstLabels: opts.ConstLabels,
	})
	runningAmount := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   opts.Namespace,
		Name:        "task_queue_running_amount",
		Help:        "Total number of currently running tasks.",
		ConstLabels: opts.ConstLabels,
	})
	tasksSettled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   opts.Namespace,
		Name:        "task_queue_tasks_settled_total",
		Help:        "Total number of settled tasks.",
		ConstLabels: opts.ConstLabels,
	}, []string{"status"})
	submitRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   opts.Namespace,
		Name:        "task_queue_submit_rejections_total",
		Help:        "Total number of rejected task submissions.",
		ConstLabels: opts.ConstLabels,
	}, []string{"reason"})
	return &PrometheusMetrics{
		QueuedAmount:     queuedAmount,
		RunningAmount:    runningAmount,
		TasksSettled:     tasksSettled,
		SubmitRejections: submitRejections,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.QueuedAmount,
		pm.RunningAmount,
		pm.TasksSettled,
		pm.SubmitRejections,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.QueuedAmount)
	prometheus.Unregister(pm.RunningAmount)
	prometheus.Unregister(pm.TasksSettled)
	prometheus.Unregister(pm.SubmitRejections)
}

// SetQueuedAmount sets the total number of queued tasks.
func (pm *PrometheusMetrics) SetQueuedAmount(amount int) {
	pm.QueuedAmount.Set(float64(amount))
}

// SetRunningAmount sets the total number of currently running tasks.
func (pm *PrometheusMetrics) SetRunningAmount(amount int) {
	pm.RunningAmount.Set(float64(amount))
}

// IncTasksSettled increments the counter of settled tasks with the given final status.
func (pm *PrometheusMetrics) IncTasksSettled(status Status) {
	pm.TasksSettled.WithLabelValues(status.String()).Inc()
}

// IncSubmitRejections increments the counter of rejected submissions with the given reason.
func (pm *PrometheusMetrics) IncSubmitRejections(reason string) {
	pm.SubmitRejections.WithLabelValues(reason).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetQueuedAmount(amount int)        {}
func (disabledMetrics) SetRunningAmount(amount int)       {}
func (disabledMetrics) IncTasksSettled(status Status)     {}
func (disabledMetrics) IncSubmitRejections(reason string) {}
