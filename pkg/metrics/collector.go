// Package metrics exposes Prometheus collectors for task execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the counters and histograms recorded during a run. A nil
// *Collector is valid and records nothing.
type Collector struct {
	actionsTotal    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	recoveriesTotal *prometheus.CounterVec
	downloadsTotal  *prometheus.CounterVec
	inferenceTotal  *prometheus.CounterVec
	inferenceTime   *prometheus.HistogramVec
	tasksTotal      *prometheus.CounterVec
	taskDuration    prometheus.Histogram
}

// NewCollector registers the collectors under namespace with reg. Passing
// nil registers with the default registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		actionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed action nodes by payload kind and outcome",
		}, []string{"kind", "status"}),
		actionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action node execution time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locator_tries_total",
			Help:      "Element targeting attempts by phase",
		}, []string{"kind", "phase"}),
		recoveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Error classifications that triggered recovery",
		}, []string{"classification"}),
		downloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Downloads by outcome",
		}, []string{"source", "outcome"}),
		inferenceTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Inference server requests by operation and outcome",
		}, []string{"op", "status"}),
		inferenceTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_request_duration_seconds",
			Help:      "Inference server request time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"op"}),
		tasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished tasks by status",
		}, []string{"status"}),
		taskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task wall time in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
		}),
	}
}

func (c *Collector) RecordAction(kind, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.actionsTotal.WithLabelValues(kind, status).Inc()
	c.actionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordTry counts one targeting attempt; phase is "locator" or "index".
func (c *Collector) RecordTry(kind, phase string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(kind, phase).Inc()
}

func (c *Collector) RecordRecovery(classification string) {
	if c == nil {
		return
	}
	c.recoveriesTotal.WithLabelValues(classification).Inc()
}

// RecordDownload counts a download outcome: "saved", "discarded" or "failed".
func (c *Collector) RecordDownload(source, outcome string) {
	if c == nil {
		return
	}
	c.downloadsTotal.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) RecordInference(op, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.inferenceTotal.WithLabelValues(op, status).Inc()
	c.inferenceTime.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) RecordTask(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(status).Inc()
	c.taskDuration.Observe(d.Seconds())
}
