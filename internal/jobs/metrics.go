// Package jobmetrics instruments the export worker and the queue it drains.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes. A dropped run failed in a way retries cannot fix.
const (
	StatusSuccess = "success"
	StatusRetry   = "retry"
	StatusDropped = "dropped"
)

// Metrics exposes Prometheus collectors for export and refresh tasks.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	exported *prometheus.CounterVec
	queue    *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors against registerer, or once against
// the default Prometheus registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker times one task run.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
}

// Track starts timing a run of the given task type.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{metrics: m, task: task, start: time.Now()}
}

// End records the run outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.task == "" {
		return err
	}
	t.metrics.runs.WithLabelValues(t.task, Outcome(err)).Inc()
	t.metrics.duration.WithLabelValues(t.task).Observe(time.Since(t.start).Seconds())
	return err
}

// Outcome classifies a handler result the way the queue will treat it.
func Outcome(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, asynq.SkipRetry):
		return StatusDropped
	default:
		return StatusRetry
	}
}

// AddExport counts the bytes of one finished export file.
func (m *Metrics) AddExport(entity, format string, bytes int) {
	if m == nil || bytes < 0 {
		return
	}
	m.exported.WithLabelValues(entity, format).Add(float64(bytes))
}

// ObserveQueue publishes the task counts of queue keyed by state.
func (m *Metrics) ObserveQueue(queue string, counts map[string]int) {
	if m == nil {
		return
	}
	for state, n := range counts {
		m.queue.WithLabelValues(queue, state).Set(float64(n))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_task_runs_total",
		Help: "Task runs by task type and outcome.",
	}, []string{"task", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_task_duration_seconds",
		Help:    "Task run duration in seconds.",
		Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
	}, []string{"task"})
	exported := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_export_bytes_total",
		Help: "Bytes of export files produced, by entity and format.",
	}, []string{"entity", "format"})
	queue := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backoffice_queue_tasks",
		Help: "Tasks in the job queue by state, as last inspected.",
	}, []string{"queue", "state"})
	registerer.MustRegister(runs, duration, exported, queue)
	return &Metrics{runs: runs, duration: duration, exported: exported, queue: queue}
}
