package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter receives one call per finished job run.
type Counter interface {
	JobProcessed(task string, err error)
}

// Metrics times background job executions.
type Metrics struct {
	duration *prometheus.HistogramVec
	counter  Counter
}

// NewMetrics registers the duration histogram against registerer. counter
// may be nil.
func NewMetrics(registerer prometheus.Registerer, counter Counter) *Metrics {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicing_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
	if registerer != nil {
		registerer.MustRegister(duration)
	}
	return &Metrics{duration: duration, counter: counter}
}

// Tracker provides lifecycle instrumentation for a single job run.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
}

// Track starts timing a run of task.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{metrics: m, task: task, start: time.Now()}
}

// End records the run and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.task == "" {
		return err
	}
	t.metrics.duration.WithLabelValues(t.task).Observe(time.Since(t.start).Seconds())
	if t.metrics.counter != nil {
		t.metrics.counter.JobProcessed(t.task, err)
	}
	return err
}
