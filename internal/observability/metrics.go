package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Write modes for QuotationWritten.
const (
	ModeCreate  = "create"
	ModeVersion = "version"
	ModeSilent  = "silent"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	quotationsWritten *prometheus.CounterVec
	numbersIssued     prometheus.Counter
	actionLogFailures prometheus.Counter
	shareViews        prometheus.Counter
	jobsTotal         *prometheus.CounterVec
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicing_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicing_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	written := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicing_quotations_written_total",
		Help: "Quotation documents committed, by write mode.",
	}, []string{"mode"})
	issued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoicing_numbers_issued_total",
		Help: "Base invoice numbers drawn from the counter by committed writes.",
	})
	actionFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoicing_action_log_failures_total",
		Help: "Action log appends that failed and were dropped.",
	})
	views := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoicing_share_views_total",
		Help: "Public share link views served.",
	})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicing_jobs_total",
		Help: "Background tasks processed by type and status.",
	}, []string{"task", "status"})
	registry.MustRegister(requests, duration, written, issued, actionFailures, views, jobs)
	for _, mode := range []string{ModeCreate, ModeVersion, ModeSilent} {
		written.WithLabelValues(mode)
	}
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		quotationsWritten: written,
		numbersIssued:     issued,
		actionLogFailures: actionFailures,
		shareViews:        views,
		jobsTotal:         jobs,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Gather snapshots every registered collector.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	if m == nil {
		return nil, nil
	}
	return m.registry.Gather()
}

// QuotationWritten counts a committed document write. Only creates draw a
// base number from the counter.
func (m *Metrics) QuotationWritten(mode string) {
	if m == nil {
		return
	}
	m.quotationsWritten.WithLabelValues(mode).Inc()
	if mode == ModeCreate {
		m.numbersIssued.Inc()
	}
}

// ShareViewed counts a public view.
func (m *Metrics) ShareViewed() {
	if m == nil {
		return
	}
	m.shareViews.Inc()
}

// JobProcessed counts a background task outcome.
func (m *Metrics) JobProcessed(task string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobsTotal.WithLabelValues(task, status).Inc()
}

// ActionLogFailures is handed to the action log.
func (m *Metrics) ActionLogFailures() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.actionLogFailures
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
