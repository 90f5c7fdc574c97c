// Package metrics exposes workflow and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/expense-workflow/internal/application/service"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

const namespace = "expense"

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	submissions        *prometheus.CounterVec
	decisions          *prometheus.CounterVec
	classifierVerdicts *prometheus.CounterVec
	screeningDuration  prometheus.Histogram
	eventHandlers      *prometheus.CounterVec
	jobs               *prometheus.CounterVec
	jobAttempts        prometheus.Histogram

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Expense submissions by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Approval decisions by role and decision.",
		}, []string{"role", "decision"}),
		classifierVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_verdicts_total",
			Help:      "Receipt classifier verdicts.",
		}, []string{"decision"}),
		screeningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "screening_duration_seconds",
			Help:      "Time spent screening a submission.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		eventHandlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_runs_total",
			Help:      "Event handler runs by event type, handler and result.",
		}, []string{"event_type", "handler", "result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_jobs_total",
			Help:      "Background jobs by name and result.",
		}, []string{"job", "result"}),
		jobAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_job_attempts",
			Help:      "Attempts needed per background job.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions, m.decisions, m.classifierVerdicts, m.screeningDuration,
		m.eventHandlers, m.jobs, m.jobAttempts,
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
	)
	return m
}

func (m *Metrics) SubmissionOutcome(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Decision(role workflow.Role, decision entity.Decision) {
	m.decisions.WithLabelValues(string(role), string(decision)).Inc()
}

func (m *Metrics) ClassifierVerdict(decision string) {
	m.classifierVerdicts.WithLabelValues(decision).Inc()
}

func (m *Metrics) ScreeningDuration(d time.Duration) {
	m.screeningDuration.Observe(d.Seconds())
}

// ObserveHandler matches dispatcher.Observer
func (m *Metrics) ObserveHandler(eventType event.Type, handlerName string, err error) {
	m.eventHandlers.WithLabelValues(string(eventType), handlerName, result(err)).Inc()
}

// ObserveJob records a finished background job
func (m *Metrics) ObserveJob(name string, attempts int, err error) {
	m.jobs.WithLabelValues(name, result(err)).Inc()
	m.jobAttempts.Observe(float64(attempts))
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count, latency and in-flight requests. The
// route template is used as the path label to keep cardinality bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.httpInFlight.Inc()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpInFlight.Dec()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ service.Metrics = (*Metrics)(nil)
