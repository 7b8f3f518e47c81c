package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/jordanlanch/outreach/pkg/automation"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Engine metrics
	EnrollmentsCreated   *prometheus.CounterVec
	EnrollmentsWithdrawn prometheus.Counter
	EnrollmentsCompleted prometheus.Counter
	StepsFired           *prometheus.CounterVec
	TicksTotal           prometheus.Counter
	TickFailures         prometheus.Counter
	StepsSkipped         prometheus.Counter
	TickDuration         prometheus.Histogram

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new Metrics instance on its own registry, with Go runtime
// and process collectors included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),

		EnrollmentsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrollments_created_total",
				Help: "Total number of enrollments created",
			},
			[]string{"source"}, // trigger, manual
		),
		EnrollmentsWithdrawn: factory.NewCounter(prometheus.CounterOpts{
			Name: "enrollments_withdrawn_total",
			Help: "Total number of enrollments withdrawn",
		}),
		EnrollmentsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "enrollments_completed_total",
			Help: "Total number of enrollments that fired every step",
		}),
		StepsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequence_steps_fired_total",
				Help: "Total number of sequence steps fired",
			},
			[]string{"action_type"},
		),
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "evaluation_ticks_total",
			Help: "Total number of evaluation ticks run",
		}),
		TickFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "evaluation_enrollment_failures_total",
			Help: "Total number of enrollments stopped early during a tick",
		}),
		StepsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "evaluation_steps_skipped_total",
			Help: "Total number of steps consumed without dispatch because they can never execute",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "evaluation_tick_duration_seconds",
			Help:    "Evaluation tick duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}

	return m
}

// Registry exposes the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchDB exports connection pool gauges read from stats on every scrape.
func (m *Metrics) WatchDB(stats func() sql.DBStats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		}, func() float64 { return float64(stats().OpenConnections) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections in use",
		}, func() float64 { return float64(stats().InUse) }),
	)
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, e.g. /api/v1/sequences/:id

			err := next(c)

			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, status).Observe(time.Since(start).Seconds())
			m.HTTPResponseSize.WithLabelValues(req.Method, path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// EnrollmentCreated increments the enrollments created counter
func (m *Metrics) EnrollmentCreated(source string) {
	m.EnrollmentsCreated.WithLabelValues(source).Inc()
}

// EnrollmentWithdrawn increments the withdrawn counter
func (m *Metrics) EnrollmentWithdrawn() {
	m.EnrollmentsWithdrawn.Inc()
}

// EnrollmentCompleted increments the completed counter
func (m *Metrics) EnrollmentCompleted() {
	m.EnrollmentsCompleted.Inc()
}

// StepFired increments the fired steps counter
func (m *Metrics) StepFired(actionType string) {
	m.StepsFired.WithLabelValues(actionType).Inc()
}

// TickCompleted records one evaluation tick
func (m *Metrics) TickCompleted(report *automation.TickReport, duration time.Duration) {
	m.TicksTotal.Inc()
	m.TickFailures.Add(float64(report.Failed))
	m.StepsSkipped.Add(float64(report.Skipped))
	m.TickDuration.Observe(duration.Seconds())
}

// CacheHit increments cache hits counter
func (m *Metrics) CacheHit(cache string) {
	m.CacheHits.WithLabelValues(cache).Inc()
}

// CacheMiss increments cache misses counter
func (m *Metrics) CacheMiss(cache string) {
	m.CacheMisses.WithLabelValues(cache).Inc()
}
