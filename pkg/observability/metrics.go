package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Decision metrics
	DecisionsTotal    *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec

	// Quota metrics
	QuotaConsumedTotal *prometheus.CounterVec
	QuotaDeniedTotal   *prometheus.CounterVec

	// Session metrics
	SessionsCreatedTotal    prometheus.Counter
	SessionsTerminatedTotal *prometheus.CounterVec
	SessionsExpiredTotal    prometheus.Counter

	// Audit metrics
	AuditAppendFailuresTotal prometheus.Counter
	AuditPrunedTotal         prometheus.Counter

	// Maintenance
	MaintenanceRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_decisions_total",
				Help: "Access and quota decisions by operation and outcome",
			},
			[]string{"operation", "outcome", "reason"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_operation_duration_seconds",
				Help:    "Engine operation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		OperationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_operation_errors_total",
				Help: "Engine operation errors by class",
			},
			[]string{"operation", "class"},
		),

		QuotaConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_quota_consumed_total",
				Help: "Units consumed by allowed quota checks",
			},
			[]string{"feature"},
		),
		QuotaDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_quota_denied_total",
				Help: "Quota checks denied",
			},
			[]string{"feature", "reason"},
		),

		SessionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sessions_created_total",
				Help: "Sessions created",
			},
		),
		SessionsTerminatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_sessions_terminated_total",
				Help: "Sessions terminated by reason",
			},
			[]string{"reason"},
		),
		SessionsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sessions_expired_total",
				Help: "Sessions expired by the sweeper",
			},
		),

		AuditAppendFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_append_failures_total",
				Help: "Audit entries that could not be stored",
			},
		),
		AuditPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_pruned_total",
				Help: "Audit entries removed by retention",
			},
		),

		MaintenanceRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_maintenance_runs_total",
				Help: "Maintenance job runs by job and status",
			},
			[]string{"job", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.OperationDuration,
		m.OperationErrors,
		m.QuotaConsumedTotal,
		m.QuotaDeniedTotal,
		m.SessionsCreatedTotal,
		m.SessionsTerminatedTotal,
		m.SessionsExpiredTotal,
		m.AuditAppendFailuresTotal,
		m.AuditPrunedTotal,
		m.MaintenanceRunsTotal,
	)

	return m
}

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. routeOf maps a request to
// a low-cardinality route label; the raw path is used when it is nil.
func HTTPMetricsMiddleware(metrics *Metrics, routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeOf != nil {
				route = routeOf(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
