// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", id).Info("Tenant suspended")
//
// Loggers travel in the request context; FromContext adds the request and
// user ids set by the HTTP middleware.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.DecisionsTotal.WithLabelValues("quota.consume", "denied", "quota_exceeded").Inc()
//
// # Tracing
//
// InitOTel installs OTLP exporters as the global providers. Tracer returns a
// no-op tracer until then, so instrumented code runs unchanged in tests.
package observability
