// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. With no variables set, warden runs with
// in-memory stores.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden"
//	WARDEN_POSTGRES_MAX_CONNS="20"
//	WARDEN_REDIS_URL="redis://localhost:6379"
//
// Quota settings:
//
//	WARDEN_QUOTA_BACKEND="redis"        # memory, redis, postgres
//	WARDEN_QUOTA_COUNT_POLICY="attempts" # attempts, successes
//	WARDEN_QUOTA_TIMEZONE="Europe/Istanbul"
//
// Sessions and audit:
//
//	WARDEN_SESSION_IDLE_TIMEOUT="30m"
//	WARDEN_SESSION_SWEEP_SCHEDULE="@every 30s"
//	WARDEN_AUDIT_RETENTION_DAYS="90"
//	WARDEN_AUDIT_ARCHIVE_BUCKET="warden-audit"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="true"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Quota backend: %s\n", cfg.Quota.Backend)
package config
