package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
)

// Quota counter backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Access-control behavior
	Quota     QuotaConfig
	Sessions  SessionConfig
	Audit     AuditConfig
	Templates TemplateConfig
	Bootstrap BootstrapConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig selects the backing stores. An empty PostgresURL keeps
// everything in memory.
type StorageConfig struct {
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// QuotaConfig configures counter storage and counting semantics
type QuotaConfig struct {
	Backend       string
	CountPolicy   quota.CountPolicy
	Timezone      string
	PruneSchedule string
}

// SessionConfig configures session expiry
type SessionConfig struct {
	IdleTimeout   time.Duration
	SweepSchedule string
}

// AuditConfig configures retention and archiving
type AuditConfig struct {
	RetentionDays     int
	RetentionSchedule string

	ArchiveBucket  string
	ArchivePrefix  string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// TemplateConfig configures the template catalog
type TemplateConfig struct {
	CacheSize    int
	CacheTTL     time.Duration
	BaselineFile string
}

// BootstrapConfig names the platform tenant and its first administrator
type BootstrapConfig struct {
	SystemTenant string
	Admin        string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Quota:         loadQuotaConfig(),
		Sessions:      loadSessionConfig(),
		Audit:         loadAuditConfig(),
		Templates:     loadTemplateConfig(),
		Bootstrap:     loadBootstrapConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("WARDEN_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:         getEnv("WARDEN_POSTGRES_URL", ""),
		PostgresReplicaURLs: getEnv("WARDEN_POSTGRES_REPLICA_URLS", ""),
		PostgresMaxConns:    getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns:    getEnvInt("WARDEN_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:     getEnvDuration("WARDEN_POSTGRES_TIMEOUT", 10*time.Second),
		RedisURL:            getEnv("WARDEN_REDIS_URL", ""),
		RedisPassword:       getEnv("WARDEN_REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("WARDEN_REDIS_DB", 0),
		RedisPoolSize:       getEnvInt("WARDEN_REDIS_POOL_SIZE", 10),
	}
}

func loadQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Backend:       strings.ToLower(getEnv("WARDEN_QUOTA_BACKEND", BackendMemory)),
		CountPolicy:   quota.CountPolicy(strings.ToLower(getEnv("WARDEN_QUOTA_COUNT_POLICY", string(quota.CountAttempts)))),
		Timezone:      getEnv("WARDEN_QUOTA_TIMEZONE", "UTC"),
		PruneSchedule: getEnv("WARDEN_QUOTA_PRUNE_SCHEDULE", "30 3 * * *"),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:   getEnvDuration("WARDEN_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SweepSchedule: getEnv("WARDEN_SESSION_SWEEP_SCHEDULE", "@every 30s"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		RetentionDays:     getEnvInt("WARDEN_AUDIT_RETENTION_DAYS", 90),
		RetentionSchedule: getEnv("WARDEN_AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
		ArchiveBucket:     getEnv("WARDEN_AUDIT_ARCHIVE_BUCKET", ""),
		ArchivePrefix:     getEnv("WARDEN_AUDIT_ARCHIVE_PREFIX", ""),
		S3Endpoint:        getEnv("WARDEN_S3_ENDPOINT", ""),
		S3Region:          getEnv("WARDEN_S3_REGION", "us-east-1"),
		S3AccessKey:       getEnv("WARDEN_S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("WARDEN_S3_SECRET_KEY", ""),
		S3UsePathStyle:    getEnvBool("WARDEN_S3_USE_PATH_STYLE", false),
	}
}

func loadTemplateConfig() TemplateConfig {
	return TemplateConfig{
		CacheSize:    getEnvInt("WARDEN_TEMPLATE_CACHE_SIZE", 128),
		CacheTTL:     getEnvDuration("WARDEN_TEMPLATE_CACHE_TTL", 5*time.Minute),
		BaselineFile: getEnv("WARDEN_BASELINE_FILE", ""),
	}
}

func loadBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		SystemTenant: getEnv("WARDEN_SYSTEM_TENANT", "system"),
		Admin:        getEnv("WARDEN_BOOTSTRAP_ADMIN", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	switch c.Quota.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis quota backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres quota backend")
		}
	default:
		return fmt.Errorf("invalid quota backend: %s (must be memory, redis, or postgres)", c.Quota.Backend)
	}
	if err := c.Quota.CountPolicy.Validate(); err != nil {
		return err
	}
	if _, err := c.Quota.Location(); err != nil {
		return err
	}
	if err := validateSchedule("quota prune", c.Quota.PruneSchedule); err != nil {
		return err
	}

	if c.Sessions.IdleTimeout <= 0 {
		return fmt.Errorf("session idle timeout must be positive")
	}
	if err := validateSchedule("session sweep", c.Sessions.SweepSchedule); err != nil {
		return err
	}

	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days must not be negative")
	}
	if err := validateSchedule("audit retention", c.Audit.RetentionSchedule); err != nil {
		return err
	}

	if c.Templates.CacheSize <= 0 {
		return fmt.Errorf("template cache size must be positive")
	}
	if strings.TrimSpace(c.Bootstrap.SystemTenant) == "" {
		return fmt.Errorf("system tenant is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Location resolves the configured timezone
func (q QuotaConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

// Retention returns the audit retention horizon. Zero disables pruning.
func (a AuditConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

func validateSchedule(name, spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
