package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/engine"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/sessions"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
	"github.com/platinummonkey/warden/pkg/tenants"
)

// redisKeyPrefix namespaces quota counters in a shared Redis
const redisKeyPrefix = "warden:quota"

// App holds the wired components of one warden process
type App struct {
	Engine    *engine.Engine
	Sessions  *sessions.Manager
	Quota     *quota.Enforcer
	Counters  quota.CounterStore
	Audit     audit.Logger
	Retention audit.Retention

	// DB and Redis are nil when the matching backend is not configured
	DB    *sql.DB
	Redis *redis.Client

	config  *config.Config
	conns   *postgres.ConnectionManager
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New connects the configured backends, applies migrations and builds the
// engine. metrics may be nil.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*App, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	a := &App{config: cfg, logger: logger, metrics: metrics}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	storage := a.config.Storage
	if storage.PostgresURL != "" {
		conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
			PrimaryURL:  storage.PostgresURL,
			ReplicaURLs: postgres.ParseReplicaURLs(storage.PostgresReplicaURLs),
			MaxConns:    storage.PostgresMaxConns,
			MinConns:    storage.PostgresMinConns,
			Timeout:     storage.PostgresTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.conns = conns
		a.DB = conns.Primary()

		if err := Migrate(ctx, a.DB); err != nil {
			return err
		}
		a.logger.WithField("replicas", conns.ReplicaCount()).Info("Connected to PostgreSQL")
	}

	if a.config.Quota.Backend == config.BackendRedis {
		client, err := postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:      storage.RedisURL,
			Password: storage.RedisPassword,
			DB:       storage.RedisDB,
			PoolSize: storage.RedisPoolSize,
		})
		if err != nil {
			return err
		}
		a.Redis = client
		a.logger.Info("Connected to Redis")
	}
	return nil
}

func (a *App) build() error {
	cfg := a.config

	catalogConfig := rbac.CatalogConfig{CacheSize: cfg.Templates.CacheSize, CacheTTL: cfg.Templates.CacheTTL}
	if cfg.Templates.BaselineFile != "" {
		baseline, err := rbac.LoadBaselineFile(cfg.Templates.BaselineFile)
		if err != nil {
			return err
		}
		catalogConfig.Baseline = baseline
	}

	var (
		templates    rbac.TemplateStore
		assignments  rbac.AssignmentStore
		users        tenants.UserCounter
		tenantStore  tenants.Store
		sessionStore sessions.Store
	)
	if a.DB != nil {
		rbacStore := rbac.NewStore(a.DB)
		templates, assignments, users = rbacStore, rbacStore, rbacStore
		tenantStore = tenants.NewPostgresStore(a.DB)
		sessionStore = sessions.NewPostgresStore(a.DB)

		dbLogger, err := audit.NewDBLogger(a.DB)
		if err != nil {
			return err
		}
		if a.conns != nil {
			dbLogger.WithReader(a.conns.Replica)
		}
		a.Audit, a.Retention = dbLogger, dbLogger
	} else {
		rbacStore := rbac.NewMemoryStore()
		templates, assignments, users = rbacStore, rbacStore, rbacStore
		tenantStore = tenants.NewMemoryStore()
		sessionStore = sessions.NewMemoryStore()

		memory := audit.NewMemoryLogger()
		a.Audit, a.Retention = memory, memory
	}

	switch cfg.Quota.Backend {
	case config.BackendRedis:
		a.Counters = quota.NewRedisStore(a.Redis, redisKeyPrefix)
	case config.BackendPostgres:
		if a.DB == nil {
			return errors.New("postgres quota backend requires WARDEN_POSTGRES_URL")
		}
		a.Counters = quota.NewPostgresStore(a.DB)
	default:
		a.Counters = quota.NewMemoryStore()
	}

	loc, err := cfg.Quota.Location()
	if err != nil {
		return err
	}

	catalog := rbac.NewCatalog(templates, catalogConfig)
	registry := tenants.NewRegistry(tenantStore, users)
	resolver := rbac.NewResolver(catalog, registry, assignments, cfg.Bootstrap.SystemTenant)

	quotaConfig := quota.DefaultConfig()
	quotaConfig.Policy = cfg.Quota.CountPolicy
	quotaConfig.Location = loc
	a.Quota, err = quota.NewEnforcer(a.Counters, registry, resolver, quotaConfig)
	if err != nil {
		return err
	}

	a.Sessions = sessions.NewManager(sessionStore, resolver, sessions.Config{IdleTimeout: cfg.Sessions.IdleTimeout})

	a.Engine, err = engine.New(engine.Components{
		Catalog:  catalog,
		Tenants:  registry,
		Resolver: resolver,
		Quota:    a.Quota,
		Sessions: a.Sessions,
		Audit:    a.Audit,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})
	return err
}

// Bootstrap seeds the baseline templates, the system tenant and the
// configured first administrator
func (a *App) Bootstrap(ctx context.Context) error {
	report, err := a.Engine.Bootstrap(ctx, a.config.Bootstrap.Admin)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	a.logger.WithFields(map[string]interface{}{
		"created":   len(report.Created),
		"refreshed": len(report.Refreshed),
		"skipped":   len(report.Skipped),
	}).Info("Baseline templates seeded")
	return nil
}

// HealthChecker reports on the connected backends
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	var client redis.UniversalClient
	if a.Redis != nil {
		client = a.Redis
	}
	return observability.NewHealthChecker(a.DB, client, version)
}

// Close releases backend connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.conns != nil {
		errs = append(errs, a.conns.Close())
	}
	return errors.Join(errs...)
}

// Migrate applies every component's schema migrations in dependency order
func Migrate(ctx context.Context, db *sql.DB) error {
	components := []struct {
		name       string
		migrations []postgres.Migration
	}{
		{"tenants", tenants.GetMigrations()},
		{"rbac", rbac.GetMigrations()},
		{"sessions", sessions.GetMigrations()},
		{"quota", quota.GetMigrations()},
		{"audit", audit.GetMigrations()},
	}
	for _, c := range components {
		if err := postgres.Migrate(ctx, db, c.name, c.migrations); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", c.name, err)
		}
	}
	return nil
}
