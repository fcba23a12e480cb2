package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/warden/pkg/app"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
)

var runOnce = flag.Bool("run-once", false, "Run every maintenance job once and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if cfg.Storage.PostgresURL == "" {
		logger.Error("warden-maintenance requires WARDEN_POSTGRES_URL; in-memory deployments run maintenance inside the server")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize")
		os.Exit(1)
	}
	defer a.Close()

	var archiver audit.Archiver
	if cfg.Audit.ArchiveBucket != "" {
		s3Archiver, err := audit.NewS3Archiver(ctx, audit.S3Config{
			Bucket:       cfg.Audit.ArchiveBucket,
			Prefix:       cfg.Audit.ArchivePrefix,
			Region:       cfg.Audit.S3Region,
			Endpoint:     cfg.Audit.S3Endpoint,
			AccessKey:    cfg.Audit.S3AccessKey,
			SecretKey:    cfg.Audit.S3SecretKey,
			UsePathStyle: cfg.Audit.S3UsePathStyle,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to create audit archiver")
			os.Exit(1)
		}
		archiver = s3Archiver
		logger.WithField("bucket", cfg.Audit.ArchiveBucket).Info("Archiving pruned audit entries to S3")
	}

	maintenance, err := app.NewMaintenance(a, cfg, archiver)
	if err != nil {
		logger.WithError(err).Error("Failed to schedule maintenance")
		os.Exit(1)
	}

	if *runOnce {
		if err := maintenance.RunOnce(ctx); err != nil {
			logger.WithError(err).Error("Maintenance failed")
			os.Exit(1)
		}
		logger.Info("Maintenance completed successfully")
		return
	}

	maintenance.Start()
	logger.WithFields(map[string]interface{}{
		"session_sweep":   cfg.Sessions.SweepSchedule,
		"audit_retention": cfg.Audit.RetentionSchedule,
		"quota_prune":     cfg.Quota.PruneSchedule,
	}).Info("Warden maintenance started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	maintenance.Stop()
	logger.Info("Maintenance stopped")
}
