package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/sessions"
)

// Maintenance job names, used as the job label of MaintenanceRunsTotal
const (
	JobSessionSweep = "session_sweep"
	JobAuditPrune   = "audit_prune"
	JobCounterPrune = "counter_prune"
)

// Maintenance runs the periodic jobs that keep state bounded: idle session
// expiry, audit retention and quota counter pruning
type Maintenance struct {
	sweeper *sessions.Sweeper
	pruner  *audit.Pruner
	quota   *quota.Enforcer
	cron    *cron.Cron
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewMaintenance schedules the jobs for a. archiver may be nil.
func NewMaintenance(a *App, cfg *config.Config, archiver audit.Archiver) (*Maintenance, error) {
	m := &Maintenance{
		pruner:  audit.NewPruner(a.Retention, archiver, cfg.Audit.Retention()),
		quota:   a.Quota,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  a.logger,
		metrics: a.metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}

	var err error
	m.sweeper, err = sessions.NewSweeper(a.Sessions, cfg.Sessions.SweepSchedule, a.logger, m.sweptSessions)
	if err != nil {
		return nil, fmt.Errorf("invalid session sweep schedule: %w", err)
	}
	if _, err := m.cron.AddFunc(cfg.Audit.RetentionSchedule, func() { m.pruneAudit(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid audit retention schedule: %w", err)
	}
	if _, err := m.cron.AddFunc(cfg.Quota.PruneSchedule, func() { m.pruneCounters(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid quota prune schedule: %w", err)
	}
	return m, nil
}

// RunOnce runs every job once and returns the first error
func (m *Maintenance) RunOnce(ctx context.Context) error {
	_, sweepErr := m.sweeper.RunOnce(ctx)
	_, auditErr := m.pruneAudit(ctx)
	_, counterErr := m.pruneCounters(ctx)
	for _, err := range []error{sweepErr, auditErr, counterErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Start starts the schedules in their own goroutines
func (m *Maintenance) Start() {
	m.sweeper.Start()
	m.cron.Start()
}

// Stop stops the schedules and waits for running jobs
func (m *Maintenance) Stop() {
	m.sweeper.Stop()
	<-m.cron.Stop().Done()
}

// sweptSessions records a sweep; the sweeper has already logged it
func (m *Maintenance) sweptSessions(expired int, err error) {
	if m.metrics == nil {
		return
	}
	m.metrics.SessionsExpiredTotal.Add(float64(expired))
	m.metrics.MaintenanceRunsTotal.WithLabelValues(JobSessionSweep, runStatus(err)).Inc()
}

func (m *Maintenance) pruneAudit(ctx context.Context) (int64, error) {
	pruned, err := m.pruner.Prune(ctx, m.now())
	m.finish(JobAuditPrune, pruned, err)
	if m.metrics != nil && pruned > 0 {
		m.metrics.AuditPrunedTotal.Add(float64(pruned))
	}
	return pruned, err
}

// pruneCounters drops counters whose window started before the previous
// month; no daily or monthly decision reads them again
func (m *Maintenance) pruneCounters(ctx context.Context) (int64, error) {
	pruned, err := m.quota.Prune(ctx, m.now())
	m.finish(JobCounterPrune, pruned, err)
	return pruned, err
}

func (m *Maintenance) finish(job string, affected int64, err error) {
	log := m.logger.WithFields(map[string]interface{}{"job": job, "affected": affected})
	if err != nil {
		log.WithError(err).Error("Maintenance job failed")
	} else if affected > 0 {
		log.Info("Maintenance job completed")
	}
	if m.metrics != nil {
		m.metrics.MaintenanceRunsTotal.WithLabelValues(job, runStatus(err)).Inc()
	}
}

func runStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
