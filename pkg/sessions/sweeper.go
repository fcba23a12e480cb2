package sessions

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/observability"
)

// DefaultSweepSchedule runs the sweep every minute
const DefaultSweepSchedule = "@every 1m"

// Sweeper runs SweepExpired on a cron schedule
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	logger  *observability.Logger
	onSweep func(expired int, err error)
}

// NewSweeper schedules manager.SweepExpired. onSweep, when set, receives the
// number of sessions expired by each run and the error that stopped it.
func NewSweeper(manager *Manager, schedule string, logger *observability.Logger, onSweep func(int, error)) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		manager: manager,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		onSweep: onSweep,
	}
	if _, err := s.cron.AddFunc(schedule, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// RunOnce performs a single sweep. Sessions expired before a failure are
// still counted.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	expired, err := s.manager.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithError(err).WithField("expired", expired).Error("Session sweep failed")
	} else if expired > 0 {
		s.logger.WithField("expired", expired).Info("Expired idle sessions")
	}
	if s.onSweep != nil {
		s.onSweep(expired, err)
	}
	return expired, err
}

// Start starts the scheduler in its own goroutine
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
