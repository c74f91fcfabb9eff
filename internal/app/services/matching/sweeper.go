package matching

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saficlean/marketplace/pkg/logger"
)

// Sweeper periodically re-scores pending jobs and alerts candidate cleaners.
// It implements the system.Service lifecycle.
type Sweeper struct {
	svc      *Service
	schedule string
	horizon  time.Duration
	cron     *cron.Cron
	log      *logger.Logger
}

// NewSweeper creates a sweeper on the given cron schedule. An empty schedule
// defaults to every ten minutes.
func NewSweeper(svc *Service, schedule string, horizon time.Duration, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = "@every 10m"
	}
	if horizon <= 0 {
		horizon = 48 * time.Hour
	}
	if log == nil {
		log = logger.NewDefault("matching-sweeper")
	}
	return &Sweeper{svc: svc, schedule: schedule, horizon: horizon, log: log}
}

func (s *Sweeper) Name() string { return "matching-sweeper" }

// Start schedules the sweep. The cron runner owns its own goroutine.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.svc.SweepPending(sweepCtx, s.horizon); err != nil {
			s.log.WithError(err).Warn("pending job sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.log.WithField("schedule", s.schedule).Info("matching sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("matching sweeper stopped")
	return nil
}
