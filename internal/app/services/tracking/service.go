// Package tracking implements live time tracking for in-progress jobs:
// business-hour enforcement, pause/resume bookkeeping and overtime billing.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	domtrack "github.com/saficlean/marketplace/internal/app/domain/tracking"
	"github.com/saficlean/marketplace/internal/app/metrics"
	apperr "github.com/saficlean/marketplace/internal/errors"
	"github.com/saficlean/marketplace/pkg/logger"
)

// StartWindow is how far from the scheduled time a job may be started.
const StartWindow = 30 * time.Minute

// OvertimeMultiplier prices minutes beyond the estimate.
const OvertimeMultiplier = 1.5

// JobControl is the slice of the jobs service tracking depends on.
type JobControl interface {
	Get(ctx context.Context, id string) (job.Job, error)
	Start(ctx context.Context, jobID, cleanerID string) (job.Job, error)
	Complete(ctx context.Context, jobID, cleanerID string, finalAmount float64) (job.Job, error)
}

// Broadcaster pushes tracking events to WebSocket subscribers. The hub
// satisfies this; a nil Broadcaster disables pushes.
type Broadcaster interface {
	Broadcast(jobID, event string, data interface{})
}

// Notifier delivers session-transition messages to the client.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string) error
}

// Config sets the business-hours policy.
type Config struct {
	HoursStart int
	HoursEnd   int
	Timezone   string
}

// Service manages work sessions.
type Service struct {
	jobs     JobControl
	sessions SessionStore
	hub      Broadcaster
	notify   Notifier
	loc      *time.Location
	cfg      Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// WithMetrics attaches the active-session gauge and returns the service.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// New creates the tracking service. hub and notify may be nil.
func New(jobs JobControl, sessions SessionStore, hub Broadcaster, notify Notifier, cfg Config, log *logger.Logger) (*Service, error) {
	if cfg.HoursStart == 0 && cfg.HoursEnd == 0 {
		cfg.HoursStart, cfg.HoursEnd = 8, 18
	}
	if cfg.HoursEnd <= cfg.HoursStart {
		return nil, fmt.Errorf("business hours end %d must be after start %d", cfg.HoursEnd, cfg.HoursStart)
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Africa/Nairobi"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	if log == nil {
		log = logger.NewDefault("tracking")
	}
	return &Service{jobs: jobs, sessions: sessions, hub: hub, notify: notify, loc: loc, cfg: cfg, log: log, now: time.Now}, nil
}

// Start opens a work session for a scheduled job. Sessions only start during
// business hours, on the scheduled day, within the start window, and a
// cleaner can run at most one at a time.
func (s *Service) Start(ctx context.Context, jobID, cleanerID string) (domtrack.Session, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return domtrack.Session{}, err
	}
	if j.CleanerID != cleanerID {
		return domtrack.Session{}, apperr.Forbidden("job is assigned to another cleaner")
	}
	if j.Status != job.StatusScheduled {
		return domtrack.Session{}, apperr.BusinessRule(
			fmt.Sprintf("cannot start tracking a job in status %s", j.Status))
	}

	now := s.now().In(s.loc)
	if err := s.withinBusinessHours(now); err != nil {
		return domtrack.Session{}, err
	}
	scheduled := j.ScheduledAt.In(s.loc)
	if scheduled.Year() != now.Year() || scheduled.YearDay() != now.YearDay() {
		return domtrack.Session{}, apperr.BusinessRule("job is not scheduled for today")
	}
	if diff := now.Sub(scheduled); diff > StartWindow || diff < -StartWindow {
		return domtrack.Session{}, apperr.BusinessRule(
			fmt.Sprintf("job can only start within %s of the scheduled time", StartWindow))
	}

	if _, active, err := s.sessions.ActiveForCleaner(ctx, cleanerID); err != nil {
		return domtrack.Session{}, apperr.Internal("check active session", err)
	} else if active {
		return domtrack.Session{}, apperr.Conflict("cleaner already has an active session")
	}

	if _, err := s.jobs.Start(ctx, jobID, cleanerID); err != nil {
		return domtrack.Session{}, err
	}
	session := domtrack.Session{
		JobID:     jobID,
		CleanerID: cleanerID,
		StartedAt: s.now().UTC(),
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return domtrack.Session{}, apperr.Internal("store session", err)
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	s.broadcast(jobID, "tracking_started", session)
	s.log.WithField("job_id", jobID).Info("work session started")
	return session, nil
}

// Pause suspends the clock. Paused time is not billed.
func (s *Service) Pause(ctx context.Context, jobID, cleanerID, reason string) (domtrack.Session, error) {
	session, err := s.ownedSession(ctx, jobID, cleanerID)
	if err != nil {
		return domtrack.Session{}, err
	}
	if session.Paused {
		return domtrack.Session{}, apperr.BusinessRule("session is already paused")
	}
	session.Paused = true
	session.PausedAt = s.now().UTC()
	session.PauseReason = reason
	if err := s.sessions.Put(ctx, session); err != nil {
		return domtrack.Session{}, apperr.Internal("store session", err)
	}
	s.broadcast(jobID, "tracking_paused", session)
	body := "Work has been paused."
	if reason != "" {
		body = "Work has been paused: " + reason
	}
	s.notifyClient(ctx, jobID, "Work paused", body)
	return session, nil
}

// Resume restarts the clock, folding the pause into the excluded total.
func (s *Service) Resume(ctx context.Context, jobID, cleanerID string) (domtrack.Session, error) {
	session, err := s.ownedSession(ctx, jobID, cleanerID)
	if err != nil {
		return domtrack.Session{}, err
	}
	if !session.Paused {
		return domtrack.Session{}, apperr.BusinessRule("session is not paused")
	}
	session.PausedTotal += s.now().UTC().Sub(session.PausedAt)
	session.Paused = false
	session.PausedAt = time.Time{}
	session.PauseReason = ""
	if err := s.sessions.Put(ctx, session); err != nil {
		return domtrack.Session{}, apperr.Internal("store session", err)
	}
	s.broadcast(jobID, "tracking_resumed", session)
	s.notifyClient(ctx, jobID, "Work resumed", "Work on your job has resumed.")
	return session, nil
}

// Stop ends the session, bills overtime and completes the job. Minutes beyond
// the estimate are charged at the overtime multiplier.
func (s *Service) Stop(ctx context.Context, jobID, cleanerID string) (domtrack.Result, error) {
	session, err := s.ownedSession(ctx, jobID, cleanerID)
	if err != nil {
		return domtrack.Result{}, err
	}
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return domtrack.Result{}, err
	}

	now := s.now().UTC()
	if session.Paused {
		session.PausedTotal += now.Sub(session.PausedAt)
		session.Paused = false
	}
	worked := session.WorkedFor(now)
	actualMinutes := int(worked / time.Minute)

	overtime := actualMinutes - j.EstimatedMinutes
	if overtime < 0 {
		overtime = 0
	}
	perMinute := j.HourlyRate / 60
	base := perMinute * float64(j.EstimatedMinutes)
	final := base + float64(overtime)*perMinute*OvertimeMultiplier
	if j.HourlyRate <= 0 {
		// No cleaner rate recorded; fall back to the posted amount.
		final = j.TotalAmount
	}

	if _, err := s.jobs.Complete(ctx, jobID, cleanerID, final); err != nil {
		return domtrack.Result{}, err
	}
	if err := s.sessions.Delete(ctx, session); err != nil {
		s.log.WithError(err).Warn("failed to delete session")
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}

	result := domtrack.Result{
		JobID:           jobID,
		StartedAt:       session.StartedAt,
		StoppedAt:       now,
		ActualMinutes:   actualMinutes,
		OvertimeMinutes: overtime,
		FinalAmount:     final,
	}
	s.broadcast(jobID, "tracking_stopped", result)
	s.log.WithFields(map[string]interface{}{
		"job_id":           jobID,
		"actual_minutes":   actualMinutes,
		"overtime_minutes": overtime,
	}).Info("work session stopped")
	return result, nil
}

// Status reports the current clock for a running session.
func (s *Service) Status(ctx context.Context, jobID string) (domtrack.StatusInfo, error) {
	session, err := s.sessions.Get(ctx, jobID)
	if err != nil {
		return domtrack.StatusInfo{}, apperr.NotFound("tracking session")
	}
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return domtrack.StatusInfo{}, err
	}

	now := s.now().UTC()
	worked := session.WorkedFor(now)
	currentMinutes := int(worked / time.Minute)
	overtime := currentMinutes - j.EstimatedMinutes
	if overtime < 0 {
		overtime = 0
	}
	estimate := time.Duration(j.EstimatedMinutes) * time.Minute
	return domtrack.StatusInfo{
		JobID:               jobID,
		StartedAt:           session.StartedAt,
		Paused:              session.Paused,
		CurrentMinutes:      currentMinutes,
		Overtime:            overtime > 0,
		OvertimeMinutes:     overtime,
		EstimatedCompletion: session.StartedAt.Add(session.PausedTotal + estimate),
	}, nil
}

func (s *Service) ownedSession(ctx context.Context, jobID, cleanerID string) (domtrack.Session, error) {
	session, err := s.sessions.Get(ctx, jobID)
	if err != nil {
		return domtrack.Session{}, apperr.NotFound("tracking session")
	}
	if session.CleanerID != cleanerID {
		return domtrack.Session{}, apperr.Forbidden("session belongs to another cleaner")
	}
	return session, nil
}

func (s *Service) withinBusinessHours(now time.Time) error {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return apperr.BusinessRule("jobs can only start on business days")
	}
	if now.Hour() < s.cfg.HoursStart || now.Hour() >= s.cfg.HoursEnd {
		return apperr.BusinessRule(fmt.Sprintf(
			"jobs can only start between %02d:00 and %02d:00 %s",
			s.cfg.HoursStart, s.cfg.HoursEnd, s.cfg.Timezone))
	}
	return nil
}

func (s *Service) broadcast(jobID, event string, data interface{}) {
	if s.hub != nil {
		s.hub.Broadcast(jobID, event, data)
	}
}

// notifyClient pushes a session-transition message to the job's client.
// Delivery failures are logged, never surfaced.
func (s *Service) notifyClient(ctx context.Context, jobID, title, body string) {
	if s.notify == nil {
		return
	}
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Warn("cannot resolve client for notification")
		return
	}
	if err := s.notify.Notify(ctx, j.ClientID, title, body, map[string]string{"job_id": jobID}); err != nil {
		s.log.WithError(err).Warn("notification delivery failed")
	}
}
