// Package jobs implements the cleaning job lifecycle, schedule negotiation
// and reviews.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/metrics"
	"github.com/saficlean/marketplace/internal/app/storage"
	"github.com/saficlean/marketplace/internal/cache"
	apperr "github.com/saficlean/marketplace/internal/errors"
	"github.com/saficlean/marketplace/pkg/logger"
)

// SlotTolerance bounds how far a proposed slot's duration may deviate from
// the job's estimate.
const SlotTolerance = 15 * time.Minute

// Notifier delivers a message to a user. The notifications service satisfies
// this; tests pass a stub.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string) error
}

// Config tunes pricing.
type Config struct {
	// RatePerMinute is the base rate used when a job has no cleaner rate yet.
	RatePerMinute float64
}

// Service coordinates job state.
type Service struct {
	jobs    storage.JobStore
	users   storage.UserStore
	reviews storage.ReviewStore
	cache   *cache.JobCache
	notify  Notifier
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// WithMetrics attaches domain counters and returns the service.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// New creates the jobs service. cache and notify may be nil.
func New(jobs storage.JobStore, users storage.UserStore, reviews storage.ReviewStore,
	jobCache *cache.JobCache, notify Notifier, cfg Config, log *logger.Logger) *Service {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 4.50
	}
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	return &Service{
		jobs: jobs, users: users, reviews: reviews,
		cache: jobCache, notify: notify, cfg: cfg, log: log, now: time.Now,
	}
}

// CreateInput is the payload for posting a job.
type CreateInput struct {
	Title            string
	Description      string
	Location         string
	Latitude         float64
	Longitude        float64
	ScheduledAt      time.Time
	EstimatedMinutes int
}

// Create posts a new pending job for the client. The base amount is the
// estimate priced at the configured per-minute rate; it is recomputed when a
// cleaner with an hourly rate is assigned.
func (s *Service) Create(ctx context.Context, clientID string, in CreateInput) (job.Job, error) {
	if strings.TrimSpace(in.Title) == "" {
		return job.Job{}, apperr.Validation("title is required")
	}
	if in.EstimatedMinutes < 30 {
		return job.Job{}, apperr.Validation("estimated_minutes must be at least 30")
	}
	if in.ScheduledAt.Before(s.now()) {
		return job.Job{}, apperr.Validation("scheduled_at must be in the future")
	}

	created, err := s.jobs.CreateJob(ctx, job.Job{
		ClientID:         clientID,
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		Location:         in.Location,
		Latitude:         in.Latitude,
		Longitude:        in.Longitude,
		ScheduledAt:      in.ScheduledAt.UTC(),
		EstimatedMinutes: in.EstimatedMinutes,
		Status:           job.StatusPending,
		PaymentStatus:    job.PaymentPending,
		TotalAmount:      float64(in.EstimatedMinutes) * s.cfg.RatePerMinute,
	})
	if err != nil {
		return job.Job{}, apperr.Internal("create job", err)
	}
	if s.metrics != nil {
		s.metrics.JobsCreated.Inc()
	}
	s.log.WithField("job_id", created.ID).Info("job posted")
	return created, nil
}

// Get returns a job, serving repeated reads from cache.
func (s *Service) Get(ctx context.Context, id string) (job.Job, error) {
	if cached, err := s.cache.Get(ctx, id); err == nil {
		return cached, nil
	}
	j, err := s.jobs.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return job.Job{}, apperr.NotFound("job")
	}
	if err != nil {
		return job.Job{}, apperr.Internal("load job", err)
	}
	if err := s.cache.Set(ctx, j); err != nil {
		s.log.WithError(err).Debug("job cache set failed")
	}
	return j, nil
}

// GetForUser returns the job if the user participates in it or is an admin.
func (s *Service) GetForUser(ctx context.Context, id, userID, role string) (job.Job, error) {
	j, err := s.Get(ctx, id)
	if err != nil {
		return job.Job{}, err
	}
	if role != string(user.TypeAdmin) && j.ClientID != userID && j.CleanerID != userID {
		return job.Job{}, apperr.Forbidden("not a participant in this job")
	}
	return j, nil
}

// ListForUser returns the user's jobs filtered by optional status.
func (s *Service) ListForUser(ctx context.Context, userID, role string, status job.Status) ([]job.Job, error) {
	if status != "" && !validStatus(status) {
		return nil, apperr.Validation("unknown status filter")
	}
	var (
		list []job.Job
		err  error
	)
	if role == string(user.TypeCleaner) {
		list, err = s.jobs.ListJobsByCleaner(ctx, userID, status)
	} else {
		list, err = s.jobs.ListJobsByClient(ctx, userID, status)
	}
	if err != nil {
		return nil, apperr.Internal("list jobs", err)
	}
	return list, nil
}

// OpenJobs returns pending jobs cleaners can bid on.
func (s *Service) OpenJobs(ctx context.Context, limit int) ([]job.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.jobs.ListJobsByStatus(ctx, job.StatusPending, limit)
	if err != nil {
		return nil, apperr.Internal("list open jobs", err)
	}
	return list, nil
}

// Accept commits a cleaner to a pending job, moving it to scheduled. The
// cleaner must be free for the whole scheduled window.
func (s *Service) Accept(ctx context.Context, jobID, cleanerID string) (job.Job, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}
	if j.Status != job.StatusPending {
		return job.Job{}, apperr.BusinessRule("job is no longer open")
	}
	cleaner, err := s.users.GetUser(ctx, cleanerID)
	if err != nil || !cleaner.IsCleaner() || !cleaner.Active {
		return job.Job{}, apperr.Forbidden("only active cleaners can accept jobs")
	}

	busy, err := s.jobs.ListCommittedJobs(ctx, cleanerID, j.ScheduledAt, j.End())
	if err != nil {
		return job.Job{}, apperr.Internal("check availability", err)
	}
	if len(busy) > 0 {
		return job.Job{}, apperr.Conflict("cleaner already booked for this window")
	}

	j.CleanerID = cleanerID
	j.Status = job.StatusScheduled
	if cleaner.HourlyRate > 0 {
		j.HourlyRate = cleaner.HourlyRate
		j.TotalAmount = cleaner.HourlyRate * float64(j.EstimatedMinutes) / 60
	}
	updated, err := s.update(ctx, j)
	if err != nil {
		return job.Job{}, err
	}

	s.notifyUser(ctx, j.ClientID, "Cleaner confirmed",
		fmt.Sprintf("%s accepted your job %q", cleaner.FullName, j.Title),
		map[string]string{"job_id": j.ID})
	return updated, nil
}

// Start moves a scheduled job to in_progress. Only the assigned cleaner may
// start it.
func (s *Service) Start(ctx context.Context, jobID, cleanerID string) (job.Job, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}
	if j.CleanerID != cleanerID {
		return job.Job{}, apperr.Forbidden("job is assigned to another cleaner")
	}
	if j.Status != job.StatusScheduled {
		return job.Job{}, apperr.BusinessRule(
			fmt.Sprintf("cannot start a job in status %s", j.Status))
	}
	j.Status = job.StatusInProgress
	j.StartedAt = s.now().UTC()
	updated, err := s.update(ctx, j)
	if err != nil {
		return job.Job{}, err
	}
	s.notifyUser(ctx, j.ClientID, "Job started",
		fmt.Sprintf("Work on %q has begun", j.Title),
		map[string]string{"job_id": j.ID})
	return updated, nil
}

// Complete finishes an in-progress job and rolls the final amount into the
// cleaner's stats. finalAmount <= 0 keeps the current total.
func (s *Service) Complete(ctx context.Context, jobID, cleanerID string, finalAmount float64) (job.Job, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}
	if j.CleanerID != cleanerID {
		return job.Job{}, apperr.Forbidden("job is assigned to another cleaner")
	}
	if j.Status != job.StatusInProgress {
		return job.Job{}, apperr.BusinessRule(
			fmt.Sprintf("cannot complete a job in status %s", j.Status))
	}
	j.Status = job.StatusCompleted
	j.CompletedAt = s.now().UTC()
	if finalAmount > 0 {
		j.TotalAmount = finalAmount
	}
	updated, err := s.update(ctx, j)
	if err != nil {
		return job.Job{}, err
	}

	if cleaner, err := s.users.GetUser(ctx, cleanerID); err == nil {
		cleaner.TotalJobs++
		cleaner.CompletedJobs++
		if _, err := s.users.UpdateUser(ctx, cleaner); err != nil {
			s.log.WithError(err).Warn("failed to update cleaner stats")
		}
	}

	if s.metrics != nil {
		s.metrics.JobsCompleted.Inc()
	}
	s.notifyUser(ctx, j.ClientID, "Job completed",
		fmt.Sprintf("%q is done. Total: KES %.2f", j.Title, updated.TotalAmount),
		map[string]string{"job_id": j.ID})
	return updated, nil
}

// Cancel aborts a job that has not started. Clients cancel their own jobs;
// assigned cleaners may withdraw, which reopens the job instead.
func (s *Service) Cancel(ctx context.Context, jobID, userID, role string) (job.Job, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}
	if !j.Open() {
		return job.Job{}, apperr.BusinessRule(
			fmt.Sprintf("cannot cancel a job in status %s", j.Status))
	}

	switch {
	case j.ClientID == userID || role == string(user.TypeAdmin):
		j.Status = job.StatusCancelled
	case j.CleanerID == userID:
		// Cleaner withdrawal reopens the job for other cleaners.
		j.CleanerID = ""
		j.Status = job.StatusPending
	default:
		return job.Job{}, apperr.Forbidden("not a participant in this job")
	}

	updated, err := s.update(ctx, j)
	if err != nil {
		return job.Job{}, err
	}
	s.log.WithFields(map[string]interface{}{
		"job_id": j.ID,
		"status": updated.Status,
	}).Info("job cancelled or reopened")
	return updated, nil
}

// ProposeSlot records an alternative time window for a pending job. The slot
// duration must stay within tolerance of the job estimate.
func (s *Service) ProposeSlot(ctx context.Context, jobID, proposerID, role string, start, end time.Time) (job.ScheduleSlot, error) {
	if !end.After(start) {
		return job.ScheduleSlot{}, apperr.Validation("end_time must be after start_time")
	}
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return job.ScheduleSlot{}, err
	}
	if j.Status != job.StatusPending {
		return job.ScheduleSlot{}, apperr.BusinessRule("slots can only be proposed for pending jobs")
	}

	estimate := time.Duration(j.EstimatedMinutes) * time.Minute
	duration := end.Sub(start)
	if diff := duration - estimate; diff > SlotTolerance || diff < -SlotTolerance {
		return job.ScheduleSlot{}, apperr.Validation(
			fmt.Sprintf("slot duration must be within %s of the %d minute estimate",
				SlotTolerance, j.EstimatedMinutes))
	}

	byCleaner := role == string(user.TypeCleaner)
	cleanerID := proposerID
	if !byCleaner {
		if j.ClientID != proposerID {
			return job.ScheduleSlot{}, apperr.Forbidden("not a participant in this job")
		}
		cleanerID = j.CleanerID
	}

	slot, err := s.jobs.CreateSlot(ctx, job.ScheduleSlot{
		JobID:             jobID,
		CleanerID:         cleanerID,
		StartTime:         start.UTC(),
		EndTime:           end.UTC(),
		ProposedByCleaner: byCleaner,
	})
	if err != nil {
		return job.ScheduleSlot{}, apperr.Internal("create slot", err)
	}
	return slot, nil
}

// ListSlots returns the proposed slots for a job.
func (s *Service) ListSlots(ctx context.Context, jobID string) ([]job.ScheduleSlot, error) {
	slots, err := s.jobs.ListSlots(ctx, jobID)
	if err != nil {
		return nil, apperr.Internal("list slots", err)
	}
	return slots, nil
}

// RespondSlot lets the client accept or decline a proposed slot. Accepting a
// cleaner-proposed slot schedules the job at that window.
func (s *Service) RespondSlot(ctx context.Context, slotID, clientID string, accept bool) (job.ScheduleSlot, error) {
	slot, err := s.jobs.GetSlot(ctx, slotID)
	if errors.Is(err, storage.ErrNotFound) {
		return job.ScheduleSlot{}, apperr.NotFound("slot")
	}
	if err != nil {
		return job.ScheduleSlot{}, apperr.Internal("load slot", err)
	}
	j, err := s.Get(ctx, slot.JobID)
	if err != nil {
		return job.ScheduleSlot{}, err
	}
	if j.ClientID != clientID {
		return job.ScheduleSlot{}, apperr.Forbidden("only the job owner can respond to slots")
	}
	if slot.Accepted != nil {
		return job.ScheduleSlot{}, apperr.BusinessRule("slot already answered")
	}

	if accept && slot.CleanerID != "" {
		// Move the window first so Accept checks the cleaner's availability
		// against the slot, not the original schedule.
		original := j
		j.ScheduledAt = slot.StartTime
		j.EstimatedMinutes = int(slot.EndTime.Sub(slot.StartTime) / time.Minute)
		if _, err := s.update(ctx, j); err != nil {
			return job.ScheduleSlot{}, err
		}
		if _, err := s.Accept(ctx, j.ID, slot.CleanerID); err != nil {
			// Restore the window and leave the slot unanswered so the client
			// can pick another.
			if _, uerr := s.update(ctx, original); uerr != nil {
				s.log.WithError(uerr).WithField("job_id", j.ID).
					Warn("failed to restore schedule after rejected slot")
			}
			return job.ScheduleSlot{}, err
		}
	}

	slot.Accepted = &accept
	if slot, err = s.jobs.UpdateSlot(ctx, slot); err != nil {
		return job.ScheduleSlot{}, apperr.Internal("update slot", err)
	}
	return slot, nil
}

// AddReview records a rating for a completed job and refreshes the cleaner's
// average when the client is the reviewer.
func (s *Service) AddReview(ctx context.Context, jobID, reviewerID string, rating int, comment string) (job.Review, error) {
	if rating < 1 || rating > 5 {
		return job.Review{}, apperr.Validation("rating must be between 1 and 5")
	}
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return job.Review{}, err
	}
	if j.Status != job.StatusCompleted {
		return job.Review{}, apperr.BusinessRule("only completed jobs can be reviewed")
	}
	if j.ClientID != reviewerID && j.CleanerID != reviewerID {
		return job.Review{}, apperr.Forbidden("not a participant in this job")
	}

	existing, err := s.reviews.ListReviewsByJob(ctx, jobID)
	if err != nil {
		return job.Review{}, apperr.Internal("list reviews", err)
	}
	for _, rev := range existing {
		if rev.ReviewerID == reviewerID {
			return job.Review{}, apperr.Conflict("job already reviewed")
		}
	}

	rev, err := s.reviews.CreateReview(ctx, job.Review{
		JobID:      jobID,
		ReviewerID: reviewerID,
		Rating:     rating,
		Comment:    comment,
	})
	if err != nil {
		return job.Review{}, apperr.Internal("create review", err)
	}

	if reviewerID == j.ClientID && j.CleanerID != "" {
		if err := s.refreshCleanerRating(ctx, j.CleanerID); err != nil {
			s.log.WithError(err).Warn("failed to refresh cleaner rating")
		}
	}
	return rev, nil
}

// ListReviews returns all reviews on a job.
func (s *Service) ListReviews(ctx context.Context, jobID string) ([]job.Review, error) {
	reviews, err := s.reviews.ListReviewsByJob(ctx, jobID)
	if err != nil {
		return nil, apperr.Internal("list reviews", err)
	}
	return reviews, nil
}

func (s *Service) refreshCleanerRating(ctx context.Context, cleanerID string) error {
	reviews, err := s.reviews.ListReviewsForCleaner(ctx, cleanerID)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		return nil
	}
	var sum int
	for _, rev := range reviews {
		sum += rev.Rating
	}
	cleaner, err := s.users.GetUser(ctx, cleanerID)
	if err != nil {
		return err
	}
	cleaner.AverageRating = float64(sum) / float64(len(reviews))
	_, err = s.users.UpdateUser(ctx, cleaner)
	return err
}

func (s *Service) update(ctx context.Context, j job.Job) (job.Job, error) {
	updated, err := s.jobs.UpdateJob(ctx, j)
	if errors.Is(err, storage.ErrNotFound) {
		return job.Job{}, apperr.NotFound("job")
	}
	if err != nil {
		return job.Job{}, apperr.Internal("update job", err)
	}
	if err := s.cache.Invalidate(ctx, j.ID); err != nil {
		s.log.WithError(err).Debug("job cache invalidate failed")
	}
	return updated, nil
}

func (s *Service) notifyUser(ctx context.Context, userID, title, body string, data map[string]string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Notify(ctx, userID, title, body, data); err != nil {
		s.log.WithError(err).Warn("notification delivery failed")
	}
}

func validStatus(status job.Status) bool {
	switch status {
	case job.StatusPending, job.StatusScheduled, job.StatusInProgress,
		job.StatusCompleted, job.StatusCancelled:
		return true
	}
	return false
}
