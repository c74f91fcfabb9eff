// Package matching scores cleaners against open jobs and alerts strong
// candidates.
package matching

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/metrics"
	"github.com/saficlean/marketplace/internal/app/storage"
	apperr "github.com/saficlean/marketplace/internal/errors"
	"github.com/saficlean/marketplace/pkg/logger"
)

const (
	// RateBand widens the job rate when pre-filtering candidates.
	RateBand = 0.20
	// NotifyThreshold is the minimum score that triggers a cleaner alert.
	NotifyThreshold = 0.80

	defaultCandidateLimit = 20
)

// Notifier delivers match alerts to cleaners.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string) error
}

// Match pairs a cleaner with their fit score for a job.
type Match struct {
	Cleaner user.User `json:"cleaner"`
	Score   float64   `json:"score"`
}

// Service ranks cleaners for jobs.
type Service struct {
	jobs    storage.JobStore
	users   storage.UserStore
	notify  Notifier
	log     *logger.Logger
	metrics *metrics.Metrics
}

// WithMetrics attaches domain counters and returns the service.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// New creates the matching service. notify may be nil.
func New(jobs storage.JobStore, users storage.UserStore, notify Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("matching")
	}
	return &Service{jobs: jobs, users: users, notify: notify, log: log}
}

// Score combines rating, experience, price fit and completion reliability.
// A factor only applies when its input exists, so a newcomer with no history
// is judged on price alone rather than dragged down by missing data. Each
// applied factor has a floor so a weak dimension dampens rather than zeroes
// the result.
func Score(j job.Job, c user.User) float64 {
	score := 1.0

	if c.AverageRating > 0 {
		score *= 0.7 + math.Min(c.AverageRating/5, 1)*0.3
	}
	if c.CompletedJobs > 0 {
		score *= 0.8 + math.Min(float64(c.CompletedJobs)/100, 1)*0.2
	}

	jobRate := j.HourlyRate
	if jobRate <= 0 {
		// Pending jobs carry the base estimate; price against the per-hour
		// equivalent of the posted total.
		if j.EstimatedMinutes > 0 {
			jobRate = j.TotalAmount / float64(j.EstimatedMinutes) * 60
		}
	}
	if jobRate > 0 && c.HourlyRate > 0 {
		fit := 1 - math.Abs(jobRate-c.HourlyRate)/jobRate
		score *= 0.8 + math.Max(fit, 0)*0.2
	}

	if c.TotalJobs > 0 {
		score *= 0.7 + float64(c.CompletedJobs)/float64(c.TotalJobs)*0.3
	}

	return score
}

// FindMatches returns available cleaners ranked by score for a pending job.
func (s *Service) FindMatches(ctx context.Context, jobID string, limit int) ([]Match, error) {
	j, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, apperr.NotFound("job")
	}
	if j.Status != job.StatusPending {
		return nil, apperr.BusinessRule("matches are only computed for pending jobs")
	}
	if limit <= 0 {
		limit = defaultCandidateLimit
	}
	matches, err := s.rank(ctx, j, limit)
	if err != nil {
		return nil, err
	}
	s.alert(ctx, j, matches)
	return matches, nil
}

func (s *Service) rank(ctx context.Context, j job.Job, limit int) ([]Match, error) {
	filter := storage.CleanerFilter{VerifiedOnly: true, Limit: limit * 3}
	jobRate := j.HourlyRate
	if jobRate <= 0 && j.EstimatedMinutes > 0 {
		jobRate = j.TotalAmount / float64(j.EstimatedMinutes) * 60
	}
	if jobRate > 0 {
		filter.MinRate = jobRate * (1 - RateBand)
		filter.MaxRate = jobRate * (1 + RateBand)
	}

	candidates, err := s.users.ListCleaners(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("list cleaners", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		free, err := s.available(ctx, c.ID, j)
		if err != nil {
			return nil, err
		}
		if !free {
			continue
		}
		matches = append(matches, Match{Cleaner: c, Score: Score(j, c)})
	}
	sort.Slice(matches, func(i, k int) bool { return matches[i].Score > matches[k].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Suggestion pairs a pending job with its fit score for a cleaner.
type Suggestion struct {
	Job   job.Job `json:"job"`
	Score float64 `json:"score"`
}

// SuggestionsForCleaner returns pending jobs in the cleaner's rate band
// that do not conflict with existing commitments, ranked by score.
func (s *Service) SuggestionsForCleaner(ctx context.Context, cleanerID string, limit int) ([]Suggestion, error) {
	c, err := s.users.GetUser(ctx, cleanerID)
	if err != nil {
		return nil, apperr.NotFound("cleaner")
	}
	if c.Type != user.TypeCleaner {
		return nil, apperr.Forbidden("suggestions are for cleaners")
	}
	if limit <= 0 {
		limit = defaultCandidateLimit
	}

	pending, err := s.jobs.ListJobsByStatus(ctx, job.StatusPending, limit*3)
	if err != nil {
		return nil, apperr.Internal("list pending jobs", err)
	}

	suggestions := make([]Suggestion, 0, len(pending))
	for _, j := range pending {
		jobRate := j.HourlyRate
		if jobRate <= 0 && j.EstimatedMinutes > 0 {
			jobRate = j.TotalAmount / float64(j.EstimatedMinutes) * 60
		}
		if jobRate > 0 && c.HourlyRate > 0 {
			if c.HourlyRate < jobRate*(1-RateBand) || c.HourlyRate > jobRate*(1+RateBand) {
				continue
			}
		}
		free, err := s.available(ctx, cleanerID, j)
		if err != nil {
			return nil, err
		}
		if !free {
			continue
		}
		suggestions = append(suggestions, Suggestion{Job: j, Score: Score(j, c)})
	}
	sort.Slice(suggestions, func(i, k int) bool { return suggestions[i].Score > suggestions[k].Score })
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

func (s *Service) available(ctx context.Context, cleanerID string, j job.Job) (bool, error) {
	busy, err := s.jobs.ListCommittedJobs(ctx, cleanerID, j.ScheduledAt, j.End())
	if err != nil {
		return false, apperr.Internal("check availability", err)
	}
	return len(busy) == 0, nil
}

// NotifyCandidates alerts every available cleaner scoring at or above the
// threshold and returns how many alerts went out.
func (s *Service) NotifyCandidates(ctx context.Context, j job.Job) (int, error) {
	matches, err := s.rank(ctx, j, defaultCandidateLimit)
	if err != nil {
		return 0, err
	}
	return s.alert(ctx, j, matches), nil
}

// alert pushes "Job match" notifications for every match at or above the
// threshold. Matches are ranked, so the scan stops at the first miss.
func (s *Service) alert(ctx context.Context, j job.Job, matches []Match) int {
	if s.notify == nil {
		return 0
	}
	sent := 0
	for _, m := range matches {
		if m.Score < NotifyThreshold {
			break
		}
		err := s.notify.Notify(ctx, m.Cleaner.ID, "Job match",
			"A new job near you fits your profile: "+j.Title,
			map[string]string{"job_id": j.ID})
		if err != nil {
			s.log.WithError(err).WithField("cleaner_id", m.Cleaner.ID).
				Warn("match alert failed")
			continue
		}
		sent++
		if s.metrics != nil {
			s.metrics.MatchAlerts.Inc()
		}
	}
	return sent
}

// SweepPending scores all pending jobs scheduled within the horizon and
// alerts candidates. The sweeper service runs this on a schedule.
func (s *Service) SweepPending(ctx context.Context, horizon time.Duration) error {
	pending, err := s.jobs.ListJobsByStatus(ctx, job.StatusPending, 200)
	if err != nil {
		return apperr.Internal("list pending jobs", err)
	}
	cutoff := time.Now().Add(horizon)
	for _, j := range pending {
		if horizon > 0 && j.ScheduledAt.After(cutoff) {
			continue
		}
		sent, err := s.NotifyCandidates(ctx, j)
		if err != nil {
			s.log.WithError(err).WithField("job_id", j.ID).Warn("sweep scoring failed")
			continue
		}
		if sent > 0 {
			s.log.WithFields(map[string]interface{}{
				"job_id": j.ID,
				"alerts": sent,
			}).Debug("match alerts sent")
		}
	}
	return nil
}
