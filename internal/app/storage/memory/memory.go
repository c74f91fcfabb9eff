package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/location"
	"github.com/saficlean/marketplace/internal/app/domain/notification"
	"github.com/saficlean/marketplace/internal/app/domain/payment"
	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	users         map[string]user.User
	usersByEmail  map[string]string
	usersByPhone  map[string]string
	jobs          map[string]job.Job
	slots         map[string]job.ScheduleSlot
	slotsByJob    map[string][]string
	reviews       map[string][]job.Review
	payments      map[string]payment.Payment
	routes        map[string][]location.Route
	locations     map[string][]location.Update
	notifications map[string][]notification.Notification
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.JobStore = (*Store)(nil)
var _ storage.ReviewStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.RouteStore = (*Store)(nil)
var _ storage.LocationStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]user.User),
		usersByEmail:  make(map[string]string),
		usersByPhone:  make(map[string]string),
		jobs:          make(map[string]job.Job),
		slots:         make(map[string]job.ScheduleSlot),
		slotsByJob:    make(map[string][]string),
		reviews:       make(map[string][]job.Review),
		payments:      make(map[string]payment.Payment),
		routes:        make(map[string][]location.Route),
		locations:     make(map[string][]location.Update),
		notifications: make(map[string][]notification.Notification),
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, exists := s.usersByEmail[email]; exists {
		return user.User{}, fmt.Errorf("email %s already registered", u.Email)
	}
	if u.PhoneNumber != "" {
		if _, exists := s.usersByPhone[u.PhoneNumber]; exists {
			return user.User{}, fmt.Errorf("phone %s already registered", u.PhoneNumber)
		}
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	if u.PhoneNumber != "" {
		s.usersByPhone[u.PhoneNumber] = u.ID
	}
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	if !strings.EqualFold(original.Email, u.Email) {
		delete(s.usersByEmail, strings.ToLower(original.Email))
		s.usersByEmail[strings.ToLower(u.Email)] = u.ID
	}
	if original.PhoneNumber != u.PhoneNumber {
		delete(s.usersByPhone, original.PhoneNumber)
		if u.PhoneNumber != "" {
			s.usersByPhone[u.PhoneNumber] = u.ID
		}
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", email, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) GetUserByPhone(_ context.Context, phone string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByPhone[phone]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", phone, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) ListCleaners(_ context.Context, filter storage.CleanerFilter) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []user.User
	for _, u := range s.users {
		if !u.IsCleaner() || !u.Active {
			continue
		}
		if filter.VerifiedOnly && !u.Verified {
			continue
		}
		if filter.MinRate > 0 && u.HourlyRate < filter.MinRate {
			continue
		}
		if filter.MaxRate > 0 && u.HourlyRate > filter.MaxRate {
			continue
		}
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AverageRating != result[j].AverageRating {
			return result[i].AverageRating > result[j].AverageRating
		}
		return result[i].CompletedJobs > result[j].CompletedJobs
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// JobStore implementation -----------------------------------------------------

func (s *Store) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		j.ID = uuid.NewString()
	} else if _, exists := s.jobs[j.ID]; exists {
		return job.Job{}, fmt.Errorf("job %s already exists", j.ID)
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) UpdateJob(_ context.Context, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.jobs[j.ID]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s: %w", j.ID, storage.ErrNotFound)
	}
	j.CreatedAt = original.CreatedAt
	j.UpdatedAt = time.Now().UTC()
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) GetJob(_ context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
	}
	return j, nil
}

func (s *Store) ListJobsByClient(_ context.Context, clientID string, status job.Status) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterJobsLocked(func(j job.Job) bool {
		return j.ClientID == clientID && (status == "" || j.Status == status)
	}, 0), nil
}

func (s *Store) ListJobsByCleaner(_ context.Context, cleanerID string, status job.Status) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterJobsLocked(func(j job.Job) bool {
		return j.CleanerID == cleanerID && (status == "" || j.Status == status)
	}, 0), nil
}

func (s *Store) ListJobsByStatus(_ context.Context, status job.Status, limit int) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterJobsLocked(func(j job.Job) bool {
		return j.Status == status
	}, limit), nil
}

func (s *Store) ListCommittedJobs(_ context.Context, cleanerID string, start, end time.Time) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterJobsLocked(func(j job.Job) bool {
		if j.Status != job.StatusScheduled && j.Status != job.StatusInProgress {
			return false
		}
		if cleanerID != "" && j.CleanerID != cleanerID {
			return false
		}
		return j.CleanerID != "" && j.Overlaps(start, end)
	}, 0), nil
}

func (s *Store) filterJobsLocked(keep func(job.Job) bool, limit int) []job.Job {
	var result []job.Job
	for _, j := range s.jobs {
		if keep(j) {
			result = append(result, j)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *Store) CreateSlot(_ context.Context, slot job.ScheduleSlot) (job.ScheduleSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[slot.JobID]; !exists {
		return job.ScheduleSlot{}, fmt.Errorf("job %s: %w", slot.JobID, storage.ErrNotFound)
	}
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	slot.CreatedAt = time.Now().UTC()
	s.slots[slot.ID] = slot
	s.slotsByJob[slot.JobID] = append(s.slotsByJob[slot.JobID], slot.ID)
	return slot, nil
}

func (s *Store) UpdateSlot(_ context.Context, slot job.ScheduleSlot) (job.ScheduleSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.slots[slot.ID]
	if !ok {
		return job.ScheduleSlot{}, fmt.Errorf("slot %s: %w", slot.ID, storage.ErrNotFound)
	}
	slot.JobID = original.JobID
	slot.CreatedAt = original.CreatedAt
	s.slots[slot.ID] = slot
	return slot, nil
}

func (s *Store) GetSlot(_ context.Context, id string) (job.ScheduleSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[id]
	if !ok {
		return job.ScheduleSlot{}, fmt.Errorf("slot %s: %w", id, storage.ErrNotFound)
	}
	return slot, nil
}

func (s *Store) ListSlots(_ context.Context, jobID string) ([]job.ScheduleSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.slotsByJob[jobID]
	result := make([]job.ScheduleSlot, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.slots[id])
	}
	return result, nil
}

// ReviewStore implementation --------------------------------------------------

func (s *Store) CreateReview(_ context.Context, rev job.Review) (job.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[rev.JobID]; !exists {
		return job.Review{}, fmt.Errorf("job %s: %w", rev.JobID, storage.ErrNotFound)
	}
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	rev.CreatedAt = time.Now().UTC()
	s.reviews[rev.JobID] = append(s.reviews[rev.JobID], rev)
	return rev, nil
}

func (s *Store) ListReviewsByJob(_ context.Context, jobID string) ([]job.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reviews := s.reviews[jobID]
	out := make([]job.Review, len(reviews))
	copy(out, reviews)
	return out, nil
}

func (s *Store) ListReviewsForCleaner(_ context.Context, cleanerID string) ([]job.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []job.Review
	for jobID, reviews := range s.reviews {
		j, ok := s.jobs[jobID]
		if !ok || j.CleanerID != cleanerID {
			continue
		}
		for _, rev := range reviews {
			if rev.ReviewerID == j.ClientID {
				result = append(result, rev)
			}
		}
	}
	return result, nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Metadata = cloneMap(p.Metadata)
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", p.ID, storage.ErrNotFound)
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	p.Metadata = cloneMap(p.Metadata)
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetPaymentByCheckoutID(_ context.Context, checkoutID string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.Metadata["checkout_request_id"] == checkoutID {
			return p, nil
		}
	}
	return payment.Payment{}, fmt.Errorf("payment for checkout %s: %w", checkoutID, storage.ErrNotFound)
}

func (s *Store) ListPaymentsByJob(_ context.Context, jobID string) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payment.Payment
	for _, p := range s.payments {
		if p.JobID == jobID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// RouteStore implementation ---------------------------------------------------

func (s *Store) CreateRoute(_ context.Context, rt location.Route) (location.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	rt.CreatedAt = time.Now().UTC()
	s.routes[rt.JobID] = append(s.routes[rt.JobID], rt)
	return rt, nil
}

func (s *Store) LatestRouteForJob(_ context.Context, jobID string) (location.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	routes := s.routes[jobID]
	if len(routes) == 0 {
		return location.Route{}, fmt.Errorf("route for job %s: %w", jobID, storage.ErrNotFound)
	}
	return routes[len(routes)-1], nil
}

// LocationStore implementation ------------------------------------------------

func (s *Store) CreateLocationUpdate(_ context.Context, upd location.Update) (location.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upd.ID == "" {
		upd.ID = uuid.NewString()
	}
	if upd.RecordedAt.IsZero() {
		upd.RecordedAt = time.Now().UTC()
	}
	s.locations[upd.JobID] = append(s.locations[upd.JobID], upd)
	return upd, nil
}

func (s *Store) ListLocationUpdates(_ context.Context, jobID string, limit int) ([]location.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	updates := s.locations[jobID]
	if limit > 0 && len(updates) > limit {
		updates = updates[len(updates)-limit:]
	}
	out := make([]location.Update, len(updates))
	copy(out, updates)
	return out, nil
}

func (s *Store) LatestLocationUpdate(_ context.Context, jobID string) (location.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	updates := s.locations[jobID]
	if len(updates) == 0 {
		return location.Update{}, fmt.Errorf("location for job %s: %w", jobID, storage.ErrNotFound)
	}
	return updates[len(updates)-1], nil
}

// NotificationStore implementation --------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()
	n.Data = cloneMap(n.Data)
	s.notifications[n.UserID] = append(s.notifications[n.UserID], n)
	return n, nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []notification.Notification
	for _, n := range s.notifications[userID] {
		if unreadOnly && n.Read {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.notifications[userID]
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, storage.ErrNotFound)
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
