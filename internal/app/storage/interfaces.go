package storage

import (
	"context"
	"time"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/location"
	"github.com/saficlean/marketplace/internal/app/domain/notification"
	"github.com/saficlean/marketplace/internal/app/domain/payment"
	"github.com/saficlean/marketplace/internal/app/domain/user"
)

// CleanerFilter narrows cleaner listings for matching.
type CleanerFilter struct {
	// MinRate/MaxRate bound the hourly rate; zero values disable the bound.
	MinRate float64
	MaxRate float64
	// VerifiedOnly restricts to verified cleaners.
	VerifiedOnly bool
	Limit        int
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByPhone(ctx context.Context, phone string) (user.User, error)
	ListCleaners(ctx context.Context, filter CleanerFilter) ([]user.User, error)
}

// JobStore persists jobs and schedule slots.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	UpdateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	ListJobsByClient(ctx context.Context, clientID string, status job.Status) ([]job.Job, error)
	ListJobsByCleaner(ctx context.Context, cleanerID string, status job.Status) ([]job.Job, error)
	ListJobsByStatus(ctx context.Context, status job.Status, limit int) ([]job.Job, error)
	// ListCommittedJobs returns scheduled and in-progress jobs whose window
	// overlaps [start, end]. A non-empty cleanerID restricts to one cleaner.
	ListCommittedJobs(ctx context.Context, cleanerID string, start, end time.Time) ([]job.Job, error)

	CreateSlot(ctx context.Context, slot job.ScheduleSlot) (job.ScheduleSlot, error)
	UpdateSlot(ctx context.Context, slot job.ScheduleSlot) (job.ScheduleSlot, error)
	GetSlot(ctx context.Context, id string) (job.ScheduleSlot, error)
	ListSlots(ctx context.Context, jobID string) ([]job.ScheduleSlot, error)
}

// ReviewStore persists job reviews.
type ReviewStore interface {
	CreateReview(ctx context.Context, rev job.Review) (job.Review, error)
	ListReviewsByJob(ctx context.Context, jobID string) ([]job.Review, error)
	// ListReviewsForCleaner returns client reviews of jobs the cleaner worked.
	ListReviewsForCleaner(ctx context.Context, cleanerID string) ([]job.Review, error)
}

// PaymentStore persists payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	GetPaymentByCheckoutID(ctx context.Context, checkoutID string) (payment.Payment, error)
	ListPaymentsByJob(ctx context.Context, jobID string) ([]payment.Payment, error)
}

// RouteStore persists route calculations.
type RouteStore interface {
	CreateRoute(ctx context.Context, rt location.Route) (location.Route, error)
	LatestRouteForJob(ctx context.Context, jobID string) (location.Route, error)
}

// LocationStore persists cleaner position updates.
type LocationStore interface {
	CreateLocationUpdate(ctx context.Context, upd location.Update) (location.Update, error)
	ListLocationUpdates(ctx context.Context, jobID string, limit int) ([]location.Update, error)
	LatestLocationUpdate(ctx context.Context, jobID string) (location.Update, error)
}

// NotificationStore persists user notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
}

// ErrNotFound is returned by stores when a record does not exist. Stores wrap
// it so services can map lookups to HTTP 404 without caring about the backend.
var ErrNotFound = notFoundError("record not found")

type notFoundError string

func (e notFoundError) Error() string { return string(e) }
