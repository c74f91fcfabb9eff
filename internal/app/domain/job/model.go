// Package job defines cleaning jobs, schedule slots and reviews.
package job

import "time"

// Status tracks a job through its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks whether a job has been paid for.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Job is a cleaning request posted by a client and optionally assigned to a
// cleaner.
type Job struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	CleanerID string `json:"cleaner_id,omitempty"`

	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Location    string  `json:"location"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`

	ScheduledAt      time.Time `json:"scheduled_at"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	HourlyRate       float64   `json:"hourly_rate"`

	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalAmount   float64       `json:"total_amount"`
	MpesaRef      string        `json:"mpesa_reference,omitempty"`

	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// End returns the scheduled end of the job based on its estimate.
func (j Job) End() time.Time {
	return j.ScheduledAt.Add(time.Duration(j.EstimatedMinutes) * time.Minute)
}

// Overlaps reports whether the job's scheduled window intersects [start, end].
func (j Job) Overlaps(start, end time.Time) bool {
	return !j.ScheduledAt.After(end) && !j.End().Before(start)
}

// Open reports whether the job still accepts cleaner commitments.
func (j Job) Open() bool {
	return j.Status == StatusPending || j.Status == StatusScheduled
}

// ScheduleSlot is a proposed time window for a pending job.
type ScheduleSlot struct {
	ID                string    `json:"id"`
	JobID             string    `json:"job_id"`
	CleanerID         string    `json:"cleaner_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	ProposedByCleaner bool      `json:"proposed_by_cleaner"`
	Accepted          *bool     `json:"accepted,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Review is a post-completion rating left by a job participant.
type Review struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	ReviewerID string    `json:"reviewer_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
