// Package payment defines payment records processed through M-PESA.
package payment

import "time"

// Status tracks a payment through the provider flow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Provider identifies the payment rail.
type Provider string

const ProviderMpesa Provider = "mpesa"

// Payment is a single charge for a job.
type Payment struct {
	ID       string   `json:"id"`
	JobID    string   `json:"job_id"`
	UserID   string   `json:"user_id"`
	Amount   float64  `json:"amount"`
	Currency string   `json:"currency"`
	Provider Provider `json:"provider"`
	Status   Status   `json:"status"`

	// Reference is our account reference sent to the provider; ProviderRef
	// is the provider's transaction ID (M-PESA receipt number).
	Reference   string            `json:"reference"`
	ProviderRef string            `json:"provider_reference,omitempty"`
	Metadata    map[string]string `json:"provider_metadata,omitempty"`

	CompletedAt time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
