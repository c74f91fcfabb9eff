// Package payments charges completed jobs through M-PESA STK push and
// reconciles provider callbacks.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/payment"
	"github.com/saficlean/marketplace/internal/app/metrics"
	"github.com/saficlean/marketplace/internal/app/services/auth"
	"github.com/saficlean/marketplace/internal/app/storage"
	apperr "github.com/saficlean/marketplace/internal/errors"
	"github.com/saficlean/marketplace/pkg/logger"
)

// STKClient is the Daraja surface the service needs. MpesaClient satisfies
// it; tests use a stub.
type STKClient interface {
	STKPush(ctx context.Context, phone string, amount float64, reference, description string) (STKResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error)
}

// Notifier delivers payment outcome messages.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string) error
}

// Service owns the payment state machine.
type Service struct {
	payments storage.PaymentStore
	jobs     storage.JobStore
	users    storage.UserStore
	stk      STKClient
	notify   Notifier
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// WithMetrics attaches domain counters and returns the service.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// New creates the payments service. notify may be nil.
func New(payments storage.PaymentStore, jobs storage.JobStore, users storage.UserStore,
	stk STKClient, notify Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	return &Service{
		payments: payments, jobs: jobs, users: users,
		stk: stk, notify: notify, log: log, now: time.Now,
	}
}

// Initiate pushes an STK prompt to the client's phone for a completed job.
// phoneOverride, when set, replaces the phone on file.
func (s *Service) Initiate(ctx context.Context, jobID, userID, phoneOverride string) (payment.Payment, error) {
	if s.stk == nil {
		return payment.Payment{}, apperr.BusinessRule("payments are not configured")
	}
	j, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return payment.Payment{}, apperr.NotFound("job")
	}
	if err != nil {
		return payment.Payment{}, apperr.Internal("load job", err)
	}
	if j.ClientID != userID {
		return payment.Payment{}, apperr.Forbidden("only the job owner can pay")
	}
	if j.Status != job.StatusCompleted {
		return payment.Payment{}, apperr.BusinessRule("only completed jobs can be paid")
	}
	if j.PaymentStatus == job.PaymentPaid {
		return payment.Payment{}, apperr.BusinessRule("job is already paid")
	}
	if j.TotalAmount <= 0 {
		return payment.Payment{}, apperr.BusinessRule("job has no payable amount")
	}

	phone := phoneOverride
	if phone == "" {
		u, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return payment.Payment{}, apperr.Internal("load user", err)
		}
		phone = u.PhoneNumber
	}
	if phone == "" {
		return payment.Payment{}, apperr.Validation("no phone number on file; provide one")
	}
	// Daraja only takes canonical 254XXXXXXXXX numbers.
	phone, err = auth.NormalizePhone(phone)
	if err != nil {
		return payment.Payment{}, err
	}

	reference := "SAFI-" + j.ID[:8]
	result, err := s.stk.STKPush(ctx, phone, j.TotalAmount, reference,
		"Cleaning service: "+j.Title)
	if err != nil {
		return payment.Payment{}, err
	}

	p, err := s.payments.CreatePayment(ctx, payment.Payment{
		JobID:     jobID,
		UserID:    userID,
		Amount:    j.TotalAmount,
		Currency:  "KES",
		Provider:  payment.ProviderMpesa,
		Status:    payment.StatusProcessing,
		Reference: reference,
		Metadata: map[string]string{
			"checkout_request_id": result.CheckoutRequestID,
			"merchant_request_id": result.MerchantRequestID,
			"phone":               phone,
		},
	})
	if err != nil {
		return payment.Payment{}, apperr.Internal("create payment", err)
	}

	s.log.WithFields(map[string]interface{}{
		"job_id":     jobID,
		"payment_id": p.ID,
	}).Info("stk push sent")
	return p, nil
}

// HandleCallback processes the asynchronous Daraja result. Unknown checkout
// IDs are logged and dropped; the provider retries on non-200 only.
func (s *Service) HandleCallback(ctx context.Context, body []byte) error {
	callback := gjson.GetBytes(body, "Body.stkCallback")
	if !callback.Exists() {
		return apperr.Validation("malformed callback payload")
	}
	checkoutID := callback.Get("CheckoutRequestID").String()
	resultCode := callback.Get("ResultCode").Int()
	resultDesc := callback.Get("ResultDesc").String()

	p, err := s.payments.GetPaymentByCheckoutID(ctx, checkoutID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.WithField("checkout_request_id", checkoutID).Warn("callback for unknown payment")
		return nil
	}
	if err != nil {
		return apperr.Internal("load payment", err)
	}
	if p.Status == payment.StatusCompleted || p.Status == payment.StatusFailed {
		// Provider retried a callback we already settled.
		return nil
	}

	if resultCode == 0 {
		receipt := ""
		callback.Get("CallbackMetadata.Item").ForEach(func(_, item gjson.Result) bool {
			if item.Get("Name").String() == "MpesaReceiptNumber" {
				receipt = item.Get("Value").String()
				return false
			}
			return true
		})
		return s.settle(ctx, p, receipt)
	}
	return s.fail(ctx, p, resultDesc)
}

func (s *Service) settle(ctx context.Context, p payment.Payment, receipt string) error {
	p.Status = payment.StatusCompleted
	p.ProviderRef = receipt
	p.CompletedAt = s.now().UTC()
	if _, err := s.payments.UpdatePayment(ctx, p); err != nil {
		return apperr.Internal("update payment", err)
	}

	j, err := s.jobs.GetJob(ctx, p.JobID)
	if err == nil {
		j.PaymentStatus = job.PaymentPaid
		j.MpesaRef = receipt
		if _, err := s.jobs.UpdateJob(ctx, j); err != nil {
			s.log.WithError(err).Error("failed to mark job paid")
		}
	}

	if s.metrics != nil {
		s.metrics.PaymentsCompleted.Inc()
	}
	s.notifyUser(ctx, p.UserID, "Payment received",
		fmt.Sprintf("KES %.2f received. Receipt %s", p.Amount, receipt),
		map[string]string{"job_id": p.JobID, "payment_id": p.ID})
	s.log.WithField("payment_id", p.ID).Info("payment completed")
	return nil
}

func (s *Service) fail(ctx context.Context, p payment.Payment, reason string) error {
	p.Status = payment.StatusFailed
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	p.Metadata["failure_reason"] = reason
	if _, err := s.payments.UpdatePayment(ctx, p); err != nil {
		return apperr.Internal("update payment", err)
	}

	if j, err := s.jobs.GetJob(ctx, p.JobID); err == nil {
		j.PaymentStatus = job.PaymentFailed
		if _, err := s.jobs.UpdateJob(ctx, j); err != nil {
			s.log.WithError(err).Error("failed to mark job payment failed")
		}
	}

	if s.metrics != nil {
		s.metrics.PaymentsFailed.Inc()
	}
	s.notifyUser(ctx, p.UserID, "Payment failed", reason,
		map[string]string{"job_id": p.JobID, "payment_id": p.ID})
	s.log.WithFields(map[string]interface{}{
		"payment_id": p.ID,
		"reason":     reason,
	}).Warn("payment failed")
	return nil
}

// Get returns a payment visible to its owner.
func (s *Service) Get(ctx context.Context, paymentID, userID string) (payment.Payment, error) {
	p, err := s.payments.GetPayment(ctx, paymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return payment.Payment{}, apperr.NotFound("payment")
	}
	if err != nil {
		return payment.Payment{}, apperr.Internal("load payment", err)
	}
	if p.UserID != userID {
		return payment.Payment{}, apperr.Forbidden("not your payment")
	}
	return p, nil
}

// ListForJob returns a job's payments for a participant.
func (s *Service) ListForJob(ctx context.Context, jobID, userID string) ([]payment.Payment, error) {
	j, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("job")
	}
	if err != nil {
		return nil, apperr.Internal("load job", err)
	}
	if j.ClientID != userID && j.CleanerID != userID {
		return nil, apperr.Forbidden("not a participant in this job")
	}
	list, err := s.payments.ListPaymentsByJob(ctx, jobID)
	if err != nil {
		return nil, apperr.Internal("list payments", err)
	}
	return list, nil
}

// Refresh polls the provider for a processing payment that never received a
// callback.
func (s *Service) Refresh(ctx context.Context, paymentID, userID string) (payment.Payment, error) {
	p, err := s.Get(ctx, paymentID, userID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Status != payment.StatusProcessing {
		return p, nil
	}
	if s.stk == nil {
		return payment.Payment{}, apperr.BusinessRule("payments are not configured")
	}
	result, err := s.stk.QueryStatus(ctx, p.Metadata["checkout_request_id"])
	if err != nil {
		return payment.Payment{}, err
	}
	if result.ResultCode == 0 {
		if err := s.settle(ctx, p, ""); err != nil {
			return payment.Payment{}, err
		}
	} else {
		if err := s.fail(ctx, p, result.ResultDesc); err != nil {
			return payment.Payment{}, err
		}
	}
	return s.payments.GetPayment(ctx, p.ID)
}

func (s *Service) notifyUser(ctx context.Context, userID, title, body string, data map[string]string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Notify(ctx, userID, title, body, data); err != nil {
		s.log.WithError(err).Warn("notification delivery failed")
	}
}
