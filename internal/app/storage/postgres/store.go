// Package postgres implements the storage interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/location"
	"github.com/saficlean/marketplace/internal/app/domain/notification"
	"github.com/saficlean/marketplace/internal/app/domain/payment"
	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/storage"
)

// Store implements all storage interfaces backed by a PostgreSQL database.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.JobStore = (*Store)(nil)
var _ storage.ReviewStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.RouteStore = (*Store)(nil)
var _ storage.LocationStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Users -----------------------------------------------------------------------

const userColumns = `id, email, hashed_password, full_name, phone_number, user_type,
	is_active, is_verified, hourly_rate, bio, average_rating, total_jobs,
	completed_jobs, fcm_token, last_login, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		u.ID, strings.ToLower(u.Email), u.HashedPassword, u.FullName, u.PhoneNumber,
		u.Type, u.Active, u.Verified, u.HourlyRate, u.Bio, u.AverageRating,
		u.TotalJobs, u.CompletedJobs, u.FCMToken, nullTime(u.LastLogin),
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = $2, hashed_password = $3, full_name = $4,
			phone_number = $5, user_type = $6, is_active = $7, is_verified = $8,
			hourly_rate = $9, bio = $10, average_rating = $11, total_jobs = $12,
			completed_jobs = $13, fcm_token = $14, last_login = $15, updated_at = $16
		WHERE id = $1`,
		u.ID, strings.ToLower(u.Email), u.HashedPassword, u.FullName, u.PhoneNumber,
		u.Type, u.Active, u.Verified, u.HourlyRate, u.Bio, u.AverageRating,
		u.TotalJobs, u.CompletedJobs, u.FCMToken, nullTime(u.LastLogin), u.UpdatedAt)
	if err != nil {
		return user.User{}, fmt.Errorf("update user: %w", err)
	}
	if err := requireAffected(res, "user", u.ID); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
	return scanUser(row, email)
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (user.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone)
	return scanUser(row, phone)
}

func (s *Store) ListCleaners(ctx context.Context, filter storage.CleanerFilter) ([]user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE user_type = 'cleaner' AND is_active = TRUE`
	args := []interface{}{}
	if filter.VerifiedOnly {
		query += ` AND is_verified = TRUE`
	}
	if filter.MinRate > 0 {
		args = append(args, filter.MinRate)
		query += fmt.Sprintf(` AND hourly_rate >= $%d`, len(args))
	}
	if filter.MaxRate > 0 {
		args = append(args, filter.MaxRate)
		query += fmt.Sprintf(` AND hourly_rate <= $%d`, len(args))
	}
	query += ` ORDER BY average_rating DESC, completed_jobs DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cleaners: %w", err)
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserFrom(sc rowScanner) (user.User, error) {
	var u user.User
	var lastLogin sql.NullTime
	err := sc.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.FullName, &u.PhoneNumber,
		&u.Type, &u.Active, &u.Verified, &u.HourlyRate, &u.Bio, &u.AverageRating,
		&u.TotalJobs, &u.CompletedJobs, &u.FCMToken, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	u.LastLogin = lastLogin.Time
	return u, nil
}

func scanUser(row *sql.Row, key string) (user.User, error) {
	u, err := scanUserFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, fmt.Errorf("user %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func scanUserRows(rows *sql.Rows) (user.User, error) {
	u, err := scanUserFrom(rows)
	if err != nil {
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// Jobs ------------------------------------------------------------------------

const jobColumns = `id, client_id, cleaner_id, title, description, location,
	latitude, longitude, scheduled_at, estimated_minutes, hourly_rate, status,
	payment_status, total_amount, mpesa_reference, started_at, completed_at,
	created_at, updated_at`

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		j.ID, j.ClientID, nullString(j.CleanerID), j.Title, j.Description, j.Location,
		j.Latitude, j.Longitude, j.ScheduledAt, j.EstimatedMinutes, j.HourlyRate,
		j.Status, j.PaymentStatus, j.TotalAmount, j.MpesaRef,
		nullTime(j.StartedAt), nullTime(j.CompletedAt), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return job.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

func (s *Store) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	j.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET cleaner_id = $2, title = $3, description = $4, location = $5,
			latitude = $6, longitude = $7, scheduled_at = $8, estimated_minutes = $9,
			hourly_rate = $10, status = $11, payment_status = $12, total_amount = $13,
			mpesa_reference = $14, started_at = $15, completed_at = $16, updated_at = $17
		WHERE id = $1`,
		j.ID, nullString(j.CleanerID), j.Title, j.Description, j.Location,
		j.Latitude, j.Longitude, j.ScheduledAt, j.EstimatedMinutes, j.HourlyRate,
		j.Status, j.PaymentStatus, j.TotalAmount, j.MpesaRef,
		nullTime(j.StartedAt), nullTime(j.CompletedAt), j.UpdatedAt)
	if err != nil {
		return job.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := requireAffected(res, "job", j.ID); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return j, nil
}

func (s *Store) ListJobsByClient(ctx context.Context, clientID string, status job.Status) ([]job.Job, error) {
	return s.listJobs(ctx, `client_id = $1`, clientID, status)
}

func (s *Store) ListJobsByCleaner(ctx context.Context, cleanerID string, status job.Status) ([]job.Job, error) {
	return s.listJobs(ctx, `cleaner_id = $1`, cleanerID, status)
}

func (s *Store) listJobs(ctx context.Context, where, ownerID string, status job.Status) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + where
	args := []interface{}{ownerID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at`
	return s.queryJobs(ctx, query, args...)
}

func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, limit int) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at`
	args := []interface{}{status}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryJobs(ctx, query, args...)
}

func (s *Store) ListCommittedJobs(ctx context.Context, cleanerID string, start, end time.Time) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status IN ('scheduled', 'in_progress')
		AND cleaner_id IS NOT NULL
		AND scheduled_at <= $1
		AND scheduled_at + make_interval(mins => estimated_minutes) >= $2`
	args := []interface{}{end, start}
	if cleanerID != "" {
		args = append(args, cleanerID)
		query += fmt.Sprintf(` AND cleaner_id = $%d`, len(args))
	}
	query += ` ORDER BY scheduled_at`
	return s.queryJobs(ctx, query, args...)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var result []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

func scanJob(sc rowScanner) (job.Job, error) {
	var j job.Job
	var cleanerID, mpesaRef sql.NullString
	var startedAt, completedAt sql.NullTime
	err := sc.Scan(&j.ID, &j.ClientID, &cleanerID, &j.Title, &j.Description,
		&j.Location, &j.Latitude, &j.Longitude, &j.ScheduledAt, &j.EstimatedMinutes,
		&j.HourlyRate, &j.Status, &j.PaymentStatus, &j.TotalAmount, &mpesaRef,
		&startedAt, &completedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return job.Job{}, err
	}
	j.CleanerID = cleanerID.String
	j.MpesaRef = mpesaRef.String
	j.StartedAt = startedAt.Time
	j.CompletedAt = completedAt.Time
	return j, nil
}

// Slots -----------------------------------------------------------------------

const slotColumns = `id, job_id, cleaner_id, start_time, end_time,
	proposed_by_cleaner, accepted, created_at`

func (s *Store) CreateSlot(ctx context.Context, slot job.ScheduleSlot) (job.ScheduleSlot, error) {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	slot.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_slots (`+slotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		slot.ID, slot.JobID, nullString(slot.CleanerID), slot.StartTime, slot.EndTime,
		slot.ProposedByCleaner, nullBool(slot.Accepted), slot.CreatedAt)
	if err != nil {
		return job.ScheduleSlot{}, fmt.Errorf("insert slot: %w", err)
	}
	return slot, nil
}

func (s *Store) UpdateSlot(ctx context.Context, slot job.ScheduleSlot) (job.ScheduleSlot, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_slots SET start_time = $2, end_time = $3, accepted = $4
		WHERE id = $1`,
		slot.ID, slot.StartTime, slot.EndTime, nullBool(slot.Accepted))
	if err != nil {
		return job.ScheduleSlot{}, fmt.Errorf("update slot: %w", err)
	}
	if err := requireAffected(res, "slot", slot.ID); err != nil {
		return job.ScheduleSlot{}, err
	}
	return slot, nil
}

func (s *Store) GetSlot(ctx context.Context, id string) (job.ScheduleSlot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM schedule_slots WHERE id = $1`, id)
	slot, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.ScheduleSlot{}, fmt.Errorf("slot %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return job.ScheduleSlot{}, fmt.Errorf("scan slot: %w", err)
	}
	return slot, nil
}

func (s *Store) ListSlots(ctx context.Context, jobID string) ([]job.ScheduleSlot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM schedule_slots WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []job.ScheduleSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		result = append(result, slot)
	}
	return result, rows.Err()
}

func scanSlot(sc rowScanner) (job.ScheduleSlot, error) {
	var slot job.ScheduleSlot
	var cleanerID sql.NullString
	var accepted sql.NullBool
	err := sc.Scan(&slot.ID, &slot.JobID, &cleanerID, &slot.StartTime,
		&slot.EndTime, &slot.ProposedByCleaner, &accepted, &slot.CreatedAt)
	if err != nil {
		return job.ScheduleSlot{}, err
	}
	slot.CleanerID = cleanerID.String
	if accepted.Valid {
		v := accepted.Bool
		slot.Accepted = &v
	}
	return slot, nil
}

// Reviews ---------------------------------------------------------------------

const reviewColumns = `id, job_id, reviewer_id, rating, comment, created_at`

func (s *Store) CreateReview(ctx context.Context, rev job.Review) (job.Review, error) {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	rev.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rev.ID, rev.JobID, rev.ReviewerID, rev.Rating, rev.Comment, rev.CreatedAt)
	if err != nil {
		return job.Review{}, fmt.Errorf("insert review: %w", err)
	}
	return rev, nil
}

func (s *Store) ListReviewsByJob(ctx context.Context, jobID string) ([]job.Review, error) {
	return s.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE job_id = $1 ORDER BY created_at`, jobID)
}

func (s *Store) ListReviewsForCleaner(ctx context.Context, cleanerID string) ([]job.Review, error) {
	return s.queryReviews(ctx, `
		SELECT r.id, r.job_id, r.reviewer_id, r.rating, r.comment, r.created_at
		FROM reviews r
		JOIN jobs j ON j.id = r.job_id
		WHERE j.cleaner_id = $1 AND r.reviewer_id = j.client_id
		ORDER BY r.created_at`, cleanerID)
}

func (s *Store) queryReviews(ctx context.Context, query string, args ...interface{}) ([]job.Review, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var result []job.Review
	for rows.Next() {
		var rev job.Review
		if err := rows.Scan(&rev.ID, &rev.JobID, &rev.ReviewerID, &rev.Rating,
			&rev.Comment, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		result = append(result, rev)
	}
	return result, rows.Err()
}

// Payments --------------------------------------------------------------------

const paymentColumns = `id, job_id, user_id, amount, currency, provider, status,
	reference, provider_reference, metadata, completed_at, created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return payment.Payment{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.JobID, p.UserID, p.Amount, p.Currency, p.Provider, p.Status,
		p.Reference, p.ProviderRef, meta, nullTime(p.CompletedAt),
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	p.UpdatedAt = time.Now().UTC()
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return payment.Payment{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET status = $2, provider_reference = $3, metadata = $4,
			completed_at = $5, updated_at = $6
		WHERE id = $1`,
		p.ID, p.Status, p.ProviderRef, meta, nullTime(p.CompletedAt), p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("update payment: %w", err)
	}
	if err := requireAffected(res, "payment", p.ID); err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return payment.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

func (s *Store) GetPaymentByCheckoutID(ctx context.Context, checkoutID string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE metadata->>'checkout_request_id' = $1
		ORDER BY created_at DESC LIMIT 1`, checkoutID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, fmt.Errorf("payment for checkout %s: %w", checkoutID, storage.ErrNotFound)
	}
	if err != nil {
		return payment.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

func (s *Store) ListPaymentsByJob(ctx context.Context, jobID string) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var result []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanPayment(sc rowScanner) (payment.Payment, error) {
	var p payment.Payment
	var meta []byte
	var completedAt sql.NullTime
	err := sc.Scan(&p.ID, &p.JobID, &p.UserID, &p.Amount, &p.Currency, &p.Provider,
		&p.Status, &p.Reference, &p.ProviderRef, &meta, &completedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}
	p.CompletedAt = completedAt.Time
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return payment.Payment{}, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return p, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode payment metadata: %w", err)
	}
	return data, nil
}

// Routes ----------------------------------------------------------------------

func (s *Store) CreateRoute(ctx context.Context, rt location.Route) (location.Route, error) {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	rt.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routes (id, user_id, job_id, origin_lat, origin_lng,
			dest_lat, dest_lng, distance_meters, duration_seconds, polyline, eta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rt.ID, rt.UserID, rt.JobID, rt.Origin.Latitude, rt.Origin.Longitude,
		rt.Destination.Latitude, rt.Destination.Longitude, rt.DistanceMeters,
		rt.DurationSeconds, rt.Polyline, nullTime(rt.ETA), rt.CreatedAt)
	if err != nil {
		return location.Route{}, fmt.Errorf("insert route: %w", err)
	}
	return rt, nil
}

func (s *Store) LatestRouteForJob(ctx context.Context, jobID string) (location.Route, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, job_id, origin_lat, origin_lng, dest_lat, dest_lng,
			distance_meters, duration_seconds, polyline, eta, created_at
		FROM routes WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`, jobID)

	var rt location.Route
	var eta sql.NullTime
	err := row.Scan(&rt.ID, &rt.UserID, &rt.JobID, &rt.Origin.Latitude,
		&rt.Origin.Longitude, &rt.Destination.Latitude, &rt.Destination.Longitude,
		&rt.DistanceMeters, &rt.DurationSeconds, &rt.Polyline, &eta, &rt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return location.Route{}, fmt.Errorf("route for job %s: %w", jobID, storage.ErrNotFound)
	}
	if err != nil {
		return location.Route{}, fmt.Errorf("scan route: %w", err)
	}
	rt.ETA = eta.Time
	return rt, nil
}

// Location updates ------------------------------------------------------------

func (s *Store) CreateLocationUpdate(ctx context.Context, upd location.Update) (location.Update, error) {
	if upd.ID == "" {
		upd.ID = uuid.NewString()
	}
	if upd.RecordedAt.IsZero() {
		upd.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_updates (id, job_id, cleaner_id, latitude, longitude, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		upd.ID, upd.JobID, upd.CleanerID, upd.Coords.Latitude, upd.Coords.Longitude,
		upd.RecordedAt)
	if err != nil {
		return location.Update{}, fmt.Errorf("insert location update: %w", err)
	}
	return upd, nil
}

func (s *Store) ListLocationUpdates(ctx context.Context, jobID string, limit int) ([]location.Update, error) {
	query := `SELECT id, job_id, cleaner_id, latitude, longitude, recorded_at
		FROM location_updates WHERE job_id = $1 ORDER BY recorded_at DESC`
	args := []interface{}{jobID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list location updates: %w", err)
	}
	defer rows.Close()

	var result []location.Update
	for rows.Next() {
		var upd location.Update
		if err := rows.Scan(&upd.ID, &upd.JobID, &upd.CleanerID,
			&upd.Coords.Latitude, &upd.Coords.Longitude, &upd.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan location update: %w", err)
		}
		result = append(result, upd)
	}
	// Oldest first for callers plotting a trail.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, rows.Err()
}

func (s *Store) LatestLocationUpdate(ctx context.Context, jobID string) (location.Update, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, cleaner_id, latitude, longitude, recorded_at
		FROM location_updates WHERE job_id = $1 ORDER BY recorded_at DESC LIMIT 1`, jobID)

	var upd location.Update
	err := row.Scan(&upd.ID, &upd.JobID, &upd.CleanerID,
		&upd.Coords.Latitude, &upd.Coords.Longitude, &upd.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return location.Update{}, fmt.Errorf("location for job %s: %w", jobID, storage.ErrNotFound)
	}
	if err != nil {
		return location.Update{}, fmt.Errorf("scan location update: %w", err)
	}
	return upd, nil
}

// Notifications ---------------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(n.Data)
	if err != nil {
		return notification.Notification{}, fmt.Errorf("encode notification data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, body, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.Title, n.Body, data, n.Read, n.CreatedAt)
	if err != nil {
		return notification.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	query := `SELECT id, user_id, title, body, data, read, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []notification.Notification
	for rows.Next() {
		var n notification.Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &data,
			&n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("decode notification data: %w", err)
			}
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireAffected(res, "notification", id)
}

// Helpers ---------------------------------------------------------------------

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
