package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateUserInserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := store.CreateUser(context.Background(), user.User{
		Email:    "Jane@Example.com",
		FullName: "Jane Mwangi",
		Type:     user.TypeClient,
		Active:   true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUser(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetJobScansNullables(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "client_id", "cleaner_id", "title", "description", "location",
		"latitude", "longitude", "scheduled_at", "estimated_minutes", "hourly_rate",
		"status", "payment_status", "total_amount", "mpesa_reference",
		"started_at", "completed_at", "created_at", "updated_at",
	}).AddRow("job-1", "client-1", nil, "Deep clean", "", "Westlands",
		-1.26, 36.80, now, 120, 450.0,
		"pending", "pending", 540.0, nil,
		nil, nil, now, now)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id`).
		WithArgs("job-1").
		WillReturnRows(rows)

	j, err := store.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.CleanerID != "" {
		t.Fatalf("expected empty cleaner id, got %q", j.CleanerID)
	}
	if j.Status != job.StatusPending {
		t.Fatalf("unexpected status %s", j.Status)
	}
	if !j.StartedAt.IsZero() {
		t.Fatal("expected zero started_at")
	}
}

func TestSlotRoundTripsUnassignedCleaner(t *testing.T) {
	store, mock := newMockStore(t)

	// Client-proposed slots on unassigned jobs carry no cleaner; the column
	// must be written as NULL, not an empty-string foreign key.
	mock.ExpectExec(`INSERT INTO schedule_slots`).
		WithArgs(sqlmock.AnyArg(), "job-1", nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
			false, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	start := time.Now().UTC()
	created, err := store.CreateSlot(context.Background(), job.ScheduleSlot{
		JobID:     "job-1",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	rows := sqlmock.NewRows([]string{
		"id", "job_id", "cleaner_id", "start_time", "end_time",
		"proposed_by_cleaner", "accepted", "created_at",
	}).AddRow(created.ID, "job-1", nil, start, start.Add(2*time.Hour),
		false, nil, created.CreatedAt)

	mock.ExpectQuery(`SELECT .+ FROM schedule_slots WHERE id`).
		WithArgs(created.ID).
		WillReturnRows(rows)

	slot, err := store.GetSlot(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot.CleanerID != "" {
		t.Fatalf("expected empty cleaner id, got %q", slot.CleanerID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateJobNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateJob(context.Background(), job.Job{ID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCleanersAppliesFilter(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "email", "hashed_password", "full_name", "phone_number", "user_type",
		"is_active", "is_verified", "hourly_rate", "bio", "average_rating",
		"total_jobs", "completed_jobs", "fcm_token", "last_login",
		"created_at", "updated_at",
	}).AddRow("u1", "a@x.com", "h", "A", "254700000001", "cleaner",
		true, true, 400.0, "", 4.5, 10, 9, "", nil, now, now)

	mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE user_type = 'cleaner'`).
		WithArgs(360.0, 540.0, 10).
		WillReturnRows(rows)

	cleaners, err := store.ListCleaners(context.Background(), storage.CleanerFilter{
		MinRate: 360, MaxRate: 540, Limit: 10,
	})
	if err != nil {
		t.Fatalf("ListCleaners: %v", err)
	}
	if len(cleaners) != 1 || cleaners[0].ID != "u1" {
		t.Fatalf("unexpected cleaners: %+v", cleaners)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE notifications SET read = TRUE`).
		WithArgs("n1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkNotificationRead(context.Background(), "n1", "u1"); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}

	mock.ExpectExec(`UPDATE notifications SET read = TRUE`).
		WithArgs("n2", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkNotificationRead(context.Background(), "n2", "u1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
