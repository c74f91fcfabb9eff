// Package migrations applies the database schema on startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements are executed in order inside a single transaction. Every
// statement is idempotent so Apply can run on every boot.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		user_type TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		hourly_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		bio TEXT NOT NULL DEFAULT '',
		average_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_jobs INTEGER NOT NULL DEFAULT 0,
		completed_jobs INTEGER NOT NULL DEFAULT 0,
		fcm_token TEXT NOT NULL DEFAULT '',
		last_login TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_phone_idx
		ON users (phone_number) WHERE phone_number <> ''`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES users (id),
		cleaner_id TEXT REFERENCES users (id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		scheduled_at TIMESTAMPTZ NOT NULL,
		estimated_minutes INTEGER NOT NULL,
		hourly_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		mpesa_reference TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_client_idx ON jobs (client_id)`,
	`CREATE INDEX IF NOT EXISTS jobs_cleaner_idx ON jobs (cleaner_id)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS schedule_slots (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs (id),
		cleaner_id TEXT REFERENCES users (id),
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		proposed_by_cleaner BOOLEAN NOT NULL DEFAULT FALSE,
		accepted BOOLEAN,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS schedule_slots_job_idx ON schedule_slots (job_id)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs (id),
		reviewer_id TEXT NOT NULL REFERENCES users (id),
		rating INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (job_id, reviewer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs (id),
		user_id TEXT NOT NULL REFERENCES users (id),
		amount DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL DEFAULT 'KES',
		provider TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		provider_reference TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS payments_job_idx ON payments (job_id)`,
	`CREATE INDEX IF NOT EXISTS payments_checkout_idx
		ON payments ((metadata->>'checkout_request_id'))`,
	`CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		job_id TEXT NOT NULL REFERENCES jobs (id),
		origin_lat DOUBLE PRECISION NOT NULL,
		origin_lng DOUBLE PRECISION NOT NULL,
		dest_lat DOUBLE PRECISION NOT NULL,
		dest_lng DOUBLE PRECISION NOT NULL,
		distance_meters DOUBLE PRECISION NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL,
		polyline TEXT NOT NULL DEFAULT '',
		eta TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS routes_job_idx ON routes (job_id)`,
	`CREATE TABLE IF NOT EXISTS location_updates (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs (id),
		cleaner_id TEXT NOT NULL REFERENCES users (id),
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS location_updates_job_idx
		ON location_updates (job_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users (id),
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		data JSONB NOT NULL DEFAULT '{}',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_user_idx
		ON notifications (user_id, read)`,
}

// Apply creates or updates the schema. It is safe to call on every startup.
func Apply(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
