package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{Client: db}, nil
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// schema is idempotent. Constraint names are referenced by the attendance repository.
const schema = `
CREATE TABLE IF NOT EXISTS pending_registrations (
	id             BIGSERIAL PRIMARY KEY,
	identity_token TEXT NOT NULL,
	name           TEXT,
	matric         TEXT,
	image          TEXT,
	completed      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS pending_registrations_open_token_idx
	ON pending_registrations (identity_token) WHERE NOT completed;
CREATE INDEX IF NOT EXISTS pending_registrations_open_order_idx
	ON pending_registrations (created_at, id) WHERE NOT completed;

CREATE TABLE IF NOT EXISTS students (
	id             UUID PRIMARY KEY,
	matric         TEXT NOT NULL CONSTRAINT students_matric_key UNIQUE,
	identity_token TEXT NOT NULL CONSTRAINT students_identity_token_key UNIQUE,
	name           TEXT NOT NULL,
	image          TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance_periods (
	id            UUID PRIMARY KEY,
	student_id    UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	period_date   DATE NOT NULL,
	first_sign_in TIMESTAMPTZ NOT NULL,
	last_sign_in  TIMESTAMPTZ NOT NULL,
	sign_in_count INTEGER NOT NULL DEFAULT 1,
	sign_ins      JSONB NOT NULL DEFAULT '[]'::jsonb,
	CONSTRAINT attendance_periods_student_date_key UNIQUE (student_id, period_date)
);

CREATE INDEX IF NOT EXISTS attendance_periods_date_idx ON attendance_periods (period_date);
`

// Migrate creates the attendance schema if it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
