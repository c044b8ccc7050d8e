package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to PostgreSQL through the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

var schema = []string{
	`create table if not exists users (
		id            text primary key,
		name          text not null,
		email         text not null unique,
		password_hash text not null,
		role          text not null default 'student',
		disabled      boolean not null default false,
		mfa_status    text not null default 'disabled',
		mfa_secret    text,
		reset_token   text,
		reset_expires timestamptz,
		created_at    timestamptz not null default now()
	)`,
	`create table if not exists audit_log (
		id      text primary key,
		actor   text,
		action  text not null,
		target  text,
		details jsonb not null default '{}',
		ts      timestamptz not null default now()
	)`,
	`create index if not exists audit_log_ts_idx on audit_log (ts desc)`,
	`create index if not exists audit_log_action_idx on audit_log (action)`,
}

// EnsureSchema applies the embedded DDL. Statements are idempotent, so the
// API can run it unconditionally at startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
