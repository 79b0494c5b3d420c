// Package jobs persists sync-job definitions and run outcomes in
// Postgres. The destination base owns all message and thread data; this
// store only holds what the scheduler needs to trigger and track runs.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatable-community/syncer/internal/config"
)

// NewConnection creates a PostgreSQL connection pool for the job store.
func NewConnection(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Schema is the job store's DDL. Applied idempotently at startup and by
// the test harness.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_jobs (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL,
	api_token TEXT NOT NULL,
	server_url TEXT NOT NULL,
	imap_server TEXT NOT NULL,
	email_user TEXT NOT NULL,
	email_password_encrypted BYTEA NOT NULL,
	email_table_name TEXT NOT NULL,
	link_table_name TEXT NOT NULL,
	last_trigger_time TIMESTAMPTZ,
	is_valid BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (imap_server, email_user, email_table_name, link_table_name)
);

CREATE TABLE IF NOT EXISTS job_runs (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	job_id BIGINT NOT NULL REFERENCES sync_jobs(id) ON DELETE CASCADE,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	state TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_job_runs_job_id ON job_runs(job_id);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply job store schema: %w", err)
	}
	return nil
}
