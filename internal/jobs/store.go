package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatable-community/syncer/internal/models"
)

// ErrJobNotFound is returned when a requested job cannot be found.
var ErrJobNotFound = errors.New("sync job not found")

const jobColumns = `id, name, api_token, server_url, imap_server, email_user,
	email_password_encrypted, email_table_name, link_table_name,
	last_trigger_time, is_valid`

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var job models.SyncJob
	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.APIToken,
		&job.ServerURL,
		&job.IMAPServer,
		&job.EmailUser,
		&job.EncryptedEmailPassword,
		&job.EmailTableName,
		&job.LinkTableName,
		&job.LastTriggerTime,
		&job.IsValid,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return &job, nil
}

// CreateJob inserts a job definition and fills in its id.
func CreateJob(ctx context.Context, pool *pgxpool.Pool, job *models.SyncJob) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO sync_jobs (name, api_token, server_url, imap_server, email_user,
			email_password_encrypted, email_table_name, link_table_name, is_valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		RETURNING id
	`, job.Name, job.APIToken, job.ServerURL, job.IMAPServer, job.EmailUser,
		job.EncryptedEmailPassword, job.EmailTableName, job.LinkTableName).Scan(&job.ID)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	job.IsValid = true
	return nil
}

// GetJob returns one job by id.
func GetJob(ctx context.Context, pool *pgxpool.Pool, jobID int64) (*models.SyncJob, error) {
	row := pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// ListActiveJobs returns every job still marked valid.
func ListActiveJobs(ctx context.Context, pool *pgxpool.Pool) ([]*models.SyncJob, error) {
	rows, err := pool.Query(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE is_valid ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	return jobs, nil
}

// MarkJobInvalid disables a job after a configuration failure so the
// scheduler stops triggering it.
func MarkJobInvalid(ctx context.Context, pool *pgxpool.Pool, jobID int64) error {
	tag, err := pool.Exec(ctx, `UPDATE sync_jobs SET is_valid = FALSE WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job invalid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// SetLastTriggerTime records when the job was last triggered.
func SetLastTriggerTime(ctx context.Context, pool *pgxpool.Pool, jobID int64, at time.Time) error {
	tag, err := pool.Exec(ctx, `UPDATE sync_jobs SET last_trigger_time = $2 WHERE id = $1`, jobID, at)
	if err != nil {
		return fmt.Errorf("failed to set last trigger time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// StartRun records the start of a run and returns its id.
func StartRun(ctx context.Context, pool *pgxpool.Pool, jobID int64, startedAt time.Time) (int64, error) {
	var runID int64
	err := pool.QueryRow(ctx, `
		INSERT INTO job_runs (job_id, started_at, state)
		VALUES ($1, $2, $3)
		RETURNING id
	`, jobID, startedAt, models.RunFetching).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("failed to record run start: %w", err)
	}
	return runID, nil
}

// RecordRunState updates the state of an in-flight run.
func RecordRunState(ctx context.Context, pool *pgxpool.Pool, runID int64, state models.RunState) error {
	if _, err := pool.Exec(ctx, `UPDATE job_runs SET state = $2 WHERE id = $1`, runID, state); err != nil {
		return fmt.Errorf("failed to record run state: %w", err)
	}
	return nil
}

// FinishRun records the terminal state and error of a run.
func FinishRun(ctx context.Context, pool *pgxpool.Pool, runID int64, state models.RunState, runErr error) error {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}

	_, err := pool.Exec(ctx, `
		UPDATE job_runs SET finished_at = $2, state = $3, error = $4 WHERE id = $1
	`, runID, time.Now().UTC(), state, message)
	if err != nil {
		return fmt.Errorf("failed to record run outcome: %w", err)
	}
	return nil
}

// GetRun returns one run record.
func GetRun(ctx context.Context, pool *pgxpool.Pool, runID int64) (*models.JobRun, error) {
	var run models.JobRun
	err := pool.QueryRow(ctx, `
		SELECT id, job_id, started_at, finished_at, state, error FROM job_runs WHERE id = $1
	`, runID).Scan(&run.ID, &run.JobID, &run.StartedAt, &run.FinishedAt, &run.State, &run.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// NextWindow picks the date and mode for the next scheduled run: ON
// today's date normally, switching to SINCE yesterday when the previous
// trigger happened yesterday, so a missed day is caught up instead of
// skipped.
func NextWindow(job *models.SyncJob, now time.Time, loc *time.Location) (time.Time, models.SyncMode) {
	today := now.In(loc)
	yesterday := today.AddDate(0, 0, -1)

	if job.LastTriggerTime != nil {
		last := job.LastTriggerTime.In(loc)
		if last.Year() == yesterday.Year() && last.YearDay() == yesterday.YearDay() {
			return time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, loc), models.ModeSince
		}
	}

	return time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc), models.ModeOn
}
