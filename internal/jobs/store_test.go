package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatable-community/syncer/internal/jobs"
	"github.com/seatable-community/syncer/internal/models"
	"github.com/seatable-community/syncer/internal/testutil"
)

func newJob(name, user string) *models.SyncJob {
	return &models.SyncJob{
		Name:                   name,
		APIToken:               "token-" + name,
		ServerURL:              "https://cloud.example.com",
		IMAPServer:             "imap.example.com:993",
		EmailUser:              user,
		EncryptedEmailPassword: []byte("ciphertext"),
		EmailTableName:         "Emails",
		LinkTableName:          "Threads",
	}
}

func createJob(t *testing.T, pool *pgxpool.Pool, job *models.SyncJob) {
	t.Helper()
	require.NoError(t, jobs.CreateJob(context.Background(), pool, job))
	require.NotZero(t, job.ID)
}

func TestCreateAndGetJob(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	job := newJob("support", "support@example.com")
	createJob(t, pool, job)

	got, err := jobs.GetJob(ctx, pool, job.ID)
	require.NoError(t, err)

	assert.Equal(t, job.Name, got.Name)
	assert.Equal(t, job.APIToken, got.APIToken)
	assert.Equal(t, job.IMAPServer, got.IMAPServer)
	assert.Equal(t, []byte("ciphertext"), got.EncryptedEmailPassword)
	assert.True(t, got.IsValid)
	assert.Nil(t, got.LastTriggerTime)
}

func TestGetJobNotFound(t *testing.T) {
	pool := testutil.NewTestDB(t)

	_, err := jobs.GetJob(context.Background(), pool, 12345)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestCreateJobDuplicateMailboxRejected(t *testing.T) {
	pool := testutil.NewTestDB(t)

	createJob(t, pool, newJob("first", "support@example.com"))

	err := jobs.CreateJob(context.Background(), pool, newJob("second", "support@example.com"))
	require.Error(t, err, "same mailbox and tables may only be configured once")
}

func TestListActiveJobsSkipsInvalid(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	first := newJob("first", "a@example.com")
	second := newJob("second", "b@example.com")
	createJob(t, pool, first)
	createJob(t, pool, second)

	require.NoError(t, jobs.MarkJobInvalid(ctx, pool, first.ID))

	active, err := jobs.ListActiveJobs(ctx, pool)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestMarkJobInvalidNotFound(t *testing.T) {
	pool := testutil.NewTestDB(t)

	err := jobs.MarkJobInvalid(context.Background(), pool, 12345)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestSetLastTriggerTime(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	job := newJob("support", "support@example.com")
	createJob(t, pool, job)

	at := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	require.NoError(t, jobs.SetLastTriggerTime(ctx, pool, job.ID, at))

	got, err := jobs.GetJob(ctx, pool, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastTriggerTime)
	assert.True(t, got.LastTriggerTime.Equal(at))
}

func TestRunLifecycle(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	job := newJob("support", "support@example.com")
	createJob(t, pool, job)

	startedAt := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	runID, err := jobs.StartRun(ctx, pool, job.ID, startedAt)
	require.NoError(t, err)

	run, err := jobs.GetRun(ctx, pool, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFetching, run.State)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, jobs.RecordRunState(ctx, pool, runID, models.RunLinking))
	run, err = jobs.GetRun(ctx, pool, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunLinking, run.State)

	require.NoError(t, jobs.FinishRun(ctx, pool, runID, models.RunFailed, assert.AnError))
	run, err = jobs.GetRun(ctx, pool, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.State)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, assert.AnError.Error(), run.Error)
}

func TestFinishRunSuccessHasNoError(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	job := newJob("support", "support@example.com")
	createJob(t, pool, job)

	runID, err := jobs.StartRun(ctx, pool, job.ID, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, jobs.FinishRun(ctx, pool, runID, models.RunDone, nil))

	run, err := jobs.GetRun(ctx, pool, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunDone, run.State)
	assert.Empty(t, run.Error)
}
