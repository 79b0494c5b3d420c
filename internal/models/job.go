package models

import "time"

// SyncJob is one configured mailbox/base pair, as stored in the job table.
// The mailbox password is encrypted at rest and decrypted by the runner.
type SyncJob struct {
	ID                     int64      `json:"id"`
	Name                   string     `json:"name"`
	APIToken               string     `json:"api_token"`
	ServerURL              string     `json:"server_url"`
	IMAPServer             string     `json:"imap_server"`
	EmailUser              string     `json:"email_user"`
	EncryptedEmailPassword []byte     `json:"-"`
	EmailTableName         string     `json:"email_table_name"`
	LinkTableName          string     `json:"link_table_name"`
	LastTriggerTime        *time.Time `json:"last_trigger_time"`
	IsValid                bool       `json:"is_valid"`
}

// RunState is the lifecycle state of one sync run.
type RunState string

const (
	RunFetching       RunState = "FETCHING"
	RunResolving      RunState = "RESOLVING"
	RunWritingEmails  RunState = "WRITING_EMAILS"
	RunWritingThreads RunState = "WRITING_THREADS"
	RunLinking        RunState = "LINKING"
	RunDone           RunState = "DONE"
	RunFailed         RunState = "FAILED"
)

// JobRun records the outcome of one sync run for a job.
type JobRun struct {
	ID         int64      `json:"id"`
	JobID      int64      `json:"job_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	State      RunState   `json:"state"`
	Error      string     `json:"error,omitempty"`
}
