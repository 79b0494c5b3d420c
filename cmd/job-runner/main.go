package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatable-community/syncer/internal/config"
	"github.com/seatable-community/syncer/internal/crypto"
	"github.com/seatable-community/syncer/internal/jobs"
	"github.com/seatable-community/syncer/internal/models"
	"github.com/seatable-community/syncer/internal/sync"
)

func main() {
	intervalFlag := flag.Duration("interval", time.Hour, "wait between scheduler passes")
	onceFlag := flag.Bool("once", false, "run one pass over active jobs and exit")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateJobStore(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	ctx := context.Background()
	pool, err := jobs.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := jobs.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	log.Printf("job runner starting (interval: %s)", *intervalFlag)
	for {
		runPass(ctx, pool, encryptor, loc)
		if *onceFlag {
			return
		}
		time.Sleep(*intervalFlag)
	}
}

// runPass syncs every active job once. A job that fails with a config
// error is marked invalid and skipped on later passes.
func runPass(ctx context.Context, pool *pgxpool.Pool, encryptor *crypto.Encryptor, loc *time.Location) {
	activeJobs, err := jobs.ListActiveJobs(ctx, pool)
	if err != nil {
		log.Printf("Warning: failed to list jobs: %v", err)
		return
	}

	for _, job := range activeJobs {
		if err := runJob(ctx, pool, encryptor, loc, job); err != nil {
			log.Printf("Warning: job %s failed: %v", job.Name, err)
		}
	}
}

func runJob(ctx context.Context, pool *pgxpool.Pool, encryptor *crypto.Encryptor, loc *time.Location, job *models.SyncJob) error {
	password, err := encryptor.Decrypt(job.EncryptedEmailPassword)
	if err != nil {
		if markErr := jobs.MarkJobInvalid(ctx, pool, job.ID); markErr != nil {
			log.Printf("Warning: failed to mark job %s invalid: %v", job.Name, markErr)
		}
		return err
	}

	now := time.Now()
	windowStart, mode := jobs.NextWindow(job, now, loc)

	runID, err := jobs.StartRun(ctx, pool, job.ID, now)
	if err != nil {
		return err
	}

	runner := &sync.Runner{
		MaxRunDuration: 30 * time.Minute,
		OnStateChange: func(state models.RunState) {
			if err := jobs.RecordRunState(ctx, pool, runID, state); err != nil {
				log.Printf("Warning: failed to record run state: %v", err)
			}
		},
	}

	runErr := runner.Run(ctx, sync.RunConfig{
		Name:           job.Name,
		Date:           windowStart,
		Mode:           mode,
		EmailServer:    job.IMAPServer,
		EmailUser:      job.EmailUser,
		EmailPassword:  password,
		APIToken:       job.APIToken,
		ServerURL:      job.ServerURL,
		EmailTableName: job.EmailTableName,
		LinkTableName:  job.LinkTableName,
		Location:       loc,
	})

	finalState := models.RunDone
	if runErr != nil {
		finalState = models.RunFailed
		if sync.IsConfigError(runErr) {
			if markErr := jobs.MarkJobInvalid(ctx, pool, job.ID); markErr != nil {
				log.Printf("Warning: failed to mark job %s invalid: %v", job.Name, markErr)
			}
		}
	}

	if err := jobs.FinishRun(ctx, pool, runID, finalState, runErr); err != nil {
		log.Printf("Warning: failed to record run outcome: %v", err)
	}
	if runErr == nil {
		if err := jobs.SetLastTriggerTime(ctx, pool, job.ID, now); err != nil {
			log.Printf("Warning: failed to record trigger time for %s: %v", job.Name, err)
		}
	}

	return runErr
}
