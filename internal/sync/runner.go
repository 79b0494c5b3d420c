package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/seatable-community/syncer/internal/base"
	"github.com/seatable-community/syncer/internal/mail"
	"github.com/seatable-community/syncer/internal/models"
)

// ErrRunTimeout means the watchdog gave up on a run. The in-flight mail
// and destination calls are not cancelled; the run is reported failed and
// retried on the next tick.
var ErrRunTimeout = errors.New("sync run exceeded maximum duration")

// RunConfig is everything one sync run needs. All values are
// externally-validated inputs; the runner decides whether failures they
// cause are configuration problems or transient.
type RunConfig struct {
	Name string
	Date time.Time
	Mode models.SyncMode

	EmailServer   string
	EmailUser     string
	EmailPassword string

	APIToken  string
	ServerURL string

	EmailTableName string
	LinkTableName  string

	Location *time.Location
}

// Runner adapts the orchestrator for scheduled execution: it front-loads
// the configuration checks the scheduler needs classified (ConfigError vs
// transient) and guards the run with a cooperative watchdog.
type Runner struct {
	// MaxRunDuration bounds one run; zero disables the watchdog.
	MaxRunDuration time.Duration

	// OnStateChange is forwarded to the orchestrator.
	OnStateChange func(models.RunState)

	// Test seams; nil means the real IMAP fetcher and base client.
	NewSource      func(cfg RunConfig) MailSource
	NewDestination func(serverURL, apiToken string) Destination
}

// Run executes one sync run for the config. Configuration problems (bad
// credentials, missing tables, bad mode) return a ConfigError; everything
// else is retryable by the caller.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) error {
	if !cfg.Mode.Valid() {
		return invalidConfig(fmt.Sprintf("mode %q is not ON or SINCE", cfg.Mode), nil)
	}
	if cfg.Date.IsZero() {
		return invalidConfig("sync date is not set", nil)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	source := r.newSource(cfg)
	dest := r.newDestination(cfg)

	if err := r.checkDestination(ctx, dest, cfg); err != nil {
		return err
	}

	if r.NewSource == nil {
		if err := checkMailbox(cfg); err != nil {
			return invalidConfig(fmt.Sprintf("mailbox %s on %s unusable", cfg.EmailUser, cfg.EmailServer), err)
		}
	}

	orchestrator := &Orchestrator{
		Source:        source,
		Writer:        NewWriter(dest, cfg.EmailTableName, cfg.LinkTableName),
		Name:          cfg.Name,
		OnStateChange: r.OnStateChange,
	}

	return r.runGuarded(ctx, orchestrator, cfg)
}

func (r *Runner) newSource(cfg RunConfig) MailSource {
	if r.NewSource != nil {
		return r.NewSource(cfg)
	}
	return mail.NewFetcher(cfg.EmailServer, cfg.EmailUser, cfg.EmailPassword, cfg.Location)
}

func (r *Runner) newDestination(cfg RunConfig) Destination {
	if r.NewDestination != nil {
		return r.NewDestination(cfg.ServerURL, cfg.APIToken)
	}
	return base.NewClient(cfg.ServerURL, cfg.APIToken)
}

// checkDestination verifies the api token and the two tables exist before
// any mail is fetched. Failures here disable the job rather than retry.
func (r *Runner) checkDestination(ctx context.Context, dest Destination, cfg RunConfig) error {
	if err := dest.Auth(ctx); err != nil {
		var apiErr *base.APIError
		if errors.As(err, &apiErr) && apiErr.IsAuthError() {
			return invalidConfig("destination rejected api token", err)
		}
		return fmt.Errorf("destination unavailable: %w", err)
	}

	if _, err := dest.TableID(ctx, cfg.EmailTableName); err != nil {
		return invalidConfig(fmt.Sprintf("email table %s missing", cfg.EmailTableName), err)
	}
	if _, err := dest.TableID(ctx, cfg.LinkTableName); err != nil {
		return invalidConfig(fmt.Sprintf("thread table %s missing", cfg.LinkTableName), err)
	}
	if _, err := dest.ColumnLinkID(ctx, cfg.LinkTableName, models.ColEmails); err != nil {
		return invalidConfig(fmt.Sprintf("thread table %s has no usable %s link column", cfg.LinkTableName, models.ColEmails), err)
	}

	return nil
}

// checkMailbox verifies the IMAP account is reachable and the credentials
// work, with the login retry policy applied.
func checkMailbox(cfg RunConfig) error {
	c, err := mail.Connect(cfg.EmailServer, true)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Logout()
	}()

	return mail.Login(c, cfg.EmailUser, cfg.EmailPassword)
}

// runGuarded runs the orchestrator under the watchdog. On timeout the run
// keeps executing in the background (the underlying network calls are not
// cancellable mid-flight) but is reported failed, with stacks captured for
// diagnosis.
func (r *Runner) runGuarded(ctx context.Context, orchestrator *Orchestrator, cfg RunConfig) error {
	if r.MaxRunDuration <= 0 {
		return orchestrator.Sync(ctx, cfg.Date, cfg.Mode)
	}

	done := make(chan error, 1)
	go func() {
		done <- orchestrator.Sync(ctx, cfg.Date, cfg.Mode)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.MaxRunDuration):
		stacks := make([]byte, 64*1024)
		stacks = stacks[:runtime.Stack(stacks, true)]
		log.Printf("sync %s: run exceeded %s, stacks:\n%s", cfg.Name, r.MaxRunDuration, stacks)
		return fmt.Errorf("%w (%s after %s)", ErrRunTimeout, cfg.Name, r.MaxRunDuration)
	}
}
