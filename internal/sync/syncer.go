// Package sync sequences one email-thread synchronization run: fetch mail,
// resolve thread assignments against the destination base, and persist new
// email rows, thread rows and link updates in dependency order.
package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/seatable-community/syncer/internal/models"
	"github.com/seatable-community/syncer/internal/thread"
)

// MailSource fetches the messages of a sync window. Implemented by
// mail.Fetcher.
type MailSource interface {
	Fetch(ctx context.Context, windowStart time.Time, mode models.SyncMode) ([]models.Message, error)
}

// Orchestrator runs sync() end to end. Steps are strictly sequential:
// each depends on the destination reflecting the previous step's writes.
type Orchestrator struct {
	Source MailSource
	Writer *Writer

	// Name identifies the mailbox/table pair in logs.
	Name string

	// OnStateChange, when set, observes every run-state transition. Used
	// to record run outcomes without an external event bus.
	OnStateChange func(models.RunState)
}

// setState logs and reports a state transition.
func (o *Orchestrator) setState(state models.RunState) {
	if o.OnStateChange != nil {
		o.OnStateChange(state)
	}
}

// Sync runs one synchronization for the window. Returns nil both on a
// completed write and on a no-op run (no mail, or everything already
// synced). Any failure is logged with its context and surfaces as the
// run's single error; nothing is retried within the run. The next
// scheduled run retries safely thanks to the message-id dedup.
func (o *Orchestrator) Sync(ctx context.Context, windowStart time.Time, mode models.SyncMode) (err error) {
	defer func() {
		if err != nil {
			o.setState(models.RunFailed)
			log.Printf("sync %s failed (date %s, mode %s): %v", o.Name, windowStart.Format("2006-01-02"), mode, err)
		}
	}()

	if !mode.Valid() {
		return invalidConfig(fmt.Sprintf("mode %q is not ON or SINCE", mode), nil)
	}

	if err := o.Writer.Auth(ctx); err != nil {
		return fmt.Errorf("destination auth failed: %w", err)
	}

	o.setState(models.RunFetching)
	messages, err := o.Source.Fetch(ctx, windowStart, mode)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	if len(messages) == 0 {
		o.setState(models.RunDone)
		return nil
	}

	log.Printf("sync %s: fetched %d messages", o.Name, len(messages))

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Date.Before(messages[j].Date)
	})

	o.setState(models.RunResolving)
	result, err := thread.Resolve(ctx, o.Writer, windowStart, messages)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}

	if len(result.Messages) == 0 {
		o.setState(models.RunDone)
		return nil
	}

	log.Printf("sync %s: %d new emails, %d new threads", o.Name, len(result.Messages), len(result.NewThreads))

	o.setState(models.RunWritingEmails)
	if err := o.Writer.UploadAttachments(ctx, result.Messages); err != nil {
		return fmt.Errorf("attachment upload failed: %w", err)
	}
	if err := o.Writer.AppendEmails(ctx, result.Messages); err != nil {
		return fmt.Errorf("email insert failed: %w", err)
	}

	o.setState(models.RunWritingThreads)
	if err := o.Writer.AppendThreads(ctx, result.NewThreads); err != nil {
		return fmt.Errorf("thread insert failed: %w", err)
	}

	o.setState(models.RunLinking)
	if err := o.Writer.ResolveEmailRowIDs(ctx, result.Messages); err != nil {
		return fmt.Errorf("linking failed: %w", err)
	}
	if err := o.Writer.ApplyThreadUpdates(ctx, result.Messages, result.Updates); err != nil {
		return fmt.Errorf("linking failed: %w", err)
	}

	o.setState(models.RunDone)
	return nil
}
