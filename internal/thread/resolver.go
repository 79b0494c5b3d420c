// Package thread assigns fetched messages to conversation threads using
// one-hop In-Reply-To links against the state already synced to the
// destination base.
package thread

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seatable-community/syncer/internal/models"
)

// RecentIndexDays bounds the lookback of the recent message→thread index.
// Wide enough for realistic reply delays, small enough to keep the index
// query cheap; replies to older messages are resolved by explicit key
// lookups instead.
const RecentIndexDays = 30

// IndexSource supplies message→thread mappings from the destination.
// Implemented by sync.Writer.
type IndexSource interface {
	// RecentThreadIndex returns {message id → thread id} for all synced
	// email rows dated on or after since.
	RecentThreadIndex(ctx context.Context, since time.Time) (map[string]string, error)

	// ThreadIDsByMessageIDs returns {message id → thread id} for the given
	// message ids regardless of age. Lookups are chunked by the
	// implementation to respect destination query limits.
	ThreadIDsByMessageIDs(ctx context.Context, messageIDs []string) (map[string]string, error)
}

// Result is the outcome of one resolution pass.
type Result struct {
	// Messages are the not-yet-synced messages in ascending date order,
	// each with its thread id assigned.
	Messages []models.Message

	// NewThreads are the thread rows that must be inserted, in minting
	// order.
	NewThreads []models.Thread

	// Updates is the per-thread plan: the newest member date seen this run
	// and the message ids to link, for new and existing threads alike.
	Updates map[string]*models.ThreadUpdate
}

// Resolve computes thread assignments for a batch of fetched messages.
//
// Messages already present in the destination (by message id, looked back
// RecentIndexDays from windowStart) are dropped. Reply targets outside
// that window are fetched by explicit key lookup. The remaining messages
// are processed in ascending date order with the index updated after each
// one, so a reply can attach to any message processed earlier in the same
// batch.
func Resolve(ctx context.Context, src IndexSource, windowStart time.Time, messages []models.Message) (*Result, error) {
	since := windowStart.AddDate(0, 0, -RecentIndexDays)

	index, err := src.RecentThreadIndex(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent thread index: %w", err)
	}
	if index == nil {
		index = make(map[string]string)
	}

	// Idempotence guard: anything already synced is dropped.
	var pending []models.Message
	for _, msg := range messages {
		if _, synced := index[msg.MessageID]; !synced {
			pending = append(pending, msg)
		}
	}

	// Reply targets older than the index window.
	var unresolvedReplyIDs []string
	seen := make(map[string]bool)
	for _, msg := range pending {
		if msg.InReplyTo == "" || seen[msg.InReplyTo] {
			continue
		}
		if _, known := index[msg.InReplyTo]; !known {
			unresolvedReplyIDs = append(unresolvedReplyIDs, msg.InReplyTo)
			seen[msg.InReplyTo] = true
		}
	}

	if len(unresolvedReplyIDs) > 0 {
		earlier, err := src.ThreadIDsByMessageIDs(ctx, unresolvedReplyIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to look up reply targets: %w", err)
		}
		for messageID, threadID := range earlier {
			index[messageID] = threadID
		}
	}

	// A reply may only attach to a message processed before it, so the
	// pass must run in chronological order.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Date.Before(pending[j].Date)
	})

	result := &Result{
		Updates: make(map[string]*models.ThreadUpdate),
	}

	seenMessages := make(map[string]struct{}, len(pending))
	kept := pending[:0]

	for i := range pending {
		msg := &pending[i]

		// The same message can show up twice in one batch, for example
		// self-addressed mail fetched from both INBOX and Sent Items.
		// Only the first copy counts.
		if _, dup := seenMessages[msg.MessageID]; dup {
			continue
		}
		seenMessages[msg.MessageID] = struct{}{}

		threadID, known := "", false
		if msg.InReplyTo != "" {
			threadID, known = index[msg.InReplyTo]
		}

		if known {
			update := result.Updates[threadID]
			if update == nil {
				update = &models.ThreadUpdate{LastUpdated: msg.Date}
				result.Updates[threadID] = update
			}
			if msg.Date.After(update.LastUpdated) {
				update.LastUpdated = msg.Date
			}
			update.MessageIDs = append(update.MessageIDs, msg.MessageID)
		} else {
			threadID = mintThreadID()
			result.NewThreads = append(result.NewThreads, models.Thread{
				ThreadID:    threadID,
				Subject:     msg.Subject,
				LastUpdated: msg.Date,
			})
			result.Updates[threadID] = &models.ThreadUpdate{
				LastUpdated: msg.Date,
				MessageIDs:  []string{msg.MessageID},
			}
		}

		index[msg.MessageID] = threadID
		msg.ThreadID = threadID
		kept = append(kept, *msg)
	}

	result.Messages = kept
	return result, nil
}

// mintThreadID generates an opaque thread identifier (hex, no dashes).
func mintThreadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
