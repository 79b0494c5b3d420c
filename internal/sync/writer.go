package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seatable-community/syncer/internal/base"
	"github.com/seatable-community/syncer/internal/models"
)

// Destination is the slice of the base client the writer uses. Satisfied
// by *base.Client; tests substitute an in-memory fake.
type Destination interface {
	Auth(ctx context.Context) error
	QueryAllRows(ctx context.Context, tableName, fields, condition string) ([]base.Row, error)
	QueryRowsByKeys(ctx context.Context, tableName, keyColumn, fields string, keys []string) ([]base.Row, error)
	BatchAppendRows(ctx context.Context, tableName string, rows []base.Row) error
	BatchUpdateRows(ctx context.Context, tableName string, patches []base.RowPatch) error
	WaitForRowIDs(ctx context.Context, tableName, keyColumn string, keys []string) (map[string]string, error)
	GetRow(ctx context.Context, tableName, rowID string) (base.Row, error)
	TableID(ctx context.Context, tableName string) (string, error)
	ColumnLinkID(ctx context.Context, tableName, columnName string) (string, error)
	BatchUpdateLinks(ctx context.Context, linkID, tableID, otherTableID string, rowIDs []string, otherRowIDsByRowID map[string][]string) error
	UploadAttachment(ctx context.Context, name string, content []byte) (map[string]any, error)
}

// Writer performs the batched reads and writes of a sync run against the
// email and thread tables of one base. It also serves as the resolver's
// index source.
type Writer struct {
	dest       Destination
	emailTable string
	linkTable  string
}

// NewWriter creates a writer over the given destination tables.
func NewWriter(dest Destination, emailTable, linkTable string) *Writer {
	return &Writer{
		dest:       dest,
		emailTable: emailTable,
		linkTable:  linkTable,
	}
}

// Auth authenticates the underlying destination client.
func (w *Writer) Auth(ctx context.Context) error {
	return w.dest.Auth(ctx)
}

// RecentThreadIndex implements thread.IndexSource: all synced message→
// thread pairs dated on or after since.
func (w *Writer) RecentThreadIndex(ctx context.Context, since time.Time) (map[string]string, error) {
	condition := fmt.Sprintf("`%s`>='%s'", models.ColDate, since.Format("2006-01-02"))
	fields := fmt.Sprintf("`%s`, `%s`", models.ColMessageID, models.ColThreadID)

	rows, err := w.dest.QueryAllRows(ctx, w.emailTable, fields, condition)
	if err != nil {
		return nil, err
	}

	return threadIndexFromRows(rows), nil
}

// ThreadIDsByMessageIDs implements thread.IndexSource: thread ids for the
// given message ids regardless of age.
func (w *Writer) ThreadIDsByMessageIDs(ctx context.Context, messageIDs []string) (map[string]string, error) {
	fields := fmt.Sprintf("`%s`, `%s`", models.ColMessageID, models.ColThreadID)

	rows, err := w.dest.QueryRowsByKeys(ctx, w.emailTable, models.ColMessageID, fields, messageIDs)
	if err != nil {
		return nil, err
	}

	return threadIndexFromRows(rows), nil
}

func threadIndexFromRows(rows []base.Row) map[string]string {
	index := make(map[string]string, len(rows))
	for _, row := range rows {
		messageID, _ := row[models.ColMessageID].(string)
		threadID, _ := row[models.ColThreadID].(string)
		if messageID != "" && threadID != "" {
			index[messageID] = threadID
		}
	}
	return index
}

// UploadAttachments uploads every attachment and fills in its file
// reference. Runs before the email rows are inserted because the row
// payload embeds the references.
func (w *Writer) UploadAttachments(ctx context.Context, messages []models.Message) error {
	for i := range messages {
		for j := range messages[i].Attachments {
			att := &messages[i].Attachments[j]
			ref, err := w.dest.UploadAttachment(ctx, att.Name, att.Content)
			if err != nil {
				return fmt.Errorf("failed to upload attachment %s of message %s: %w", att.Name, messages[i].MessageID, err)
			}
			att.FileRef = ref
		}
	}
	return nil
}

// AppendEmails inserts the new email rows.
func (w *Writer) AppendEmails(ctx context.Context, messages []models.Message) error {
	rows := make([]base.Row, len(messages))
	for i := range messages {
		rows[i] = messages[i].ToRow()
	}
	return w.dest.BatchAppendRows(ctx, w.emailTable, rows)
}

// AppendThreads inserts the new thread rows.
func (w *Writer) AppendThreads(ctx context.Context, threads []models.Thread) error {
	if len(threads) == 0 {
		return nil
	}

	rows := make([]base.Row, len(threads))
	for i := range threads {
		rows[i] = threads[i].ToRow()
	}
	return w.dest.BatchAppendRows(ctx, w.linkTable, rows)
}

// ResolveEmailRowIDs waits for the inserted email rows to become readable
// and fills in their internal row ids.
func (w *Writer) ResolveEmailRowIDs(ctx context.Context, messages []models.Message) error {
	keys := make([]string, len(messages))
	for i := range messages {
		keys[i] = messages[i].MessageID
	}

	rowIDs, err := w.dest.WaitForRowIDs(ctx, w.emailTable, models.ColMessageID, keys)
	if err != nil {
		return fmt.Errorf("failed to resolve email row ids: %w", err)
	}

	for i := range messages {
		messages[i].RowID = rowIDs[messages[i].MessageID]
	}
	return nil
}

// ApplyThreadUpdates patches thread Last Updated values and link members
// according to the plan. Link member lists are written as the union of
// what the thread row already holds and the new members, so existing
// links are never dropped.
func (w *Writer) ApplyThreadUpdates(ctx context.Context, messages []models.Message, updates map[string]*models.ThreadUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	threadIDs := make([]string, 0, len(updates))
	for threadID := range updates {
		threadIDs = append(threadIDs, threadID)
	}

	// Waits out the read-after-write lag for just-inserted thread rows.
	threadRowIDs, err := w.dest.WaitForRowIDs(ctx, w.linkTable, models.ColThreadID, threadIDs)
	if err != nil {
		return fmt.Errorf("failed to resolve thread row ids: %w", err)
	}

	if err := w.patchLastUpdated(ctx, threadIDs, threadRowIDs, updates); err != nil {
		return err
	}

	return w.updateLinks(ctx, messages, updates, threadRowIDs)
}

// patchLastUpdated advances Last Updated for threads whose stored value is
// older than the plan's. Never moves a thread backwards.
func (w *Writer) patchLastUpdated(ctx context.Context, threadIDs []string, threadRowIDs map[string]string, updates map[string]*models.ThreadUpdate) error {
	fields := fmt.Sprintf("`%s`, `%s`", models.ColThreadID, models.ColLastUpdated)
	rows, err := w.dest.QueryRowsByKeys(ctx, w.linkTable, models.ColThreadID, fields, threadIDs)
	if err != nil {
		return fmt.Errorf("failed to read thread rows: %w", err)
	}

	stored := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		threadID, _ := row[models.ColThreadID].(string)
		raw, _ := row[models.ColLastUpdated].(string)
		if threadID == "" || raw == "" {
			continue
		}
		if parsed, err := ParseRowDate(raw); err == nil {
			stored[threadID] = parsed
		}
	}

	var patches []base.RowPatch
	for threadID, update := range updates {
		rowID := threadRowIDs[threadID]
		if rowID == "" {
			return fmt.Errorf("thread %s has no destination row", threadID)
		}
		if storedAt, ok := stored[threadID]; ok && !update.LastUpdated.After(storedAt) {
			continue
		}
		patches = append(patches, base.RowPatch{
			RowID: rowID,
			Row:   base.Row{models.ColLastUpdated: update.LastUpdated.Format(models.RowDateFormat)},
		})
	}

	if err := w.dest.BatchUpdateRows(ctx, w.linkTable, patches); err != nil {
		return fmt.Errorf("failed to patch thread rows: %w", err)
	}
	return nil
}

// updateLinks sets every updated thread's Emails link cell to the union of
// its current members and the new ones.
func (w *Writer) updateLinks(ctx context.Context, messages []models.Message, updates map[string]*models.ThreadUpdate, threadRowIDs map[string]string) error {
	emailRowIDs := make(map[string]string, len(messages))
	for i := range messages {
		if messages[i].RowID != "" {
			emailRowIDs[messages[i].MessageID] = messages[i].RowID
		}
	}

	linkID, err := w.dest.ColumnLinkID(ctx, w.linkTable, models.ColEmails)
	if err != nil {
		return err
	}
	tableID, err := w.dest.TableID(ctx, w.linkTable)
	if err != nil {
		return err
	}
	otherTableID, err := w.dest.TableID(ctx, w.emailTable)
	if err != nil {
		return err
	}

	rowIDs := make([]string, 0, len(updates))
	members := make(map[string][]string, len(updates))
	for threadID, update := range updates {
		rowID := threadRowIDs[threadID]

		current, err := w.linkedRowIDs(ctx, rowID)
		if err != nil {
			return err
		}

		present := make(map[string]bool, len(current))
		merged := make([]string, 0, len(current)+len(update.MessageIDs))
		for _, member := range current {
			if !present[member] {
				present[member] = true
				merged = append(merged, member)
			}
		}
		for _, messageID := range update.MessageIDs {
			emailRowID := emailRowIDs[messageID]
			if emailRowID == "" {
				return fmt.Errorf("message %s has no destination row id", messageID)
			}
			if !present[emailRowID] {
				present[emailRowID] = true
				merged = append(merged, emailRowID)
			}
		}

		rowIDs = append(rowIDs, rowID)
		members[rowID] = merged
	}

	return w.dest.BatchUpdateLinks(ctx, linkID, tableID, otherTableID, rowIDs, members)
}

// linkedRowIDs reads the current Emails link members of a thread row. The
// SQL endpoint cannot return link cells, so this goes through the row API.
func (w *Writer) linkedRowIDs(ctx context.Context, rowID string) ([]string, error) {
	row, err := w.dest.GetRow(ctx, w.linkTable, rowID)
	if err != nil {
		return nil, err
	}

	raw, ok := row[models.ColEmails].([]any)
	if !ok {
		return nil, nil
	}

	ids := make([]string, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			ids = append(ids, v)
		case map[string]any:
			if id, ok := v["row_id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ParseRowDate parses the destination's timestamp string formats.
func ParseRowDate(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z",
		models.RowDateFormat,
		"2006-01-02 15:04",
		"2006-01-02",
	}

	if plus := strings.IndexByte(s, '+'); plus >= 0 {
		s = s[:plus]
	}

	for _, format := range formats {
		if parsed, err := time.Parse(format, s); err == nil {
			return parsed, nil
		}
	}

	return time.Time{}, fmt.Errorf("cannot parse row date %q", s)
}
