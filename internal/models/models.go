package models

import "time"

// RowDateFormat is the naive local timestamp format the destination base
// stores in its Date columns.
const RowDateFormat = "2006-01-02 15:04:05"

// SyncMode selects the temporal window of a sync run.
type SyncMode string

const (
	// ModeOn syncs messages dated exactly on the given day.
	ModeOn SyncMode = "ON"
	// ModeSince syncs everything from the given day forward (catch-up).
	ModeSince SyncMode = "SINCE"
)

// Valid reports whether the mode is one of the two supported values.
func (m SyncMode) Valid() bool {
	return m == ModeOn || m == ModeSince
}

// Message is one email as fetched from the mailbox, normalized for the
// destination base. MessageID and InReplyTo are trimmed, lower-cased and
// stripped of angle brackets; UID is only unique within one folder and is
// kept for diagnostics.
type Message struct {
	UID         string
	MessageID   string
	InReplyTo   string
	Subject     string
	From        string
	To          string
	CC          string
	Date        time.Time
	Content     string
	Attachments []Attachment

	// ThreadID is assigned by the resolver, RowID by the destination after
	// the email row is inserted. Both are empty on a freshly fetched message.
	ThreadID string
	RowID    string
}

// Attachment is a file attached to a message. FileRef is filled in by the
// upload step before the email row is inserted.
type Attachment struct {
	Name     string
	MimeType string
	Content  []byte
	FileRef  map[string]any
}

// Thread is one conversation, materialized as a row in the link table.
type Thread struct {
	ThreadID    string
	Subject     string
	LastUpdated time.Time
}

// ThreadUpdate accumulates what a sync run learned about one thread: the
// newest member date seen and the message ids that must end up linked.
type ThreadUpdate struct {
	LastUpdated time.Time
	MessageIDs  []string
}

// Column names of the email table in the destination base.
const (
	ColSubject     = "Subject"
	ColFrom        = "From"
	ColTo          = "To"
	ColCC          = "cc"
	ColInReplyTo   = "Reply to Message ID"
	ColUID         = "UID"
	ColMessageID   = "Message ID"
	ColContent     = "Content"
	ColDate        = "Date"
	ColAttachments = "Attachments"
	ColThreadID    = "Thread ID"
)

// Column names of the thread (link) table.
const (
	ColLastUpdated = "Last Updated"
	ColEmails      = "Emails"
)

// ToRow converts the message to the destination email-table column map.
func (m *Message) ToRow() map[string]any {
	row := map[string]any{
		ColSubject:   m.Subject,
		ColFrom:      m.From,
		ColTo:        m.To,
		ColCC:        m.CC,
		ColInReplyTo: m.InReplyTo,
		ColUID:       m.UID,
		ColMessageID: m.MessageID,
		ColContent:   m.Content,
		ColDate:      m.Date.Format(RowDateFormat),
		ColThreadID:  m.ThreadID,
	}

	if len(m.Attachments) > 0 {
		files := make([]map[string]any, 0, len(m.Attachments))
		for _, att := range m.Attachments {
			if att.FileRef != nil {
				files = append(files, att.FileRef)
			}
		}
		if len(files) > 0 {
			row[ColAttachments] = files
		}
	}

	return row
}

// ToRow converts the thread to the destination link-table column map.
func (t *Thread) ToRow() map[string]any {
	return map[string]any{
		ColSubject:     t.Subject,
		ColLastUpdated: t.LastUpdated.Format(RowDateFormat),
		ColThreadID:    t.ThreadID,
	}
}
