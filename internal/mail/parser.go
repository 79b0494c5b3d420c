package mail

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/seatable-community/syncer/internal/models"
)

// NormalizeMessageID canonicalizes a Message-ID or In-Reply-To header
// value: trimmed, lower-cased, angle brackets stripped. This is the
// natural key the destination rows are deduplicated by.
func NormalizeMessageID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}

// ParseMessage converts a fetched IMAP message to our Message model.
// The body reader, when present, is parsed with enmime for the plain-text
// content and attachments; HTML parts are skipped.
func ParseMessage(imapMsg *imap.Message, section *imap.BodySectionName) (*models.Message, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	envelope := imapMsg.Envelope
	if envelope == nil {
		return nil, fmt.Errorf("message UID %d has no envelope", imapMsg.Uid)
	}

	messageID := NormalizeMessageID(envelope.MessageId)
	if messageID == "" {
		return nil, fmt.Errorf("message UID %d has no Message-ID", imapMsg.Uid)
	}

	if envelope.Date.IsZero() {
		return nil, fmt.Errorf("message UID %d has no date", imapMsg.Uid)
	}

	msg := &models.Message{
		UID:       strconv.FormatUint(uint64(imapMsg.Uid), 10),
		MessageID: messageID,
		InReplyTo: NormalizeMessageID(envelope.InReplyTo),
		Subject:   envelope.Subject,
		Date:      envelope.Date,
	}

	if len(envelope.From) > 0 {
		msg.From = formatAddress(envelope.From[0])
	}
	msg.To = formatAddressList(envelope.To)
	msg.CC = formatAddressList(envelope.Cc)

	if section != nil {
		if bodyReader := imapMsg.GetBody(section); bodyReader != nil {
			if err := parseBody(bodyReader, msg); err != nil {
				// Headers are enough for threading; keep the message.
				log.Printf("Warning: failed to parse body of message %s: %v", msg.MessageID, err)
			}
		}
	}

	return msg, nil
}

// parseBody extracts the plain-text content and attachments using enmime.
func parseBody(bodyReader io.Reader, msg *models.Message) error {
	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		return fmt.Errorf("failed to parse email body: %w", err)
	}

	msg.Content = envelope.Text

	// In-Reply-To is usually in the IMAP envelope, but some servers only
	// expose it in the raw headers.
	if msg.InReplyTo == "" {
		msg.InReplyTo = NormalizeMessageID(envelope.GetHeader("In-Reply-To"))
	}

	for _, part := range envelope.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Name:     part.FileName,
			MimeType: part.ContentType,
			Content:  part.Content,
		})
	}

	return nil
}

// formatAddress formats an IMAP address as mailbox@host.
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}

// formatAddressList joins a list of IMAP addresses with commas.
func formatAddressList(addresses []*imap.Address) string {
	parts := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if formatted := formatAddress(address); formatted != "" {
			parts = append(parts, formatted)
		}
	}
	return strings.Join(parts, ",")
}

// sameDay reports whether two instants fall on the same calendar date in
// the given location.
func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// dayStart truncates an instant to midnight in the given location.
func dayStart(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
