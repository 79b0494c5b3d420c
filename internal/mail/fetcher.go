package mail

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/seatable-community/syncer/internal/models"
)

// DefaultFolders are the mailbox folders a sync run walks.
var DefaultFolders = []string{"INBOX", "Sent Items"}

// Fetcher pulls messages from one mailbox. A fresh IMAP session is opened
// per Fetch call and closed before it returns; nothing is kept between
// runs.
type Fetcher struct {
	Server   string
	Username string
	Password string

	// Location normalizes message dates before the window filter is
	// applied.
	Location *time.Location

	// Folders defaults to DefaultFolders when empty.
	Folders []string

	// UseTLS is disabled only by tests running against the in-memory
	// server.
	UseTLS bool
}

// NewFetcher creates a Fetcher with production defaults.
func NewFetcher(server, username, password string, loc *time.Location) *Fetcher {
	return &Fetcher{
		Server:   server,
		Username: username,
		Password: password,
		Location: loc,
		Folders:  DefaultFolders,
		UseTLS:   true,
	}
}

// Fetch returns the messages in the sync window, unordered. Mode ON keeps
// messages dated exactly on windowStart's day; mode SINCE keeps everything
// from that day forward. The IMAP search is widened by a day on each side
// so server/client timezone skew at folder boundaries cannot drop
// messages; the parsed envelope date is what decides membership.
func (f *Fetcher) Fetch(ctx context.Context, windowStart time.Time, mode models.SyncMode) ([]models.Message, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid sync mode %q", mode)
	}

	c, err := Connect(f.Server, f.UseTLS)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", f.Server, err)
	}
	defer func() {
		_ = c.Logout()
	}()

	if err := Login(c, f.Username, f.Password); err != nil {
		return nil, err
	}

	folders := f.Folders
	if len(folders) == 0 {
		folders = DefaultFolders
	}

	day := dayStart(windowStart, f.Location)

	var total []models.Message
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := c.Select(folder, true); err != nil {
			log.Printf("Warning: failed to select folder %s on %s: %v", folder, f.Server, err)
			continue
		}

		messages, err := f.fetchFolder(c, folder, day, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch folder %s: %w", folder, err)
		}

		total = append(total, messages...)
	}

	return total, nil
}

// fetchFolder searches the selected folder and parses every hit, skipping
// individual messages that fail to parse.
func (f *Fetcher) fetchFolder(c *imapclient.Client, folder string, day time.Time, mode models.SyncMode) ([]models.Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = day.AddDate(0, 0, -1)
	if mode == models.ModeOn {
		criteria.Before = day.AddDate(0, 0, 2)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchUid,
		section.FetchItem(),
	}

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, ch)
	}()

	var result []models.Message
	for imapMsg := range ch {
		msg, err := ParseMessage(imapMsg, section)
		if err != nil {
			log.Printf("Warning: failed to parse message in %s: %v", folder, err)
			continue
		}

		if !f.inWindow(msg.Date, day, mode) {
			continue
		}

		result = append(result, *msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	return result, nil
}

// inWindow applies the exact-date (ON) or lower-bound (SINCE) filter to a
// parsed message date.
func (f *Fetcher) inWindow(date, day time.Time, mode models.SyncMode) bool {
	if mode == models.ModeOn {
		return sameDay(date, day, f.Location)
	}
	return !dayStart(date, f.Location).Before(day)
}
