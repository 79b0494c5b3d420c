// Package logsync drains Redis-buffered log records (as shipped by
// filebeat) into rows of a destination base table.
package logsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seatable-community/syncer/internal/base"
)

// Destination is the slice of the base client the log syncer needs.
type Destination interface {
	Auth(ctx context.Context) error
	BatchAppendRows(ctx context.Context, tableName string, rows []base.Row) error
}

// timestampPatterns pull a leading timestamp out of a log line, bracketed
// or not, space- or T-separated.
var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2}\s\d{1,2}:\d{1,2}:\d{1,2})`),
	regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2}T\d{1,2}:\d{1,2}:\d{1,2})`),
	regexp.MustCompile(`^\[(\d{4}-\d{1,2}-\d{1,2}\s\d{1,2}:\d{1,2}:\d{1,2})`),
	regexp.MustCompile(`^\[(\d{4}-\d{1,2}-\d{1,2}T\d{1,2}:\d{1,2}:\d{1,2})`),
}

// logRecord is one filebeat entry in the Redis list.
type logRecord struct {
	Message string   `json:"message"`
	Tags    []string `json:"tags"`
}

// ParseRecord converts one buffered entry to a destination row. now is
// used when the message carries no recognizable timestamp.
func ParseRecord(data []byte, now time.Time) (base.Row, error) {
	var record logRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("malformed log record: %w", err)
	}

	logTime := now.Format("2006-01-02 15:04:05")
	for _, pattern := range timestampPatterns {
		if match := pattern.FindStringSubmatch(record.Message); match != nil {
			logTime = strings.Replace(match[1], "T", " ", 1)
			break
		}
	}

	return base.Row{
		"Service": strings.Join(record.Tags, "-"),
		"Time":    logTime,
		"Log":     "```\n" + record.Message + "\n```",
	}, nil
}

// Syncer moves buffered log records into the destination in batches.
type Syncer struct {
	rdb       *redis.Client
	dest      Destination
	key       string
	tableName string

	// BatchCount is how many records one drain takes off the list.
	BatchCount int
}

// NewSyncer creates a log syncer over the given Redis list.
func NewSyncer(rdb *redis.Client, dest Destination, key, tableName string) *Syncer {
	return &Syncer{
		rdb:        rdb,
		dest:       dest,
		key:        key,
		tableName:  tableName,
		BatchCount: 10,
	}
}

// Pending returns how many records are buffered.
func (s *Syncer) Pending(ctx context.Context) (int64, error) {
	count, err := s.rdb.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read log buffer length: %w", err)
	}
	return count, nil
}

// DrainOnce pops up to BatchCount records and appends them as rows.
// Malformed records are logged and dropped, never block the batch.
// Returns the number of rows written.
func (s *Syncer) DrainOnce(ctx context.Context) (int, error) {
	entries, err := s.rdb.LPopCount(ctx, s.key, s.BatchCount).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to pop log records: %w", err)
	}

	if len(entries) == 0 {
		return 0, nil
	}

	now := time.Now()
	rows := make([]base.Row, 0, len(entries))
	for _, entry := range entries {
		row, err := ParseRecord([]byte(entry), now)
		if err != nil {
			log.Printf("Warning: dropping log record: %v", err)
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return 0, nil
	}

	if err := s.dest.BatchAppendRows(ctx, s.tableName, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Run drains the buffer until the context is cancelled, sleeping between
// empty polls.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.dest.Auth(ctx); err != nil {
		return err
	}

	for {
		written, err := s.DrainOnce(ctx)
		if err != nil {
			log.Printf("Warning: log drain failed: %v", err)
		} else if written > 0 {
			log.Printf("log sync: wrote %d rows", written)
		}

		wait := 500 * time.Millisecond
		if written == 0 {
			wait = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
