// Package mysqlsync copies the result set of a configured MySQL query
// into a destination base table, skipping rows already present.
package mysqlsync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/seatable-community/syncer/internal/base"
)

// Destination is the slice of the base client the MySQL syncer needs.
type Destination interface {
	Auth(ctx context.Context) error
	QueryRowsByKeys(ctx context.Context, tableName, keyColumn, fields string, keys []string) ([]base.Row, error)
	BatchAppendRows(ctx context.Context, tableName string, rows []base.Row) error
}

// Syncer runs one configured query against MySQL and appends new rows
// to the destination table.
type Syncer struct {
	db        *sqlx.DB
	dest      Destination
	query     string
	keyColumn string
	tableName string
}

// NewSyncer creates a MySQL syncer. keyColumn names the column, present
// in both the query result and the destination table, that identifies a
// row for deduplication.
func NewSyncer(db *sqlx.DB, dest Destination, query, keyColumn, tableName string) *Syncer {
	return &Syncer{
		db:        db,
		dest:      dest,
		query:     query,
		keyColumn: keyColumn,
		tableName: tableName,
	}
}

// NormalizeRow converts driver values to row cell values. The MySQL
// driver hands back []byte for text columns and time.Time for dates;
// the destination wants strings for both.
func NormalizeRow(in map[string]any) base.Row {
	row := make(base.Row, len(in))
	for column, value := range in {
		switch v := value.(type) {
		case []byte:
			row[column] = string(v)
		case time.Time:
			row[column] = v.Format("2006-01-02 15:04:05")
		default:
			row[column] = v
		}
	}
	return row
}

// fetch runs the configured query and returns normalized rows.
func (s *Syncer) fetch(ctx context.Context) ([]base.Row, error) {
	result, err := s.db.QueryxContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("mysql query failed: %w", err)
	}
	defer result.Close()

	var rows []base.Row
	for result.Next() {
		scanned := make(map[string]any)
		if err := result.MapScan(scanned); err != nil {
			return nil, fmt.Errorf("failed to scan mysql row: %w", err)
		}
		rows = append(rows, NormalizeRow(scanned))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("mysql query failed: %w", err)
	}
	return rows, nil
}

// filterExisting drops rows whose key already exists in the destination.
// Rows without a key value are kept as-is.
func (s *Syncer) filterExisting(ctx context.Context, rows []base.Row) ([]base.Row, error) {
	var keys []string
	for _, row := range rows {
		if key, ok := row[s.keyColumn].(string); ok && key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return rows, nil
	}

	existing, err := s.dest.QueryRowsByKeys(ctx, s.tableName, s.keyColumn, fmt.Sprintf("`%s`", s.keyColumn), keys)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, row := range existing {
		if key, ok := row[s.keyColumn].(string); ok {
			seen[key] = true
		}
	}

	fresh := rows[:0]
	for _, row := range rows {
		if key, ok := row[s.keyColumn].(string); ok && seen[key] {
			continue
		}
		fresh = append(fresh, row)
	}
	return fresh, nil
}

// Sync runs the query once and appends every row not already present.
// Returns the number of rows written.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	if err := s.dest.Auth(ctx); err != nil {
		return 0, err
	}

	rows, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		log.Printf("mysql sync: nothing to write")
		return 0, nil
	}

	rows, err = s.filterExisting(ctx, rows)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		log.Printf("mysql sync: all rows already present")
		return 0, nil
	}

	if err := s.dest.BatchAppendRows(ctx, s.tableName, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
