package mysqlsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatable-community/syncer/internal/base"
)

func TestNormalizeRow(t *testing.T) {
	in := map[string]any{
		"name":    []byte("alice"),
		"created": time.Date(2024, 3, 9, 8, 15, 30, 0, time.UTC),
		"count":   int64(7),
		"note":    nil,
	}

	row := NormalizeRow(in)

	assert.Equal(t, "alice", row["name"])
	assert.Equal(t, "2024-03-09 08:15:30", row["created"])
	assert.Equal(t, int64(7), row["count"])
	assert.Nil(t, row["note"])
}

type fakeDestination struct {
	existing []base.Row
	appended []base.Row
}

func (f *fakeDestination) Auth(ctx context.Context) error { return nil }

func (f *fakeDestination) QueryRowsByKeys(ctx context.Context, tableName, keyColumn, fields string, keys []string) ([]base.Row, error) {
	return f.existing, nil
}

func (f *fakeDestination) BatchAppendRows(ctx context.Context, tableName string, rows []base.Row) error {
	f.appended = append(f.appended, rows...)
	return nil
}

func TestFilterExisting(t *testing.T) {
	dest := &fakeDestination{
		existing: []base.Row{
			{"Order ID": "a-1"},
			{"Order ID": "a-3"},
		},
	}
	syncer := NewSyncer(nil, dest, "", "Order ID", "Orders")

	rows := []base.Row{
		{"Order ID": "a-1", "Total": int64(10)},
		{"Order ID": "a-2", "Total": int64(20)},
		{"Order ID": "a-3", "Total": int64(30)},
	}

	fresh, err := syncer.filterExisting(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "a-2", fresh[0]["Order ID"])
}

func TestFilterExistingNoKeys(t *testing.T) {
	dest := &fakeDestination{}
	syncer := NewSyncer(nil, dest, "", "Order ID", "Orders")

	rows := []base.Row{{"Total": int64(10)}}
	fresh, err := syncer.filterExisting(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, rows, fresh)
}
