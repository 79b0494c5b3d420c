package logsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		data        string
		wantService string
		wantTime    string
		wantLog     string
	}{
		{
			name:        "space separated timestamp",
			data:        `{"message": "2024-03-09 08:15:30 worker started", "tags": ["syncer", "email"]}`,
			wantService: "syncer-email",
			wantTime:    "2024-03-09 08:15:30",
			wantLog:     "```\n2024-03-09 08:15:30 worker started\n```",
		},
		{
			name:        "T separated timestamp",
			data:        `{"message": "2024-03-09T08:15:30 worker started", "tags": ["syncer"]}`,
			wantService: "syncer",
			wantTime:    "2024-03-09 08:15:30",
			wantLog:     "```\n2024-03-09T08:15:30 worker started\n```",
		},
		{
			name:        "bracketed timestamp",
			data:        `{"message": "[2024-03-09 08:15:30] worker started", "tags": ["api"]}`,
			wantService: "api",
			wantTime:    "2024-03-09 08:15:30",
			wantLog:     "```\n[2024-03-09 08:15:30] worker started\n```",
		},
		{
			name:        "no timestamp falls back to now",
			data:        `{"message": "worker started", "tags": ["api"]}`,
			wantService: "api",
			wantTime:    "2024-03-10 12:00:00",
			wantLog:     "```\nworker started\n```",
		},
		{
			name:        "no tags",
			data:        `{"message": "2024-03-09 08:15:30 hello"}`,
			wantService: "",
			wantTime:    "2024-03-09 08:15:30",
			wantLog:     "```\n2024-03-09 08:15:30 hello\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := ParseRecord([]byte(tt.data), now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantService, row["Service"])
			assert.Equal(t, tt.wantTime, row["Time"])
			assert.Equal(t, tt.wantLog, row["Log"])
		})
	}
}

func TestParseRecordMalformed(t *testing.T) {
	_, err := ParseRecord([]byte("not json"), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed log record")
}
