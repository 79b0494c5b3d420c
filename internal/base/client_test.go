package base

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest records one data-server call for assertions.
type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// fakeBase is an httptest stand-in for the destination. Handlers are
// keyed by "METHOD path" relative to the data root.
type fakeBase struct {
	t        *testing.T
	server   *httptest.Server
	handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []capturedRequest
}

const testUUID = "uuid-1"

func newFakeBase(t *testing.T) *fakeBase {
	t.Helper()

	f := &fakeBase{t: t, handlers: make(map[string]http.HandlerFunc)}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2.1/dtable/app-access-token/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token api-token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error_msg": "permission denied"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "access-token",
			"dtable_uuid":   testUUID,
			"dtable_server": f.server.URL,
		})
	})
	mux.HandleFunc("/api/v1/dtables/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/dtables/"+testUUID+"/")

		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{
			Method: r.Method,
			Path:   path,
			Query:  r.URL.RawQuery,
			Body:   body,
		})
		f.mu.Unlock()

		if handler, ok := f.handlers[r.Method+" "+path]; ok {
			handler(w, r)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBase) handle(method, path string, handler http.HandlerFunc) {
	f.handlers[method+" "+path] = handler
}

func (f *fakeBase) respond(method, path string, response any) {
	f.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(response)
	})
}

func (f *fakeBase) captured(path string) []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []capturedRequest
	for _, req := range f.requests {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func newAuthedClient(t *testing.T, f *fakeBase) *Client {
	t.Helper()

	client := NewClient(f.server.URL, "api-token")
	require.NoError(t, client.Auth(context.Background()))
	return client
}

func TestAuth(t *testing.T) {
	f := newFakeBase(t)
	client := NewClient(f.server.URL, "api-token")

	require.NoError(t, client.Auth(context.Background()))
	assert.Equal(t, "access-token", client.accessToken)
	assert.Equal(t, testUUID, client.dtableUUID)
}

func TestAuthRejected(t *testing.T) {
	f := newFakeBase(t)
	client := NewClient(f.server.URL, "wrong-token")

	err := client.Auth(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsAuthError())
}

func TestRequestBeforeAuth(t *testing.T) {
	f := newFakeBase(t)
	client := NewClient(f.server.URL, "api-token")

	_, err := client.Query(context.Background(), "select 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
	assert.Empty(t, f.captured("query/"))
}

func TestQuery(t *testing.T) {
	f := newFakeBase(t)
	f.respond(http.MethodPost, "query/", map[string]any{
		"results": []Row{{"_id": "r1", "Subject": "Hello"}},
	})

	client := newAuthedClient(t, f)
	rows, err := client.Query(context.Background(), "select * from `Emails`")
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "Hello", rows[0]["Subject"])

	calls := f.captured("query/")
	require.Len(t, calls, 1)
	assert.Equal(t, "select * from `Emails`", calls[0].Body["sql"])
}

func TestQueryAPIError(t *testing.T) {
	f := newFakeBase(t)
	f.handle(http.MethodPost, "query/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_msg": "table not found"}`))
	})

	client := newAuthedClient(t, f)
	_, err := client.Query(context.Background(), "select * from `Nope`")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.IsAuthError())
}

func TestCountRows(t *testing.T) {
	f := newFakeBase(t)
	f.respond(http.MethodPost, "query/", map[string]any{
		"results": []Row{{"COUNT(*)": float64(42)}},
	})

	client := newAuthedClient(t, f)
	count, err := client.CountRows(context.Background(), "Emails", "`Date`>='2024-03-01'")
	require.NoError(t, err)
	assert.Equal(t, 42, count)

	calls := f.captured("query/")
	require.Len(t, calls, 1)
	assert.Equal(t, "select count(*) from `Emails` where `Date`>='2024-03-01'", calls[0].Body["sql"])
}

func TestQueryAllRowsEmpty(t *testing.T) {
	f := newFakeBase(t)
	f.respond(http.MethodPost, "query/", map[string]any{
		"results": []Row{{"COUNT(*)": float64(0)}},
	})

	client := newAuthedClient(t, f)
	rows, err := client.QueryAllRows(context.Background(), "Emails", "`Message ID`", "")
	require.NoError(t, err)
	assert.Nil(t, rows)
	assert.Len(t, f.captured("query/"), 1, "no fetch after an empty count")
}

func TestQueryRowsByKeysChunking(t *testing.T) {
	f := newFakeBase(t)
	f.respond(http.MethodPost, "query/", map[string]any{
		"results": []Row{{"_id": "r1", "Message ID": "m1"}},
	})

	keys := make([]string, 250)
	for i := range keys {
		keys[i] = fmt.Sprintf("m%d", i)
	}

	client := newAuthedClient(t, f)
	rows, err := client.QueryRowsByKeys(context.Background(), "Emails", "Message ID", "`_id`, `Message ID`", keys)
	require.NoError(t, err)
	assert.Len(t, rows, 3, "one stub row per chunk")

	calls := f.captured("query/")
	require.Len(t, calls, 3, "250 keys at 100 per filter is 3 queries")
	for i, wantKeys := range []int{100, 100, 50} {
		sql := calls[i].Body["sql"].(string)
		assert.Equal(t, wantKeys, strings.Count(sql, "'m"), "chunk %d", i)
	}
}

func TestQueryRowsByKeysEmpty(t *testing.T) {
	f := newFakeBase(t)

	client := newAuthedClient(t, f)
	rows, err := client.QueryRowsByKeys(context.Background(), "Emails", "Message ID", "`_id`", nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
	assert.Empty(t, f.captured("query/"))
}

func TestQuoteSQLString(t *testing.T) {
	assert.Equal(t, "'abc'", quoteSQLString("abc"))
	assert.Equal(t, "'it''s'", quoteSQLString("it's"))
}

func TestResolveRowIDs(t *testing.T) {
	f := newFakeBase(t)
	f.respond(http.MethodPost, "query/", map[string]any{
		"results": []Row{
			{"_id": "r1", "Message ID": "m1"},
			{"_id": "r2", "Message ID": "m2"},
		},
	})

	client := newAuthedClient(t, f)
	resolved, err := client.ResolveRowIDs(context.Background(), "Emails", "Message ID", []string{"m1", "m2", "m3"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"m1": "r1", "m2": "r2"}, resolved)
}

func TestBatchAppendRowsChunking(t *testing.T) {
	f := newFakeBase(t)

	rows := make([]Row, 2500)
	for i := range rows {
		rows[i] = Row{"Message ID": fmt.Sprintf("m%d", i)}
	}

	client := newAuthedClient(t, f)
	require.NoError(t, client.BatchAppendRows(context.Background(), "Emails", rows))

	calls := f.captured("batch-append-rows/")
	require.Len(t, calls, 3)
	for i, wantRows := range []int{1000, 1000, 500} {
		assert.Equal(t, "Emails", calls[i].Body["table_name"])
		assert.Len(t, calls[i].Body["rows"], wantRows, "chunk %d", i)
	}
}

func TestBatchUpdateRows(t *testing.T) {
	f := newFakeBase(t)

	client := newAuthedClient(t, f)
	patches := []RowPatch{{RowID: "r1", Row: Row{"Last Updated": "2024-03-10 11:00:00"}}}
	require.NoError(t, client.BatchUpdateRows(context.Background(), "Threads", patches))

	calls := f.captured("batch-update-rows/")
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPut, calls[0].Method)
	assert.Equal(t, "Threads", calls[0].Body["table_name"])
}

func TestBatchUpdateRowsEmpty(t *testing.T) {
	f := newFakeBase(t)

	client := newAuthedClient(t, f)
	require.NoError(t, client.BatchUpdateRows(context.Background(), "Threads", nil))
	assert.Empty(t, f.captured("batch-update-rows/"))
}

func TestGetRow(t *testing.T) {
	f := newFakeBase(t)
	f.respond(http.MethodGet, "rows/r1/", Row{"_id": "r1", "Emails": []any{"e1", "e2"}})

	client := newAuthedClient(t, f)
	row, err := client.GetRow(context.Background(), "Threads", "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", row["_id"])

	calls := f.captured("rows/r1/")
	require.Len(t, calls, 1)
	assert.Equal(t, "table_name=Threads", calls[0].Query)
}

func metadataPayload() map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"tables": []map[string]any{
				{
					"_id":  "tbl-emails",
					"name": "Emails",
					"columns": []map[string]any{
						{"key": "0001", "name": "Message ID", "type": "text"},
					},
				},
				{
					"_id":  "tbl-threads",
					"name": "Threads",
					"columns": []map[string]any{
						{"key": "0001", "name": "Thread ID", "type": "text"},
						{"key": "0002", "name": "Emails", "type": "link", "data": map[string]any{"link_id": "link-1"}},
					},
				},
			},
		},
	}
}

func TestTableID(t *testing.T) {
	f := newFakeBase(t)
	f.respond(http.MethodGet, "metadata/", metadataPayload())

	client := newAuthedClient(t, f)

	id, err := client.TableID(context.Background(), "Threads")
	require.NoError(t, err)
	assert.Equal(t, "tbl-threads", id)

	_, err = client.TableID(context.Background(), "Missing")
	require.Error(t, err)
}

func TestColumnLinkID(t *testing.T) {
	f := newFakeBase(t)
	f.respond(http.MethodGet, "metadata/", metadataPayload())

	client := newAuthedClient(t, f)

	linkID, err := client.ColumnLinkID(context.Background(), "Threads", "Emails")
	require.NoError(t, err)
	assert.Equal(t, "link-1", linkID)

	_, err = client.ColumnLinkID(context.Background(), "Threads", "Thread ID")
	require.Error(t, err, "non-link column is rejected")

	_, err = client.ColumnLinkID(context.Background(), "Threads", "Missing")
	require.Error(t, err)
}

func TestBatchUpdateLinks(t *testing.T) {
	f := newFakeBase(t)

	client := newAuthedClient(t, f)
	err := client.BatchUpdateLinks(context.Background(), "link-1", "tbl-threads", "tbl-emails",
		[]string{"r1"}, map[string][]string{"r1": {"e1", "e2"}})
	require.NoError(t, err)

	calls := f.captured("batch-update-links/")
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPut, calls[0].Method)
	assert.Equal(t, "link-1", calls[0].Body["link_id"])
	assert.Equal(t, []any{"r1"}, calls[0].Body["row_id_list"])
}

func TestBatchUpdateLinksEmpty(t *testing.T) {
	f := newFakeBase(t)

	client := newAuthedClient(t, f)
	require.NoError(t, client.BatchUpdateLinks(context.Background(), "link-1", "a", "b", nil, nil))
	assert.Empty(t, f.captured("batch-update-links/"))
}

func shortPollSchedule(t *testing.T) {
	t.Helper()

	oldInterval, oldMax := pollInterval, pollMaxElapsed
	pollInterval = 5 * time.Millisecond
	pollMaxElapsed = 100 * time.Millisecond
	t.Cleanup(func() {
		pollInterval, pollMaxElapsed = oldInterval, oldMax
	})
}

func TestWaitForRowIDsEventuallyVisible(t *testing.T) {
	shortPollSchedule(t)

	f := newFakeBase(t)
	var attempts int
	f.handle(http.MethodPost, "query/", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		results := []Row{{"_id": "r1", "Message ID": "m1"}}
		if attempts >= 3 {
			results = append(results, Row{"_id": "r2", "Message ID": "m2"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	})

	client := newAuthedClient(t, f)
	resolved, err := client.WaitForRowIDs(context.Background(), "Emails", "Message ID", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"m1": "r1", "m2": "r2"}, resolved)
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestWaitForRowIDsTimeout(t *testing.T) {
	shortPollSchedule(t)

	f := newFakeBase(t)
	f.respond(http.MethodPost, "query/", map[string]any{"results": []Row{}})

	client := newAuthedClient(t, f)
	_, err := client.WaitForRowIDs(context.Background(), "Emails", "Message ID", []string{"m1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRowsNotVisible))
}

func TestWaitForRowIDsQueryErrorIsPermanent(t *testing.T) {
	shortPollSchedule(t)

	f := newFakeBase(t)
	var attempts int
	f.handle(http.MethodPost, "query/", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := newAuthedClient(t, f)
	_, err := client.WaitForRowIDs(context.Background(), "Emails", "Message ID", []string{"m1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRowsNotVisible))
	assert.Equal(t, 1, attempts, "query failures are not retried by the poll")
}

func TestWaitForRowIDsNoKeys(t *testing.T) {
	f := newFakeBase(t)

	client := newAuthedClient(t, f)
	resolved, err := client.WaitForRowIDs(context.Background(), "Emails", "Message ID", nil)
	require.NoError(t, err)
	assert.Empty(t, resolved)
	assert.Empty(t, f.captured("query/"))
}

func TestChunkStrings(t *testing.T) {
	assert.Nil(t, chunkStrings(nil, 2))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunkStrings([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a", "b", "c"}}, chunkStrings([]string{"a", "b", "c"}, 5))
}
