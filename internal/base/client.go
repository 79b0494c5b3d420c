// Package base is a client for the destination tabular store ("base"): a
// dtable service that exposes row CRUD, an SQL-like read endpoint, link
// (many-to-many) updates and attachment upload over HTTP. One Client is
// scoped to one base, resolved from its API token during Auth.
package base

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// QueryChunkSize is the maximum number of keys permitted in one IN-clause;
// the destination rejects larger filter lists.
const QueryChunkSize = 100

// AppendChunkSize is the maximum number of rows per batch-append call.
const AppendChunkSize = 1000

// APIError is a non-2xx response from the destination.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("destination returned status %d: %s", e.StatusCode, e.Body)
}

// IsAuthError reports whether the error is an authentication or
// authorization failure, which makes the job configuration invalid rather
// than the run transiently failed.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client talks to one base. Zero value is not usable; construct with
// NewClient and call Auth before any data operation.
type Client struct {
	serverURL string
	apiToken  string
	http      *http.Client

	// Filled by Auth.
	accessToken  string
	dtableUUID   string
	dtableServer string
}

// NewClient creates a client for the base behind the given API token.
func NewClient(serverURL, apiToken string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiToken:  apiToken,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type accessTokenResponse struct {
	AccessToken  string `json:"access_token"`
	DTableUUID   string `json:"dtable_uuid"`
	DTableServer string `json:"dtable_server"`
}

// Auth exchanges the API token for an access token and the base's data
// server address. Must succeed before any other call; an auth failure is
// terminal for the run.
func (c *Client) Auth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/api/v2.1/dtable/app-access-token/", nil)
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)

	var resp accessTokenResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("failed to authenticate against destination: %w", err)
	}

	if resp.AccessToken == "" || resp.DTableUUID == "" {
		return fmt.Errorf("destination auth response missing access token or base uuid")
	}

	c.accessToken = resp.AccessToken
	c.dtableUUID = resp.DTableUUID
	c.dtableServer = strings.TrimRight(resp.DTableServer, "/")
	if c.dtableServer == "" {
		c.dtableServer = c.serverURL
	}

	return nil
}

// dataURL builds a data-server endpoint for this base.
func (c *Client) dataURL(path string) string {
	return fmt.Sprintf("%s/api/v1/dtables/%s/%s", c.dtableServer, c.dtableUUID, path)
}

// request performs a JSON request against the data server.
func (c *Client) request(ctx context.Context, method, url string, payload, out any) error {
	if c.accessToken == "" {
		return fmt.Errorf("client is not authenticated")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

// do executes the request and decodes the JSON response into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func queryEscape(s string) string {
	return url.QueryEscape(s)
}

// chunkStrings splits keys into chunks of at most size elements.
func chunkStrings(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return nil
	}

	var chunks [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
