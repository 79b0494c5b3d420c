package base

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Row is one destination row keyed by column name. The internal row
// identifier is in the "_id" column.
type Row = map[string]any

type queryResponse struct {
	Results []Row `json:"results"`
}

// Query runs an SQL read statement against the base.
func (c *Client) Query(ctx context.Context, sql string) ([]Row, error) {
	payload := map[string]any{"sql": sql}

	var resp queryResponse
	if err := c.request(ctx, http.MethodPost, c.dataURL("query/"), payload, &resp); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return resp.Results, nil
}

// CountRows returns the number of rows matching the condition.
// The destination has no unlimited-result query, so "fetch everything
// matching" is implemented as count-then-fetch-with-that-limit.
func (c *Client) CountRows(ctx context.Context, tableName, condition string) (int, error) {
	sql := fmt.Sprintf("select count(*) from `%s`%s", tableName, whereClause(condition))

	rows, err := c.Query(ctx, sql)
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}

	for _, value := range rows[0] {
		if count, ok := toInt(value); ok {
			return count, nil
		}
	}

	return 0, fmt.Errorf("count query returned no numeric column")
}

// QueryAllRows fetches every row matching the condition, sizing the limit
// from a preceding count.
func (c *Client) QueryAllRows(ctx context.Context, tableName, fields, condition string) ([]Row, error) {
	count, err := c.CountRows(ctx, tableName, condition)
	if err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, nil
	}

	sql := fmt.Sprintf("select %s from `%s`%s limit %d", fields, tableName, whereClause(condition), count)
	return c.Query(ctx, sql)
}

// QueryRowsByKeys looks up rows whose keyColumn is in keys, chunked to
// respect the destination's filter-size limit. An empty key set returns
// nil without querying.
func (c *Client) QueryRowsByKeys(ctx context.Context, tableName, keyColumn, fields string, keys []string) ([]Row, error) {
	var result []Row
	for _, chunk := range chunkStrings(keys, QueryChunkSize) {
		quoted := make([]string, len(chunk))
		for i, key := range chunk {
			quoted[i] = quoteSQLString(key)
		}

		sql := fmt.Sprintf("select %s from `%s` where `%s` in (%s) limit %d",
			fields, tableName, keyColumn, strings.Join(quoted, ", "), QueryChunkSize)

		rows, err := c.Query(ctx, sql)
		if err != nil {
			return nil, err
		}

		result = append(result, rows...)
	}

	return result, nil
}

// ResolveRowIDs maps natural keys to destination-internal row ids. Keys
// with no matching row are absent from the result.
func (c *Client) ResolveRowIDs(ctx context.Context, tableName, keyColumn string, keys []string) (map[string]string, error) {
	rows, err := c.QueryRowsByKeys(ctx, tableName, keyColumn, fmt.Sprintf("`_id`, `%s`", keyColumn), keys)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]string, len(rows))
	for _, row := range rows {
		key, _ := row[keyColumn].(string)
		rowID, _ := row["_id"].(string)
		if key != "" && rowID != "" {
			resolved[key] = rowID
		}
	}

	return resolved, nil
}

func whereClause(condition string) string {
	if condition == "" {
		return ""
	}
	return " where " + condition
}

// quoteSQLString wraps a value in single quotes for the destination's SQL
// dialect, doubling any embedded quote.
func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}
