package base

import (
	"context"
	"fmt"
	"net/http"
)

// RowPatch updates one existing row by its internal id.
type RowPatch struct {
	RowID string `json:"row_id"`
	Row   Row    `json:"row"`
}

// BatchAppendRows inserts rows, chunked to respect the destination's
// payload limit.
func (c *Client) BatchAppendRows(ctx context.Context, tableName string, rows []Row) error {
	for start := 0; start < len(rows); start += AppendChunkSize {
		end := start + AppendChunkSize
		if end > len(rows) {
			end = len(rows)
		}

		payload := map[string]any{
			"table_name": tableName,
			"rows":       rows[start:end],
		}

		if err := c.request(ctx, http.MethodPost, c.dataURL("batch-append-rows/"), payload, nil); err != nil {
			return fmt.Errorf("failed to append rows to %s: %w", tableName, err)
		}
	}

	return nil
}

// BatchUpdateRows patches existing rows by id.
func (c *Client) BatchUpdateRows(ctx context.Context, tableName string, patches []RowPatch) error {
	if len(patches) == 0 {
		return nil
	}

	payload := map[string]any{
		"table_name": tableName,
		"updates":    patches,
	}

	if err := c.request(ctx, http.MethodPut, c.dataURL("batch-update-rows/"), payload, nil); err != nil {
		return fmt.Errorf("failed to update rows in %s: %w", tableName, err)
	}

	return nil
}

// GetRow fetches one row by internal id, including link-column members,
// which the SQL endpoint cannot return.
func (c *Client) GetRow(ctx context.Context, tableName, rowID string) (Row, error) {
	url := fmt.Sprintf("%s?table_name=%s", c.dataURL("rows/"+rowID+"/"), queryEscape(tableName))

	var row Row
	if err := c.request(ctx, http.MethodGet, url, nil, &row); err != nil {
		return nil, fmt.Errorf("failed to get row %s from %s: %w", rowID, tableName, err)
	}

	return row, nil
}
