package base

import (
	"context"
	"fmt"
	"net/http"
)

// TableMeta describes one table of the base.
type TableMeta struct {
	ID      string       `json:"_id"`
	Name    string       `json:"name"`
	Columns []ColumnMeta `json:"columns"`
}

// ColumnMeta describes one column.
type ColumnMeta struct {
	Key  string         `json:"key"`
	Name string         `json:"name"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type metadataResponse struct {
	Metadata struct {
		Tables []TableMeta `json:"tables"`
	} `json:"metadata"`
}

// Metadata fetches the base's table and column metadata.
func (c *Client) Metadata(ctx context.Context) ([]TableMeta, error) {
	var resp metadataResponse
	if err := c.request(ctx, http.MethodGet, c.dataURL("metadata/"), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	return resp.Metadata.Tables, nil
}

// TableID resolves a table name to its internal id.
func (c *Client) TableID(ctx context.Context, tableName string) (string, error) {
	tables, err := c.Metadata(ctx)
	if err != nil {
		return "", err
	}

	for _, table := range tables {
		if table.Name == tableName {
			return table.ID, nil
		}
	}

	return "", fmt.Errorf("table %s not found in base", tableName)
}

// ColumnLinkID resolves the link id of a link column, required by the
// link-update endpoint (links reference internal ids, not column names).
func (c *Client) ColumnLinkID(ctx context.Context, tableName, columnName string) (string, error) {
	tables, err := c.Metadata(ctx)
	if err != nil {
		return "", err
	}

	for _, table := range tables {
		if table.Name != tableName {
			continue
		}
		for _, column := range table.Columns {
			if column.Name != columnName {
				continue
			}
			if column.Type != "link" {
				return "", fmt.Errorf("column %s in table %s is not a link column", columnName, tableName)
			}
			if linkID, ok := column.Data["link_id"].(string); ok && linkID != "" {
				return linkID, nil
			}
			return "", fmt.Errorf("link column %s in table %s has no link id", columnName, tableName)
		}
		return "", fmt.Errorf("column %s not found in table %s", columnName, tableName)
	}

	return "", fmt.Errorf("table %s not found in base", tableName)
}

// BatchUpdateLinks sets the full member list of a link cell for each row
// in rowIDs. The member lists replace what is stored, so callers must pass
// the union of prior and new members themselves.
func (c *Client) BatchUpdateLinks(ctx context.Context, linkID, tableID, otherTableID string, rowIDs []string, otherRowIDsByRowID map[string][]string) error {
	if len(rowIDs) == 0 {
		return nil
	}

	payload := map[string]any{
		"link_id":            linkID,
		"table_id":           tableID,
		"other_table_id":     otherTableID,
		"row_id_list":        rowIDs,
		"other_rows_ids_map": otherRowIDsByRowID,
	}

	if err := c.request(ctx, http.MethodPut, c.dataURL("batch-update-links/"), payload, nil); err != nil {
		return fmt.Errorf("failed to update links: %w", err)
	}

	return nil
}
