package base

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
)

type uploadLinkResponse struct {
	UploadLink string `json:"upload_link"`
	ParentPath string `json:"parent_path"`
	FilePath   string `json:"file_relative_path"`
}

// UploadAttachment uploads a file to the base's attachment area and
// returns the file descriptor to embed in a file-column cell.
func (c *Client) UploadAttachment(ctx context.Context, name string, content []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/api/v2.1/dtable/app-upload-link/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload-link request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)

	var link uploadLinkResponse
	if err := c.do(req, &link); err != nil {
		return nil, fmt.Errorf("failed to get upload link: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}
	if err := writer.WriteField("parent_dir", link.ParentPath); err != nil {
		return nil, fmt.Errorf("failed to write parent_dir field: %w", err)
	}
	if err := writer.WriteField("relative_path", link.FilePath); err != nil {
		return nil, fmt.Errorf("failed to write relative_path field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, link.UploadLink+"?ret-json=1", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	uploadReq.Header.Set("Content-Type", writer.FormDataContentType())

	var uploaded []map[string]any
	if err := c.do(uploadReq, &uploaded); err != nil {
		return nil, fmt.Errorf("failed to upload attachment %s: %w", name, err)
	}

	if len(uploaded) == 0 {
		return nil, fmt.Errorf("upload of %s returned no file descriptor", name)
	}

	info := uploaded[0]
	fileName, _ := info["name"].(string)
	if fileName == "" {
		fileName = name
	}

	return map[string]any{
		"name": fileName,
		"size": len(content),
		"type": "file",
		"url":  path.Join("/workspace", link.ParentPath, link.FilePath, fileName),
	}, nil
}
