package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"

	"github.com/slok/ocrtrack/internal/model"
)

const maxExportBytes = 100 * 1024 * 1024

// Export downloads the result of a task in the requested format.
func (c *Client) Export(ctx context.Context, taskID string, format model.ExportFormat) (*model.Export, error) {
	q := url.Values{"format": []string{string(format)}}
	req, err := c.newRequest(ctx, http.MethodGet, "/export/"+url.PathEscape(taskID)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("could not export task %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxExportBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read export: %w", err)
	}

	return &model.Export{
		Filename:    exportFilename(resp.Header.Get("Content-Disposition"), format),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func exportFilename(contentDisposition string, format model.ExportFormat) string {
	if contentDisposition == "" {
		return format.DefaultFilename()
	}

	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return format.DefaultFilename()
	}

	// Never trust server paths.
	name := path.Base(params["filename"])
	if name == "" || name == "." || name == "/" {
		return format.DefaultFilename()
	}
	return name
}
