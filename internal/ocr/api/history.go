package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/slok/ocrtrack/internal/model"
)

type remoteTaskJSON struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	FileType         string `json:"file_type"`
	FileSize         int64  `json:"file_size"`
	PageCount        int    `json:"page_count"`
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	ErrorMessage     string `json:"error_message"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type taskListJSON struct {
	Tasks []remoteTaskJSON `json:"tasks"`
	Total int              `json:"total"`
}

// ListHistory returns a page of the user history kept by the service.
func (c *Client) ListHistory(ctx context.Context, query model.RemoteHistoryQuery) (*model.RemoteHistory, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("skip", strconv.Itoa(query.Skip))
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Status != "" {
		q.Set("status_filter", string(query.Status))
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/history?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var list taskListJSON
	if err := c.do(req, &list); err != nil {
		return nil, fmt.Errorf("could not list history: %w", err)
	}

	h := &model.RemoteHistory{
		Tasks: make([]model.RemoteTask, 0, len(list.Tasks)),
		Total: list.Total,
	}
	for _, t := range list.Tasks {
		h.Tasks = append(h.Tasks, model.RemoteTask{
			ID:           t.ID,
			FileName:     t.OriginalFilename,
			FileType:     t.FileType,
			SizeBytes:    t.FileSize,
			PageCount:    t.PageCount,
			Status:       model.RemoteStatus(t.Status),
			Progress:     t.Progress,
			ErrorMessage: t.ErrorMessage,
			CreatedAt:    parseTime(t.CreatedAt),
			UpdatedAt:    parseTime(t.UpdatedAt),
		})
	}

	return h, nil
}

// DeleteHistory deletes a task from the user history kept by the service.
func (c *Client) DeleteHistory(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	req, err := c.newRequest(ctx, http.MethodDelete, "/history/"+url.PathEscape(taskID), nil)
	if err != nil {
		return err
	}

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("could not delete task %s from history: %w", taskID, err)
	}

	c.logger.Debugf("Deleted task %s from the service history", taskID)
	return nil
}
