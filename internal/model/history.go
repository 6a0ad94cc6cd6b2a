package model

import (
	"fmt"
	"time"
)

// HistoryEntry is a finished task kept after the client that processed it has exited.
type HistoryEntry struct {
	LocalID string
	// TaskID is empty when the upload failed.
	TaskID       string
	FileName     string
	ContentType  string
	SizeBytes    int64
	Status       TaskStatus
	ErrorMessage string
	Result       *Result
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// NewHistoryEntry returns the history entry of a finished task.
func NewHistoryEntry(r TaskRecord) (HistoryEntry, error) {
	if !r.Status.IsTerminal() {
		return HistoryEntry{}, fmt.Errorf("task %s is %s: %w", r.LocalID, r.Status, ErrNotValid)
	}
	if r.LocalID == "" {
		return HistoryEntry{}, fmt.Errorf("local id is required: %w", ErrNotValid)
	}

	return HistoryEntry{
		LocalID:      r.LocalID,
		TaskID:       r.ID,
		FileName:     r.File.Name,
		ContentType:  r.File.ContentType,
		SizeBytes:    r.File.Size,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage,
		Result:       r.Result,
		CreatedAt:    r.CreatedAt,
		FinishedAt:   r.UpdatedAt,
	}, nil
}

// HistoryFilter selects the history entries of a listing.
type HistoryFilter struct {
	// Status only returns the entries with this status when set.
	Status TaskStatus
	// Limit is the maximum number of entries, 0 is unlimited.
	Limit int
}

// RemoteTask is a task kept by the OCR service in the user history.
type RemoteTask struct {
	ID           string
	FileName     string
	FileType     string
	SizeBytes    int64
	PageCount    int
	Status       RemoteStatus
	Progress     int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RemoteHistory is a page of the user history kept by the OCR service.
type RemoteHistory struct {
	Tasks []RemoteTask
	// Total is the number of tasks matching the query, without pagination.
	Total int
}

// RemoteHistoryQuery selects a page of the remote history.
type RemoteHistoryQuery struct {
	Skip int
	// Limit is the page size, 0 uses the service default.
	Limit  int
	Status RemoteStatus
}

func (q RemoteHistoryQuery) Validate() error {
	if q.Skip < 0 {
		return fmt.Errorf("skip can't be negative: %w", ErrNotValid)
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit can't be negative: %w", ErrNotValid)
	}

	switch q.Status {
	case RemoteStatusUnknown, RemoteStatusUploaded, RemoteStatusProcessing, RemoteStatusCompleted, RemoteStatusFailed:
	default:
		return fmt.Errorf("unknown status %q: %w", q.Status, ErrNotValid)
	}

	return nil
}
