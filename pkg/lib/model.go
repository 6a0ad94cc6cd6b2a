package lib

import (
	"time"

	"github.com/slok/ocrtrack/internal/model"
)

// BackendType identifies the OCR backend implementation.
type BackendType string

const (
	// BackendAPI uses the OCR service REST API and its WebSocket progress stream.
	BackendAPI BackendType = "api"

	// BackendFake simulates the recognition in process (no service needed).
	// Use this for unit testing without infrastructure dependencies.
	BackendFake BackendType = "fake"
)

// TaskStatus represents the lifecycle state of a task.
//
// The lifecycle is:
//
//	pending -> uploading -> processing -> completed
//
// A task moves to failed when the upload or the processing fails.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusUploading  TaskStatus = "uploading"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is a submitted document and its processing state.
type Task struct {
	// LocalID identifies the task in the client, it doesn't change when other
	// tasks are removed.
	LocalID string
	// ID is the service task ID, empty until uploaded.
	ID        string
	File      string
	SizeBytes int64
	Status    TaskStatus
	// Progress goes from 0 to 100.
	Progress  int
	Result    *Result
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is the recognized content of a document.
type Result struct {
	TaskID string
	Pages  []Page
}

// Text returns the text of all the pages.
func (r Result) Text() string { return toInternalResult(r).Text() }

// Page is the recognized content of a document page.
type Page struct {
	Number     int
	Text       string
	Confidence float64
	// DocumentType is the detected document type (invoice, receipt...), if any.
	DocumentType string
	Fields       map[string]string
}

// ExportFormat is the format of an exported result.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
)

func fromInternalTask(t model.TaskRecord) Task {
	task := Task{
		LocalID:   t.LocalID,
		ID:        t.ID,
		File:      t.File.Name,
		SizeBytes: t.File.Size,
		Status:    TaskStatus(t.Status),
		Progress:  t.Progress,
		Error:     t.ErrorMessage,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Result != nil {
		r := fromInternalResult(*t.Result)
		task.Result = &r
	}
	return task
}

func fromInternalHistoryEntry(e model.HistoryEntry) Task {
	progress := 0
	if e.Status == model.TaskStatusCompleted {
		progress = 100
	}

	return fromInternalTask(model.TaskRecord{
		LocalID:      e.LocalID,
		ID:           e.TaskID,
		File:         model.SourceFile{Name: e.FileName, ContentType: e.ContentType, Size: e.SizeBytes},
		Status:       e.Status,
		Progress:     progress,
		Result:       e.Result,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.FinishedAt,
	})
}

func fromInternalTaskList(ts []model.TaskRecord) []Task {
	tasks := make([]Task, 0, len(ts))
	for _, t := range ts {
		tasks = append(tasks, fromInternalTask(t))
	}
	return tasks
}

func fromInternalResult(r model.Result) Result {
	res := Result{TaskID: r.TaskID, Pages: make([]Page, 0, len(r.Pages))}
	for _, p := range r.Pages {
		page := Page{
			Number:     p.PageNumber,
			Text:       p.ExtractedText,
			Confidence: p.Confidence,
		}
		if p.StructuredData != nil {
			page.DocumentType = p.StructuredData.Type
			if len(p.StructuredData.Fields) > 0 {
				page.Fields = make(map[string]string, len(p.StructuredData.Fields))
				for _, f := range p.StructuredData.Fields {
					page.Fields[f.Key] = f.Value
				}
			}
		}
		res.Pages = append(res.Pages, page)
	}
	return res
}

func toInternalResult(r Result) model.Result {
	res := model.Result{TaskID: r.TaskID, Pages: make([]model.PageResult, 0, len(r.Pages))}
	for _, p := range r.Pages {
		res.Pages = append(res.Pages, model.PageResult{
			PageNumber:    p.Number,
			ExtractedText: p.Text,
			Confidence:    p.Confidence,
		})
	}
	return res
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case isInternalError(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case isInternalError(err, model.ErrAlreadyExists):
		return joinErrors(err, ErrAlreadyExists)
	case isInternalError(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	case isInternalError(err, model.ErrNotAuthenticated):
		return joinErrors(err, ErrNotAuthenticated)
	default:
		return err
	}
}

func isInternalError(err, target error) bool {
	for {
		if err == target {
			return true
		}
		unwrapped := unwrapSingle(err)
		if unwrapped == nil {
			return false
		}
		err = unwrapped
	}
}

func unwrapSingle(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
