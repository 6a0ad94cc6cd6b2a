// Package local has an OCR backend that recognizes documents in process. It
// behaves like the OCR service: keeps the uploads, reports progress on a progress
// hub with the same steps and keeps the results for retrieval and export.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
	"github.com/slok/ocrtrack/internal/progress/memory"
)

// Progress reported before the final result, the remaining is the completion.
const maxPagesProgress = 90

// Document is an uploaded document.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Engine recognizes the text of documents page by page.
type Engine interface {
	// PageCount returns the number of pages of the document.
	PageCount(doc Document) (int, error)
	// RecognizePage recognizes a page, pages start at 1.
	RecognizePage(ctx context.Context, doc Document, page int) (model.PageResult, error)
}

// BackendConfig is the configuration of the local backend.
type BackendConfig struct {
	Engine Engine
	// Hub receives the progress of the tasks, optional.
	Hub *memory.Hub
	// Limits are the upload checks, defaults to the OCR service ones.
	Limits *model.FileLimits
	Logger log.Logger
	// Now returns the current time, used for result timestamps.
	Now func() time.Time
}

func (c *BackendConfig) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}

	if c.Limits == nil {
		l := model.DefaultFileLimits()
		c.Limits = &l
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "ocr.local.Backend"})

	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}

	return nil
}

type task struct {
	doc       Document
	status    model.RemoteStatus
	result    *model.Result
	createdAt time.Time
}

// Backend is an in process OCR backend.
type Backend struct {
	engine Engine
	hub    *memory.Hub
	limits model.FileLimits
	logger log.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks map[string]*task
}

var (
	_ ocr.Backend      = &Backend{}
	_ ocr.ResultGetter = &Backend{}
	_ ocr.Exporter     = &Backend{}
)

// NewBackend returns a new local backend.
func NewBackend(cfg BackendConfig) (*Backend, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Backend{
		engine: cfg.Engine,
		hub:    cfg.Hub,
		limits: *cfg.Limits,
		logger: cfg.Logger,
		now:    cfg.Now,
		tasks:  map[string]*task{},
	}, nil
}

// Upload satisfies ocr.Backend.
func (b *Backend) Upload(ctx context.Context, file model.SourceFile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &model.UploadError{Err: err}
	}

	if err := model.ValidateFile(file, b.limits); err != nil {
		return "", &model.UploadError{Message: err.Error(), Err: err}
	}

	r, err := file.Open()
	if err != nil {
		return "", &model.UploadError{Err: err}
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", &model.UploadError{Err: fmt.Errorf("could not read file: %w", err)}
	}

	id := ulid.Make().String()
	b.mu.Lock()
	b.tasks[id] = &task{
		doc:       Document{Name: file.Name, ContentType: file.ContentType, Data: data},
		status:    model.RemoteStatusUploaded,
		createdAt: b.now(),
	}
	b.mu.Unlock()

	b.logger.Debugf("Uploaded %s as task %s", file.Name, id)
	return id, nil
}

// Process satisfies ocr.Backend.
func (b *Backend) Process(ctx context.Context, taskID string) (*model.Result, error) {
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	if !ok {
		b.mu.Unlock()
		return nil, &model.ProcessError{Message: "task not found", Err: model.ErrNotFound}
	}
	if t.status == model.RemoteStatusProcessing {
		b.mu.Unlock()
		return nil, &model.ProcessError{Message: "task is already processing", Err: model.ErrAlreadyExists}
	}
	t.status = model.RemoteStatusProcessing
	doc := t.doc
	b.mu.Unlock()

	b.publish(taskID, 0, model.RemoteStatusProcessing)

	pages, err := b.recognize(ctx, taskID, doc)
	if err != nil {
		b.setStatus(taskID, model.RemoteStatusFailed, nil)
		b.publish(taskID, 0, model.RemoteStatusFailed)

		var perr *model.ProcessError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, &model.ProcessError{Message: err.Error(), Err: err}
	}

	now := b.now()
	result := &model.Result{
		TaskID:    taskID,
		Status:    model.RemoteStatusCompleted,
		Pages:     pages,
		CreatedAt: t.createdAt,
		UpdatedAt: now,
	}
	b.setStatus(taskID, model.RemoteStatusCompleted, result)
	b.publish(taskID, 100, model.RemoteStatusCompleted)

	b.logger.Debugf("Task %s processed (%d pages)", taskID, len(pages))
	return result, nil
}

func (b *Backend) recognize(ctx context.Context, taskID string, doc Document) ([]model.PageResult, error) {
	total, err := b.engine.PageCount(doc)
	if err != nil {
		return nil, fmt.Errorf("could not read document: %w", err)
	}
	if total <= 0 {
		return nil, fmt.Errorf("document without pages: %w", model.ErrNotValid)
	}

	// Progress is reported before each page, the last one completes the task.
	pages := make([]model.PageResult, 0, total)
	for i := range total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b.publish(taskID, i*maxPagesProgress/total, model.RemoteStatusProcessing)

		n := i + 1
		page, err := b.engine.RecognizePage(ctx, doc, n)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		page.PageNumber = n
		pages = append(pages, page)
	}

	return pages, nil
}

// Result satisfies ocr.ResultGetter.
func (b *Backend) Result(_ context.Context, taskID string) (*model.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok || t.result == nil {
		return nil, fmt.Errorf("result of task %s: %w", taskID, model.ErrNotFound)
	}

	res := *t.result
	return &res, nil
}

// Export satisfies ocr.Exporter.
func (b *Backend) Export(ctx context.Context, taskID string, format model.ExportFormat) (*model.Export, error) {
	res, err := b.Result(ctx, taskID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	name := b.tasks[taskID].doc.Name
	b.mu.Unlock()

	return ocr.EncodeExport(res, name, format)
}

func (b *Backend) setStatus(taskID string, status model.RemoteStatus, result *model.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.tasks[taskID]; ok {
		t.status = status
		t.result = result
	}
}

func (b *Backend) publish(taskID string, progress int, status model.RemoteStatus) {
	if b.hub == nil {
		return
	}

	_, err := b.hub.Publish(model.ProgressEvent{TaskID: taskID, Progress: progress, Status: status, Timestamp: b.now()})
	if err != nil {
		b.logger.Warningf("could not publish progress of task %s: %s", taskID, err)
	}
}
