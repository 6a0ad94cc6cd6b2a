// Package ocr has the OCR service abstractions used by the task pipelines.
package ocr

import (
	"context"

	"github.com/slok/ocrtrack/internal/model"
)

// Backend uploads documents and runs the recognition on them.
type Backend interface {
	// Upload sends the file and returns the remote task ID. Fails with a
	// *model.UploadError.
	Upload(ctx context.Context, file model.SourceFile) (taskID string, err error)
	// Process runs the recognition of an uploaded task and blocks until it
	// finishes. Fails with a *model.ProcessError.
	Process(ctx context.Context, taskID string) (*model.Result, error)
}

// ResultGetter gets the stored result of a remote task.
type ResultGetter interface {
	Result(ctx context.Context, taskID string) (*model.Result, error)
}

// Exporter exports the result of a remote task.
type Exporter interface {
	Export(ctx context.Context, taskID string, format model.ExportFormat) (*model.Export, error)
}

// HistoryClient manages the user history kept by the OCR service.
type HistoryClient interface {
	ListHistory(ctx context.Context, query model.RemoteHistoryQuery) (*model.RemoteHistory, error)
	DeleteHistory(ctx context.Context, taskID string) error
}
