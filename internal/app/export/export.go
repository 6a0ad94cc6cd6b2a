package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
	"github.com/slok/ocrtrack/internal/storage"
)

// ServiceConfig is the configuration for the export service.
type ServiceConfig struct {
	// Exporter asks the backend, without it only the history is used.
	Exporter ocr.Exporter
	// History exports the recorded results of the tasks the backend doesn't know, optional.
	History storage.HistoryRepository
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Exporter == nil && c.History == nil {
		return fmt.Errorf("exporter or history is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Export"})
	return nil
}

// Service downloads task results in an export format and stores them on disk.
type Service struct {
	exporter ocr.Exporter
	history  storage.HistoryRepository
	logger   log.Logger
}

// NewService creates a new export service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		exporter: cfg.Exporter,
		history:  cfg.History,
		logger:   cfg.Logger,
	}, nil
}

// Request contains the parameters for an export operation.
type Request struct {
	TaskID string
	Format model.ExportFormat
	// Destination is a file path or an existing directory. When it's a directory
	// (or empty, the working directory) the exported file name is used.
	Destination string
	// Overwrite replaces an existing destination file.
	Overwrite bool
}

// Response is the result of an export operation.
type Response struct {
	Path string
	Size int64
}

// ResolveDestination returns the final file path of an export.
func ResolveDestination(dst, filename string) (string, error) {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return "", fmt.Errorf("invalid export file name %q: %w", filename, model.ErrNotValid)
	}

	if dst == "" {
		return filename, nil
	}

	info, err := os.Stat(dst)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(dst, filename), nil
	case err == nil:
		return dst, nil
	case errors.Is(err, os.ErrNotExist):
		if strings.HasSuffix(dst, string(filepath.Separator)) {
			return "", fmt.Errorf("destination directory %s does not exist: %w", dst, model.ErrNotFound)
		}
		return dst, nil
	default:
		return "", fmt.Errorf("could not stat destination: %w", err)
	}
}

// Run executes an export operation.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	// 1. Validate request.
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		return nil, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}
	format, err := model.ParseExportFormat(string(req.Format))
	if err != nil {
		return nil, err
	}

	// 2. Get the export from the backend.
	s.logger.Infof("Exporting task %s as %s", taskID, format)
	var exp *model.Export
	if s.exporter != nil {
		exp, err = s.exporter.Export(ctx, taskID, format)
	}
	if s.exporter == nil || (errors.Is(err, model.ErrNotFound) && s.history != nil) {
		exp, err = s.fromHistory(ctx, taskID, format)
	}
	if err != nil {
		return nil, fmt.Errorf("could not export task %s: %w", taskID, err)
	}
	filename := exp.Filename
	if filename == "" {
		filename = format.DefaultFilename()
	}

	// 3. Store it.
	path, err := ResolveDestination(req.Destination, filename)
	if err != nil {
		return nil, err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !req.Overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s already exists: %w", path, model.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("could not create export file: %w", err)
	}

	n, err := f.Write(exp.Data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("could not write export file: %w", err)
	}

	s.logger.Debugf("Export stored at %s", path)
	return &Response{Path: path, Size: int64(n)}, nil
}

func (s *Service) fromHistory(ctx context.Context, taskID string, format model.ExportFormat) (*model.Export, error) {
	entry, err := s.history.GetEntry(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if entry.Result == nil {
		return nil, fmt.Errorf("task finished as %s without result: %w", entry.Status, model.ErrNotFound)
	}

	s.logger.Debugf("Exporting recorded result of task %s", taskID)
	return ocr.EncodeExport(entry.Result, entry.FileName, format)
}
