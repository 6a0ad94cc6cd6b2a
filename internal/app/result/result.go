package result

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
	"github.com/slok/ocrtrack/internal/storage"
)

// ServiceConfig is the configuration for the result service.
type ServiceConfig struct {
	// Getter asks the backend, without it only the history is used.
	Getter ocr.ResultGetter
	// History is used for the tasks the backend doesn't know, optional.
	History storage.HistoryRepository
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Getter == nil && c.History == nil {
		return fmt.Errorf("result getter or history is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Result"})

	return nil
}

// Service retrieves the recognition result of an already processed task.
type Service struct {
	getter  ocr.ResultGetter
	history storage.HistoryRepository
	logger  log.Logger
}

// NewService creates a new result service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		getter:  cfg.Getter,
		history: cfg.History,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the result request parameters.
type Request struct {
	// TaskID is the server assigned task ID.
	TaskID string
}

// Run retrieves the result of the task.
func (s *Service) Run(ctx context.Context, req Request) (*model.Result, error) {
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		return nil, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	s.logger.Debugf("getting result of task: %s", taskID)
	var (
		res *model.Result
		err error
	)
	if s.getter != nil {
		res, err = s.getter.Result(ctx, taskID)
	}
	if errors.Is(err, model.ErrNotFound) || (err == nil && res == nil) {
		res, err = s.fromHistory(ctx, taskID)
	}
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("result of task %s not found: %w", taskID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get result: %w", err)
	}

	if res.Status != "" && res.Status != model.RemoteStatusCompleted {
		s.logger.Warningf("task %s is %s, result may be incomplete", taskID, res.Status)
	}

	return res, nil
}

func (s *Service) fromHistory(ctx context.Context, taskID string) (*model.Result, error) {
	if s.history == nil {
		return nil, model.ErrNotFound
	}

	entry, err := s.history.GetEntry(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if entry.Result == nil {
		return nil, fmt.Errorf("task %s finished as %s: %w", taskID, entry.Status, model.ErrNotFound)
	}

	s.logger.Debugf("using recorded result of task %s", taskID)
	return entry.Result, nil
}
