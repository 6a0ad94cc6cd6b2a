package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
	"github.com/slok/ocrtrack/internal/storage"
)

// ServiceConfig is the configuration for the history service.
type ServiceConfig struct {
	Repository storage.HistoryRepository
	// Remote is the history kept by the OCR service, optional.
	Remote ocr.HistoryClient
	Logger log.Logger
	// TimeNowFunc is used to compute the pruning limit.
	TimeNowFunc func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.History"})

	if c.TimeNowFunc == nil {
		c.TimeNowFunc = time.Now
	}

	return nil
}

// Service lists and prunes the finished tasks history.
type Service struct {
	repo    storage.HistoryRepository
	remote  ocr.HistoryClient
	logger  log.Logger
	timeNow func() time.Time
}

// NewService creates a new history service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:    cfg.Repository,
		remote:  cfg.Remote,
		logger:  cfg.Logger,
		timeNow: cfg.TimeNowFunc,
	}, nil
}

// ListRequest represents the history list request parameters.
type ListRequest struct {
	// Status only lists the tasks finished with this status, empty lists all.
	Status model.TaskStatus
	Limit  int
}

// List returns the finished tasks, most recent first.
func (s *Service) List(ctx context.Context, req ListRequest) ([]model.HistoryEntry, error) {
	if req.Status != "" && !req.Status.IsTerminal() {
		return nil, fmt.Errorf("%q is not a finished status: %w", req.Status, model.ErrNotValid)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("limit can't be negative: %w", model.ErrNotValid)
	}

	entries, err := s.repo.ListEntries(ctx, model.HistoryFilter{Status: req.Status, Limit: req.Limit})
	if err != nil {
		return nil, fmt.Errorf("could not list history: %w", err)
	}

	s.logger.Debugf("found %d history entries", len(entries))
	return entries, nil
}

// PruneRequest represents the history prune request parameters.
type PruneRequest struct {
	// OlderThan deletes the tasks finished more than this time ago.
	OlderThan time.Duration
}

// Prune deletes the old finished tasks and returns how many were deleted.
func (s *Service) Prune(ctx context.Context, req PruneRequest) (int64, error) {
	if req.OlderThan <= 0 {
		return 0, fmt.Errorf("prune age must be positive: %w", model.ErrNotValid)
	}

	before := s.timeNow().Add(-req.OlderThan)
	n, err := s.repo.DeleteEntriesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("could not prune history: %w", err)
	}

	s.logger.Infof("Pruned %d history entries finished before %s", n, before.UTC().Format(time.RFC3339))
	return n, nil
}

// ListRemoteRequest represents the service history list request parameters.
type ListRemoteRequest struct {
	Skip int
	// Limit is the page size, 0 uses the service default.
	Limit  int
	Status model.RemoteStatus
}

// ListRemote returns a page of the history kept by the OCR service.
func (s *Service) ListRemote(ctx context.Context, req ListRemoteRequest) (*model.RemoteHistory, error) {
	if s.remote == nil {
		return nil, fmt.Errorf("remote history is not configured: %w", model.ErrNotValid)
	}

	query := model.RemoteHistoryQuery{Skip: req.Skip, Limit: req.Limit, Status: req.Status}
	if err := query.Validate(); err != nil {
		return nil, err
	}

	h, err := s.remote.ListHistory(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not list remote history: %w", err)
	}

	s.logger.Debugf("got %d of %d remote history tasks", len(h.Tasks), h.Total)
	return h, nil
}

// RemoveRequest represents the history remove request parameters.
type RemoveRequest struct {
	TaskID string
	// LocalOnly keeps the task in the OCR service history.
	LocalOnly bool
}

// RemoveResponse is the result of a history removal.
type RemoveResponse struct {
	LocalDeleted  int64
	RemoteDeleted bool
}

// Remove deletes a task from the local history and, if configured, from the
// OCR service history. Fails with not found when the task is in neither.
func (s *Service) Remove(ctx context.Context, req RemoveRequest) (*RemoveResponse, error) {
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		return nil, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	n, err := s.repo.DeleteEntries(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not delete local history: %w", err)
	}
	resp := &RemoveResponse{LocalDeleted: n}

	if s.remote != nil && !req.LocalOnly {
		err := s.remote.DeleteHistory(ctx, taskID)
		switch {
		case err == nil:
			resp.RemoteDeleted = true
		case errors.Is(err, model.ErrNotFound):
			s.logger.Debugf("task %s is not in the remote history", taskID)
		default:
			return nil, fmt.Errorf("could not delete remote history: %w", err)
		}
	}

	if resp.LocalDeleted == 0 && !resp.RemoteDeleted {
		return nil, fmt.Errorf("task %s is not in the history: %w", taskID, model.ErrNotFound)
	}

	s.logger.Infof("Removed task %s from the history", taskID)
	return resp, nil
}
