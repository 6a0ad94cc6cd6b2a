package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/slok/ocrtrack/internal/auth"
	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
	"github.com/slok/ocrtrack/internal/progress"
	"github.com/slok/ocrtrack/internal/storage"
)

// ServiceConfig is the configuration for the pipeline service.
type ServiceConfig struct {
	Store   storage.TaskStore
	Backend ocr.Backend
	// Dialer opens the progress channels of the processing tasks. Optional, without
	// it the tasks only report the final result.
	Dialer progress.Dialer
	// Credentials is passed to the progress channels, optional.
	Credentials       auth.Provider
	Reconnect         progress.ReconnectPolicy
	KeepaliveInterval time.Duration
	// MaxConcurrent limits the pipelines running at the same time, 0 is unlimited.
	MaxConcurrent int64
	// History records the finished tasks, optional.
	History storage.HistoryRepository
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}

	if c.Backend == nil {
		return fmt.Errorf("backend is required")
	}

	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent can't be negative")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.pipeline.Service"})

	return nil
}

// Service drives the tasks of the store through upload, processing and
// completion. Every started task runs its own pipeline in background, the only
// shared state is the store.
type Service struct {
	store     storage.TaskStore
	backend   ocr.Backend
	dialer    progress.Dialer
	creds     auth.Provider
	reconnect progress.ReconnectPolicy
	keepalive time.Duration
	sem       *semaphore.Weighted
	history   storage.HistoryRepository
	logger    log.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewService creates a new pipeline service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var sem *semaphore.Weighted
	if cfg.MaxConcurrent > 0 {
		sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}

	return &Service{
		store:     cfg.Store,
		backend:   cfg.Backend,
		dialer:    cfg.Dialer,
		creds:     cfg.Credentials,
		reconnect: cfg.Reconnect,
		keepalive: cfg.KeepaliveInterval,
		sem:       sem,
		history:   cfg.History,
		logger:    cfg.Logger,
		inflight:  map[string]struct{}{},
	}, nil
}

// Start starts the pipeline of the task at index. It's a no-op unless the task is
// pending, returns true if the pipeline has been started.
//
// The backend calls are bound to ctx, removing the task doesn't cancel them.
func (s *Service) Start(ctx context.Context, index int) bool {
	rec, ok := s.store.Get(index)
	if !ok {
		s.logger.Debugf("No task at index %d", index)
		return false
	}

	return s.start(ctx, rec)
}

// StartAll starts all the pending tasks and returns the number of started ones.
func (s *Service) StartAll(ctx context.Context) int {
	n := 0
	for _, rec := range s.store.List() {
		if s.start(ctx, rec) {
			n++
		}
	}
	return n
}

// Remove removes the task at index. Its progress channel is closed and a late
// result of an in flight call is discarded.
func (s *Service) Remove(index int) bool {
	return s.store.Remove(index)
}

// Wait blocks until all the started pipelines have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) start(ctx context.Context, rec model.TaskRecord) bool {
	if rec.Status != model.TaskStatusPending {
		return false
	}

	s.mu.Lock()
	if _, ok := s.inflight[rec.LocalID]; ok {
		s.mu.Unlock()
		return false
	}
	s.inflight[rec.LocalID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, rec.LocalID)
			s.mu.Unlock()
		}()

		s.run(ctx, rec)
	}()

	return true
}

func (s *Service) run(ctx context.Context, rec model.TaskRecord) {
	logger := s.logger.WithValues(log.Kv{"local-id": rec.LocalID, "file": rec.File.Name})

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			logger.Warningf("Task not started: %s", err)
			return
		}
		defer s.sem.Release(1)
	}

	if _, err := s.store.TransitionByLocalID(rec.LocalID, model.TaskStatusUploading, model.TaskPatch{}); err != nil {
		s.discard(logger, err)
		return
	}

	logger.Debugf("Uploading")
	taskID, err := s.backend.Upload(ctx, rec.File)
	if err == nil && taskID == "" {
		err = &model.UploadError{Message: "upload returned an empty task id"}
	}
	if err != nil {
		logger.Warningf("Upload failed: %s", err)
		s.fail(logger, rec.LocalID, err)
		s.record(ctx, logger, rec.LocalID)
		return
	}

	if _, err := s.store.TransitionByLocalID(rec.LocalID, model.TaskStatusProcessing, model.TaskPatch{ID: &taskID}); err != nil {
		s.discard(logger, err)
		return
	}
	logger = logger.WithValues(log.Kv{"task-id": taskID})

	s.openChannel(ctx, logger, rec.LocalID, taskID)

	logger.Debugf("Processing")
	result, err := s.backend.Process(ctx, taskID)
	if err == nil && result == nil {
		err = &model.ProcessError{Message: "process returned an empty result"}
	}

	// The process result is the authoritative completion, whatever the channel reported.
	if err != nil {
		logger.Warningf("Process failed: %s", err)
		s.fail(logger, rec.LocalID, err)
	} else if _, err := s.store.TransitionByLocalID(rec.LocalID, model.TaskStatusCompleted, model.TaskPatch{Result: result}); err != nil {
		s.discard(logger, err)
	} else {
		logger.Infof("Task completed")
	}

	s.store.ReleaseChannel(rec.LocalID)
	s.record(ctx, logger, rec.LocalID)
}

func (s *Service) openChannel(ctx context.Context, logger log.Logger, localID, taskID string) {
	if s.dialer == nil {
		return
	}

	ch, err := progress.Open(ctx, progress.ChannelConfig{
		TaskID:            taskID,
		Dialer:            s.dialer,
		Credentials:       s.creds,
		Reconnect:         s.reconnect,
		KeepaliveInterval: s.keepalive,
		Logger:            logger,
		OnUpdate: func(st model.ChannelState) {
			if _, err := s.store.UpdateProgress(localID, st.Progress); err != nil {
				logger.Debugf("Progress not applied: %s", err)
			}
		},
	})
	if err != nil {
		logger.Warningf("Could not open progress channel: %s", err)
		return
	}

	if err := s.store.AttachChannel(localID, ch); err != nil {
		logger.Debugf("Progress channel not attached: %s", err)
		_ = ch.Close()
	}
}

func (s *Service) fail(logger log.Logger, localID string, err error) {
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	if _, err := s.store.TransitionByLocalID(localID, model.TaskStatusFailed, model.TaskPatch{ErrorMessage: &msg}); err != nil {
		s.discard(logger, err)
	}
}

// record stores the finished task in the history. A history failure doesn't
// change the task outcome.
func (s *Service) record(ctx context.Context, logger log.Logger, localID string) {
	if s.history == nil {
		return
	}

	rec, err := s.store.GetByLocalID(localID)
	if err != nil {
		logger.Debugf("Task removed, not recorded")
		return
	}

	entry, err := model.NewHistoryEntry(rec)
	if err != nil {
		logger.Warningf("Task not recorded: %s", err)
		return
	}

	if err := s.history.SaveEntry(context.WithoutCancel(ctx), entry); err != nil {
		logger.Errorf("Could not record task in history: %s", err)
	}
}

// discard logs a result that can't be applied to the store.
func (s *Service) discard(logger log.Logger, err error) {
	if errors.Is(err, model.ErrNotFound) {
		logger.Debugf("Task removed, result discarded")
		return
	}
	logger.Warningf("Result discarded: %s", err)
}
