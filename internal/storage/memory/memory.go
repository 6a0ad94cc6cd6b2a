package memory

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/storage"
)

// TaskStoreConfig is the configuration for the memory task store.
type TaskStoreConfig struct {
	Logger log.Logger
	// Now returns the current time, used for record timestamps.
	Now func() time.Time
}

func (c *TaskStoreConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.MemoryTaskStore"})

	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// TaskStore is an in-memory implementation of storage.TaskStore.
//
// Observers are called synchronously while the store is locked, so they see the
// mutations in order and must not call the store back.
type TaskStore struct {
	tasks     []model.TaskRecord
	channels  map[string]io.Closer
	observers map[uint64]storage.Observer
	nextObsID uint64
	version   uint64
	mu        sync.RWMutex
	now       func() time.Time
	logger    log.Logger
}

var _ storage.TaskStore = &TaskStore{}

// NewTaskStore creates a new memory task store.
func NewTaskStore(cfg TaskStoreConfig) (*TaskStore, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &TaskStore{
		channels:  map[string]io.Closer{},
		observers: map[uint64]storage.Observer{},
		now:       cfg.Now,
		logger:    cfg.Logger,
	}, nil
}

// Add appends a new pending task.
func (s *TaskStore) Add(file model.SourceFile) (int, model.TaskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := model.TaskRecord{
		LocalID:   ulid.Make().String(),
		File:      file,
		Status:    model.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tasks := make([]model.TaskRecord, 0, len(s.tasks)+1)
	tasks = append(tasks, s.tasks...)
	tasks = append(tasks, rec)
	s.commitLocked(tasks)

	s.logger.Debugf("Added task %s (%s)", rec.LocalID, file.Name)
	return len(tasks) - 1, rec
}

// Remove removes the task at index.
func (s *TaskStore) Remove(index int) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.tasks) {
		s.mu.Unlock()
		return false
	}
	ch := s.removeLocked(index)
	s.mu.Unlock()

	// Closed without the lock, channels report progress into the store.
	closeChannel(ch, s.logger)
	return true
}

// RemoveByLocalID removes the task with the local ID.
func (s *TaskStore) RemoveByLocalID(localID string) bool {
	s.mu.Lock()
	index := s.indexLocked(localID)
	if index < 0 {
		s.mu.Unlock()
		return false
	}
	ch := s.removeLocked(index)
	s.mu.Unlock()

	closeChannel(ch, s.logger)
	return true
}

func (s *TaskStore) removeLocked(index int) io.Closer {
	rec := s.tasks[index]

	tasks := make([]model.TaskRecord, 0, len(s.tasks)-1)
	tasks = append(tasks, s.tasks[:index]...)
	tasks = append(tasks, s.tasks[index+1:]...)
	s.commitLocked(tasks)

	ch := s.channels[rec.LocalID]
	delete(s.channels, rec.LocalID)

	s.logger.Debugf("Removed task %s", rec.LocalID)
	return ch
}

// Transition moves the task at index to the next status.
func (s *TaskStore) Transition(index int, next model.TaskStatus, patch model.TaskPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.tasks) {
		return fmt.Errorf("task index %d: %w", index, model.ErrNotFound)
	}

	_, err := s.transitionLocked(index, next, patch)
	return err
}

// TransitionByLocalID moves the task with the local ID to the next status.
func (s *TaskStore) TransitionByLocalID(localID string, next model.TaskStatus, patch model.TaskPatch) (model.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexLocked(localID)
	if index < 0 {
		return model.TaskRecord{}, fmt.Errorf("task %s: %w", localID, model.ErrNotFound)
	}

	return s.transitionLocked(index, next, patch)
}

func (s *TaskStore) transitionLocked(index int, next model.TaskStatus, patch model.TaskPatch) (model.TaskRecord, error) {
	current := s.tasks[index]
	updated, err := current.Apply(next, patch, s.now())
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			s.logger.Warningf("Rejected transition of task %s: %s", current.LocalID, err)
		}
		return current, fmt.Errorf("task %s: %w", current.LocalID, err)
	}

	s.replaceLocked(index, updated)
	s.logger.Debugf("Task %s: %s -> %s", current.LocalID, current.Status, next)

	return updated, nil
}

// UpdateProgress sets the advisory progress of a processing task.
func (s *TaskStore) UpdateProgress(localID string, progress int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexLocked(localID)
	if index < 0 {
		return false, fmt.Errorf("task %s: %w", localID, model.ErrNotFound)
	}

	current := s.tasks[index]
	if current.Status != model.TaskStatusProcessing {
		return false, nil
	}

	progress = min(max(progress, 0), 100)
	if progress <= current.Progress {
		return false, nil
	}

	updated := current
	updated.Progress = progress
	updated.UpdatedAt = s.now()
	s.replaceLocked(index, updated)

	return true, nil
}

// AttachChannel associates a progress channel with a task.
func (s *TaskStore) AttachChannel(localID string, ch io.Closer) error {
	s.mu.Lock()
	index := s.indexLocked(localID)
	if index < 0 {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", localID, model.ErrNotFound)
	}
	if s.tasks[index].Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("task %s is %s: %w", localID, s.tasks[index].Status, model.ErrNotValid)
	}

	old := s.channels[localID]
	s.channels[localID] = ch
	s.mu.Unlock()

	if old != nil && old != ch {
		closeChannel(old, s.logger)
	}
	return nil
}

// ReleaseChannel closes and detaches the task progress channel.
func (s *TaskStore) ReleaseChannel(localID string) {
	s.mu.Lock()
	ch := s.channels[localID]
	delete(s.channels, localID)
	s.mu.Unlock()

	closeChannel(ch, s.logger)
}

// Get returns the task at index.
func (s *TaskStore) Get(index int) (model.TaskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.tasks) {
		return model.TaskRecord{}, false
	}
	return s.tasks[index], true
}

// GetByLocalID returns the task with the local ID.
func (s *TaskStore) GetByLocalID(localID string) (model.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := s.indexLocked(localID)
	if index < 0 {
		return model.TaskRecord{}, fmt.Errorf("task %s: %w", localID, model.ErrNotFound)
	}
	return s.tasks[index], nil
}

// List returns all the tasks in insertion order.
func (s *TaskStore) List() []model.TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]model.TaskRecord, len(s.tasks))
	copy(tasks, s.tasks)
	return tasks
}

// Len returns the number of tasks.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Subscribe registers an observer of the store mutations.
func (s *TaskStore) Subscribe(obs storage.Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *TaskStore) indexLocked(localID string) int {
	for i, t := range s.tasks {
		if t.LocalID == localID {
			return i
		}
	}
	return -1
}

// replaceLocked replaces the whole task list with a copy that has the updated record.
func (s *TaskStore) replaceLocked(index int, rec model.TaskRecord) {
	tasks := make([]model.TaskRecord, len(s.tasks))
	copy(tasks, s.tasks)
	tasks[index] = rec
	s.commitLocked(tasks)
}

func (s *TaskStore) commitLocked(tasks []model.TaskRecord) {
	s.tasks = tasks
	s.version++

	if len(s.observers) == 0 {
		return
	}

	snap := storage.Snapshot{Version: s.version, Tasks: tasks}
	for _, obs := range s.observers {
		// Each observer gets its own slice.
		own := snap
		own.Tasks = make([]model.TaskRecord, len(tasks))
		copy(own.Tasks, tasks)
		obs(own)
	}
}

func closeChannel(ch io.Closer, logger log.Logger) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		logger.Warningf("could not close progress channel: %s", err)
	}
}
