package storage

import (
	"context"
	"io"
	"time"

	"github.com/slok/ocrtrack/internal/model"
)

// Snapshot is the full ordered state of the tasks after a mutation.
// Every mutation publishes a new snapshot, they are never modified in place.
type Snapshot struct {
	// Version increases by one on every published mutation.
	Version uint64
	Tasks   []model.TaskRecord
}

// Observer receives the snapshots published by a TaskStore.
type Observer func(Snapshot)

// TaskStore is the authoritative ordered collection of the submitted tasks.
type TaskStore interface {
	// Add appends a new pending task and returns its index.
	Add(file model.SourceFile) (int, model.TaskRecord)
	// Remove removes the task at index and releases its progress channel. It
	// returns false if the index is not valid.
	Remove(index int) bool
	// RemoveByLocalID is the same as Remove using the task local ID.
	RemoveByLocalID(localID string) bool
	// Transition moves the task at index to the next status applying the patch.
	Transition(index int, next model.TaskStatus, patch model.TaskPatch) error
	// TransitionByLocalID is the same as Transition using the task local ID.
	TransitionByLocalID(localID string, next model.TaskStatus, patch model.TaskPatch) (model.TaskRecord, error)
	// UpdateProgress sets advisory progress on a processing task. Returns false
	// when ignored (not processing, or not greater than the current progress).
	UpdateProgress(localID string, progress int) (bool, error)
	// AttachChannel associates a progress channel with a task, the channel is
	// closed when the task is removed or the channel released.
	AttachChannel(localID string, ch io.Closer) error
	// ReleaseChannel closes and detaches the task progress channel if any.
	ReleaseChannel(localID string)

	Get(index int) (model.TaskRecord, bool)
	GetByLocalID(localID string) (model.TaskRecord, error)
	List() []model.TaskRecord
	Len() int

	// Subscribe registers an observer and returns the function to unregister it.
	Subscribe(obs Observer) (unsubscribe func())
}

// HistoryRepository persists the finished tasks between client runs.
type HistoryRepository interface {
	// SaveEntry stores a finished task, replacing the previous entry of the same local ID.
	SaveEntry(ctx context.Context, e model.HistoryEntry) error
	// GetEntry returns the latest entry of a server task ID.
	GetEntry(ctx context.Context, taskID string) (*model.HistoryEntry, error)
	// ListEntries returns the entries, most recently finished first.
	ListEntries(ctx context.Context, filter model.HistoryFilter) ([]model.HistoryEntry, error)
	// DeleteEntriesBefore deletes the entries finished before t and returns how many were deleted.
	DeleteEntriesBefore(ctx context.Context, t time.Time) (int64, error)
	// DeleteEntries deletes every entry of a server task ID and returns how many were deleted.
	DeleteEntries(ctx context.Context, taskID string) (int64, error)
}
