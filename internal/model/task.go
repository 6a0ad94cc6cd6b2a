package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the state of an OCR task on the client.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusUploading  TaskStatus = "uploading"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal returns true when no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// taskTransitions is the task state machine:
// pending -> uploading -> processing -> {completed | failed}, and uploading -> failed.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusUploading},
	TaskStatusUploading:  {TaskStatusProcessing, TaskStatusFailed},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed},
}

// CanTransitionTo returns true if the state machine allows moving from s to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TaskRecord is one user submitted document and its OCR lifecycle.
type TaskRecord struct {
	// LocalID identifies the record inside the store, it doesn't change when
	// other records are removed (indexes do).
	LocalID string
	// ID is the server task identifier, empty until the upload succeeds.
	ID           string
	File         SourceFile
	Status       TaskStatus
	Progress     int
	Result       *Result
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TaskPatch holds the optional fields applied together with a status transition.
type TaskPatch struct {
	ID           *string
	Result       *Result
	ErrorMessage *string
	Progress     *int
}

// Apply returns a new record resulting of moving r to next with the patch applied.
// r is not modified.
func (r TaskRecord) Apply(next TaskStatus, patch TaskPatch, now time.Time) (TaskRecord, error) {
	if r.Status.IsTerminal() {
		return r, fmt.Errorf("task is already %s: %w", r.Status, ErrInvalidTransition)
	}
	if !r.Status.CanTransitionTo(next) {
		return r, fmt.Errorf("%s -> %s: %w", r.Status, next, ErrInvalidTransition)
	}

	if patch.Result != nil && next != TaskStatusCompleted {
		return r, fmt.Errorf("result is only allowed on %s: %w", TaskStatusCompleted, ErrNotValid)
	}
	if patch.ErrorMessage != nil && next != TaskStatusFailed {
		return r, fmt.Errorf("error message is only allowed on %s: %w", TaskStatusFailed, ErrNotValid)
	}
	if patch.ID != nil && r.ID != "" {
		return r, fmt.Errorf("task id already set to %s: %w", r.ID, ErrNotValid)
	}

	n := r
	n.Status = next
	n.UpdatedAt = now
	if patch.ID != nil {
		n.ID = *patch.ID
	}
	if patch.Progress != nil {
		n.Progress = clampProgress(*patch.Progress)
	}

	switch next {
	case TaskStatusProcessing:
		if n.ID == "" {
			return r, fmt.Errorf("processing requires a task id: %w", ErrNotValid)
		}
	case TaskStatusCompleted:
		if patch.Result == nil {
			return r, fmt.Errorf("completed requires a result: %w", ErrNotValid)
		}
		n.Result = patch.Result
		n.Progress = 100
	case TaskStatusFailed:
		if patch.ErrorMessage == nil {
			return r, fmt.Errorf("failed requires an error message: %w", ErrNotValid)
		}
		n.ErrorMessage = *patch.ErrorMessage
	}

	return n, nil
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
