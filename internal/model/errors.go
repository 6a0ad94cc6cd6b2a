package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInvalidTransition is returned when a task status change is not allowed
	// by the task state machine.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotAuthenticated is returned when an operation requires a credential and
	// there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// UploadError is the error returned by a backend when a file upload fails.
type UploadError struct {
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("upload failed: %s", e.Err)
	}
	return e.Message
}

func (e *UploadError) Unwrap() error { return e.Err }

// ProcessError is the error returned by a backend when the recognition of an
// uploaded task fails.
type ProcessError struct {
	Message string
	Err     error
}

func (e *ProcessError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("process failed: %s", e.Err)
	}
	return e.Message
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ChannelError is an error of a progress channel (connection drops, malformed
// payloads). These are never surfaced as task failures.
type ChannelError struct {
	TaskID string
	Err    error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("progress channel for task %s: %s", e.TaskID, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
