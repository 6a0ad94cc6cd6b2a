package lib

import "errors"

var (
	// ErrNotFound is returned when a task or a result does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when the input is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrNotAuthenticated is returned when the service rejects the credentials.
	ErrNotAuthenticated = errors.New("not authenticated")
)
