package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a write collided with a unique constraint.
	ErrConflict = errors.New("repository: conflict")
)
