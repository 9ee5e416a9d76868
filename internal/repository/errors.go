package repository

import "errors"

// Generic storage errors.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry means the write violated a unique constraint.
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)

// Resource specific aliases.
var (
	ErrSessionNotFound = ErrNotFound
)
