package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a document does not exist or belongs to
	// another tenant.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a document with the given ID already exists.
	ErrConflict = errors.New("document already exists")
)
