package store

import "errors"

// Common errors returned by the store.
var (
	// ErrCommit is returned when the transaction that applies bucket deltas
	// and advances a file offset fails. Neither change is visible.
	ErrCommit = errors.New("commit failed")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")

	// ErrFileStateNotFound is returned when no state exists for a path.
	ErrFileStateNotFound = errors.New("file state not found")

	// ErrInvalidFileState is returned when a file state violates its
	// invariants (empty path, negative offset, offset past size).
	ErrInvalidFileState = errors.New("invalid file state")

	// ErrCorruptRecord is returned when a stored key or value cannot be
	// decoded.
	ErrCorruptRecord = errors.New("corrupt record")
)
