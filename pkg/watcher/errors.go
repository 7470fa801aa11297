package watcher

import "errors"

// Common errors returned by the watcher.
var (
	// ErrWatcherClosed is returned when attempting to use a closed watcher.
	ErrWatcherClosed = errors.New("watcher is closed")

	// ErrAlreadyStarted is returned when Start is called on a running watcher.
	ErrAlreadyStarted = errors.New("watcher already started")

	// ErrCircuitBreakerOpen is logged when repeated fsnotify errors stop
	// the watcher.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrNoPaths is returned when none of the roots exist.
	ErrNoPaths = errors.New("no watchable paths")

	// ErrNoCallback is returned by New without an OnChange callback.
	ErrNoCallback = errors.New("OnChange callback is required")
)
