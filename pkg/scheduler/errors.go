package scheduler

import "errors"

// Common errors returned by the scheduler.
var (
	// ErrAlreadyRunning is returned by RunCycle while another cycle runs.
	ErrAlreadyRunning = errors.New("scan cycle already running")

	// ErrClosed is returned when the scheduler has been closed.
	ErrClosed = errors.New("scheduler is closed")

	// ErrStarted is returned when Start is called twice.
	ErrStarted = errors.New("scheduler already started")

	// ErrStorageUnavailable is returned by TriggerScan when the store
	// cannot be reached. It is the only error a trigger caller sees.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
