package scanner

import "errors"

// Common errors returned by the scanner.
var (
	// ErrIO is returned when a log file cannot be stat'ed, opened or read.
	// The offset is not advanced; the file is retried next cycle.
	ErrIO = errors.New("log file I/O error")
)
