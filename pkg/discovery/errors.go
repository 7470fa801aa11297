package discovery

import "errors"

// Common errors returned by the discovery package.
var (
	// ErrInvalidRoot is returned when a root path is not a usable directory.
	ErrInvalidRoot = errors.New("invalid root directory")
)
