package identity

import "errors"

// Common errors returned by the identity package.
var (
	// ErrIdentityNotFound is returned when no identity exists for a session.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrEmptySessionID is returned when an identity has no session id.
	ErrEmptySessionID = errors.New("session ID cannot be empty")

	// ErrEmptyAgentName is returned when an identity has no agent name.
	ErrEmptyAgentName = errors.New("agent name cannot be empty")

	// ErrNoSource is returned by a resolver without a source.
	ErrNoSource = errors.New("no identity source configured")
)
