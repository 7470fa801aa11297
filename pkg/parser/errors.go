package parser

import (
	"errors"
	"fmt"
)

// Common errors returned by the parser package.
var (
	// ErrParseCorruption marks a line that looks like it should be a usage
	// record but cannot be normalized. Every error returned by
	// ProviderParser.Parse wraps it.
	ErrParseCorruption = errors.New("parse corruption")

	// ErrInvalidTimestamp is returned when a usage record has a missing or
	// unparseable timestamp.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidSessionID is returned when no session id can be determined.
	ErrInvalidSessionID = errors.New("invalid session ID: must not be empty")

	// ErrNegativeTokenCount is returned when any token count is negative.
	ErrNegativeTokenCount = errors.New("invalid token count: must be non-negative")

	// ErrMalformedJSON is returned when a line is not valid JSON.
	ErrMalformedJSON = errors.New("malformed JSON line")

	// ErrUnknownProvider is returned by Registry.Lookup for unregistered tags.
	ErrUnknownProvider = errors.New("unknown provider")
)

// corrupt wraps err so that errors.Is(err, ErrParseCorruption) holds.
func corrupt(err error) error {
	return fmt.Errorf("%w: %w", ErrParseCorruption, err)
}

// LineError gives context about a skipped line. The scanner logs it; it
// never stops a scan.
type LineError struct {
	Path   string // Log file
	Offset int64  // Byte offset of the start of the line
	Data   string // The line, truncated for logging
	Err    error  // Underlying error
}

func (e *LineError) Error() string {
	data := e.Data
	if len(data) > 100 {
		data = data[:100] + "..."
	}
	return fmt.Sprintf("%s at offset %d: %q: %v", e.Path, e.Offset, data, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
