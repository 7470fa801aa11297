package query

import "errors"

var (
	// ErrNoStore is returned by New without a bucket reader.
	ErrNoStore = errors.New("query: store is required")

	// ErrInvalidRange is returned when End is before Start.
	ErrInvalidRange = errors.New("query: range end before start")
)
