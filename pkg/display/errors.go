package display

import "errors"

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown format: must be table, json, or simple")
