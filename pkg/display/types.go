// Package display provides output formatting for token-rollup results.
//
// It supports multiple output formats (table, JSON, simple text) for query
// rows, aggregates, scan reports, file states and session identities.
package display

import (
	"io"

	"github.com/0xmhha/token-rollup/pkg/identity"
	"github.com/0xmhha/token-rollup/pkg/query"
	"github.com/0xmhha/token-rollup/pkg/scheduler"
	"github.com/0xmhha/token-rollup/pkg/store"
)

// Format represents an output format.
type Format string

const (
	// FormatTable displays results in a formatted table.
	FormatTable Format = "table"

	// FormatJSON displays results as JSON.
	FormatJSON Format = "json"

	// FormatSimple displays results as one line per item.
	FormatSimple Format = "simple"
)

// ParseFormat validates a format name. An empty name is FormatTable.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatSimple:
		return f, nil
	default:
		return "", ErrUnknownFormat
	}
}

// Formatter formats and displays results.
type Formatter interface {
	// FormatResult formats query rows followed by their totals.
	//
	// Parameters:
	//   - w: Output writer
	//   - res: Query result to format
	//
	// Returns error if formatting fails.
	FormatResult(w io.Writer, res query.Result) error

	// FormatSeries formats per-bucket sums.
	FormatSeries(w io.Writer, points []query.Point) error

	// FormatGroups formats sums grouped by one dimension.
	//
	// Parameters:
	//   - w: Output writer
	//   - dim: Dimension the groups were built from, used as column title
	//   - groups: Groups to format
	//
	// Returns error if formatting fails.
	FormatGroups(w io.Writer, dim query.Dimension, groups []query.Group) error

	// FormatTopSessions formats per-session sums.
	FormatTopSessions(w io.Writer, sessions []query.SessionSummary) error

	// FormatReport formats the outcome of one scan cycle.
	FormatReport(w io.Writer, report scheduler.Report) error

	// FormatFileStates formats stored scan progress.
	FormatFileStates(w io.Writer, states []store.FileState) error

	// FormatIdentities formats stored session identities.
	FormatIdentities(w io.Writer, ids []identity.SessionIdentity) error
}

// Config contains formatter configuration.
type Config struct {
	// Format specifies the output format.
	// Default: FormatTable.
	Format Format

	// ShowTimestamps adds last-updated columns to row tables.
	// Default: false.
	ShowTimestamps bool

	// Compact enables compact output (less whitespace).
	// Default: false.
	Compact bool
}
