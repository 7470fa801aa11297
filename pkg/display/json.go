package display

import (
	"encoding/json"
	"io"

	"github.com/0xmhha/token-rollup/pkg/identity"
	"github.com/0xmhha/token-rollup/pkg/query"
	"github.com/0xmhha/token-rollup/pkg/scheduler"
	"github.com/0xmhha/token-rollup/pkg/store"
)

// jsonFormatter formats output as JSON.
type jsonFormatter struct {
	config Config
}

type resultDocument struct {
	query.Result
	Totals query.Summary `json:"totals"`
}

type reportDocument struct {
	scheduler.Report
	DurationMS int64 `json:"duration_ms"`
}

// FormatResult implements Formatter.FormatResult.
func (f *jsonFormatter) FormatResult(w io.Writer, res query.Result) error {
	if res.Rows == nil {
		res.Rows = []query.Row{}
	}
	return f.encode(w, resultDocument{Result: res, Totals: query.Totals(res.Rows)})
}

// FormatSeries implements Formatter.FormatSeries.
func (f *jsonFormatter) FormatSeries(w io.Writer, points []query.Point) error {
	return f.encode(w, nonNil(points))
}

// FormatGroups implements Formatter.FormatGroups.
func (f *jsonFormatter) FormatGroups(w io.Writer, dim query.Dimension, groups []query.Group) error {
	return f.encode(w, struct {
		Dimension query.Dimension `json:"dimension"`
		Groups    []query.Group   `json:"groups"`
	}{dim, nonNil(groups)})
}

// FormatTopSessions implements Formatter.FormatTopSessions.
func (f *jsonFormatter) FormatTopSessions(w io.Writer, sessions []query.SessionSummary) error {
	return f.encode(w, nonNil(sessions))
}

// FormatReport implements Formatter.FormatReport.
func (f *jsonFormatter) FormatReport(w io.Writer, report scheduler.Report) error {
	return f.encode(w, reportDocument{Report: report, DurationMS: report.Duration().Milliseconds()})
}

// FormatFileStates implements Formatter.FormatFileStates.
func (f *jsonFormatter) FormatFileStates(w io.Writer, states []store.FileState) error {
	return f.encode(w, nonNil(states))
}

// FormatIdentities implements Formatter.FormatIdentities.
func (f *jsonFormatter) FormatIdentities(w io.Writer, ids []identity.SessionIdentity) error {
	return f.encode(w, nonNil(ids))
}

func (f *jsonFormatter) encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	if !f.config.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

// nonNil makes empty results encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
