package display

import (
	"fmt"
	"io"

	"github.com/0xmhha/token-rollup/pkg/identity"
	"github.com/0xmhha/token-rollup/pkg/query"
	"github.com/0xmhha/token-rollup/pkg/scheduler"
	"github.com/0xmhha/token-rollup/pkg/store"
)

// simpleFormatter formats output as simple text.
type simpleFormatter struct {
	config Config
}

// FormatResult implements Formatter.FormatResult.
func (f *simpleFormatter) FormatResult(w io.Writer, res query.Result) error {
	for _, r := range res.Rows {
		if _, err := fmt.Fprintf(w, "%s %s %s (%s): %s in, %s out, %d events\n",
			formatTime(r.BucketStart),
			r.Provider,
			r.SessionID,
			r.AgentName,
			formatNumber(r.TokensIn),
			formatNumber(r.TokensOut),
			r.EventCount); err != nil {
			return err
		}
	}

	total := query.Totals(res.Rows)
	stale := ""
	if res.Stale {
		stale = " [stale]"
	}
	_, err := fmt.Fprintf(w, "Total: %s tokens | Input: %s | Output: %s | Events: %d | Buckets: %d%s\n",
		formatNumber(total.Total()),
		formatNumber(total.TokensIn),
		formatNumber(total.TokensOut),
		total.EventCount,
		total.Buckets,
		stale)
	return err
}

// FormatSeries implements Formatter.FormatSeries.
func (f *simpleFormatter) FormatSeries(w io.Writer, points []query.Point) error {
	for _, p := range points {
		if _, err := fmt.Fprintf(w, "%s: %s tokens\n", formatTime(p.BucketStart), formatNumber(p.Total())); err != nil {
			return err
		}
	}
	return nil
}

// FormatGroups implements Formatter.FormatGroups.
func (f *simpleFormatter) FormatGroups(w io.Writer, dim query.Dimension, groups []query.Group) error {
	for _, g := range groups {
		if _, err := fmt.Fprintf(w, "%s=%s: %s tokens in %d events\n",
			dim, g.Key, formatNumber(g.Total()), g.EventCount); err != nil {
			return err
		}
	}
	return nil
}

// FormatTopSessions implements Formatter.FormatTopSessions.
func (f *simpleFormatter) FormatTopSessions(w io.Writer, sessions []query.SessionSummary) error {
	for i, s := range sessions {
		if _, err := fmt.Fprintf(w, "#%d: %s (%s) - %s tokens in %d events\n",
			i+1, s.SessionID, s.AgentName, formatNumber(s.Total()), s.EventCount); err != nil {
			return err
		}
	}
	return nil
}

// FormatReport implements Formatter.FormatReport.
func (f *simpleFormatter) FormatReport(w io.Writer, report scheduler.Report) error {
	if _, err := fmt.Fprintf(w, "Run %s: %d files, %d scanned, %d unchanged, %d skipped, %d events in %s\n",
		report.RunID,
		report.Files,
		report.Scanned,
		report.Unchanged,
		report.Skipped,
		report.Events,
		report.Duration()); err != nil {
		return err
	}
	for _, e := range report.Errors {
		if _, err := fmt.Fprintf(w, "  %s\n", e.Error()); err != nil {
			return err
		}
	}
	return nil
}

// FormatFileStates implements Formatter.FormatFileStates.
func (f *simpleFormatter) FormatFileStates(w io.Writer, states []store.FileState) error {
	for _, s := range states {
		if _, err := fmt.Fprintf(w, "%s [%s] %d/%d bytes\n", s.Path, s.Provider, s.ByteOffset, s.FileSize); err != nil {
			return err
		}
	}
	return nil
}

// FormatIdentities implements Formatter.FormatIdentities.
func (f *simpleFormatter) FormatIdentities(w io.Writer, ids []identity.SessionIdentity) error {
	for _, id := range ids {
		if _, err := fmt.Fprintf(w, "%s -> %s %s\n", id.SessionID, id.AgentName, id.ProjectPath); err != nil {
			return err
		}
	}
	return nil
}
