package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/0xmhha/token-rollup/pkg/identity"
	"github.com/0xmhha/token-rollup/pkg/query"
	"github.com/0xmhha/token-rollup/pkg/scheduler"
	"github.com/0xmhha/token-rollup/pkg/store"
)

// tableFormatter formats output as tables.
type tableFormatter struct {
	config Config
}

// FormatResult implements Formatter.FormatResult.
func (f *tableFormatter) FormatResult(w io.Writer, res query.Result) error {
	title := "Token Usage by Bucket"
	if res.Stale {
		title += fmt.Sprintf(" (stale, as of %s)", formatTime(res.AsOf))
	}
	if err := writeHeader(w, title, f.config.Compact); err != nil {
		return err
	}

	header := []string{"Bucket", "Provider", "Session", "Agent", "Input", "Output", "Cache R/W", "Events"}
	if f.config.ShowTimestamps {
		header = append(header, "Updated")
	}

	rows := make([][]string, 0, len(res.Rows)+1)
	for _, r := range res.Rows {
		row := []string{
			formatTime(r.BucketStart),
			string(r.Provider),
			r.SessionID,
			r.AgentName,
			formatNumber(r.TokensIn),
			formatNumber(r.TokensOut),
			formatNumber(r.CacheReadTokens) + "/" + formatNumber(r.CacheWriteTokens),
			formatNumber(r.EventCount),
		}
		if f.config.ShowTimestamps {
			row = append(row, formatTime(r.LastUpdated))
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		total := query.Totals(res.Rows)
		row := []string{
			"Total", "", "", "",
			formatNumber(total.TokensIn),
			formatNumber(total.TokensOut),
			formatNumber(total.CacheReadTokens) + "/" + formatNumber(total.CacheWriteTokens),
			formatNumber(total.EventCount),
		}
		if f.config.ShowTimestamps {
			row = append(row, "")
		}
		rows = append(rows, row)
	}

	return f.writeTable(w, header, rows)
}

// FormatSeries implements Formatter.FormatSeries.
func (f *tableFormatter) FormatSeries(w io.Writer, points []query.Point) error {
	if err := writeHeader(w, "Token Usage Series", f.config.Compact); err != nil {
		return err
	}

	rows := make([][]string, len(points))
	for i, p := range points {
		rows[i] = []string{
			formatTime(p.BucketStart),
			formatNumber(p.Total()),
			formatNumber(p.TokensIn),
			formatNumber(p.TokensOut),
			formatNumber(p.EventCount),
		}
	}

	return f.writeTable(w, []string{"Bucket", "Total", "Input", "Output", "Events"}, rows)
}

// FormatGroups implements Formatter.FormatGroups.
func (f *tableFormatter) FormatGroups(w io.Writer, dim query.Dimension, groups []query.Group) error {
	if err := writeHeader(w, "Token Usage by "+capitalize(string(dim)), f.config.Compact); err != nil {
		return err
	}

	rows := make([][]string, len(groups))
	for i, g := range groups {
		key := g.Key
		if key == "" {
			key = "-"
		}
		rows[i] = []string{
			key,
			formatNumber(g.Total()),
			formatNumber(g.TokensIn),
			formatNumber(g.TokensOut),
			formatNumber(g.EventCount),
			formatNumber(int64(g.Buckets)),
		}
	}

	return f.writeTable(w, []string{string(dim), "Total", "Input", "Output", "Events", "Buckets"}, rows)
}

// FormatTopSessions implements Formatter.FormatTopSessions.
func (f *tableFormatter) FormatTopSessions(w io.Writer, sessions []query.SessionSummary) error {
	if err := writeHeader(w, "Top Sessions by Token Usage", f.config.Compact); err != nil {
		return err
	}

	header := []string{"Rank", "Session ID", "Agent", "Total Tokens", "Input", "Output", "Events", "Last Bucket"}

	rows := make([][]string, len(sessions))
	for i, s := range sessions {
		rows[i] = []string{
			fmt.Sprintf("#%d", i+1),
			s.SessionID,
			s.AgentName,
			formatNumber(s.Total()),
			formatNumber(s.TokensIn),
			formatNumber(s.TokensOut),
			formatNumber(s.EventCount),
			formatTime(s.LastBucket),
		}
	}

	return f.writeTable(w, header, rows)
}

// FormatReport implements Formatter.FormatReport.
func (f *tableFormatter) FormatReport(w io.Writer, report scheduler.Report) error {
	if err := writeHeader(w, "Scan Report", f.config.Compact); err != nil {
		return err
	}

	rows := [][]string{
		{"Run ID", report.RunID},
		{"Duration", report.Duration().String()},
		{"Files", formatNumber(int64(report.Files))},
		{"Scanned", formatNumber(int64(report.Scanned))},
		{"Unchanged", formatNumber(int64(report.Unchanged))},
		{"Skipped", formatNumber(int64(report.Skipped))},
		{"Events", formatNumber(int64(report.Events))},
		{"Lines Skipped", formatNumber(int64(report.LinesSkipped))},
		{"Rotated", formatNumber(int64(report.Rotated))},
	}
	if err := f.writeTable(w, []string{"Metric", "Value"}, rows); err != nil {
		return err
	}

	if len(report.Errors) == 0 {
		return nil
	}

	errRows := make([][]string, len(report.Errors))
	for i, e := range report.Errors {
		errRows[i] = []string{e.Path, string(e.Provider), e.Kind, e.Message}
	}
	return f.writeTable(w, []string{"File", "Provider", "Kind", "Error"}, errRows)
}

// FormatFileStates implements Formatter.FormatFileStates.
func (f *tableFormatter) FormatFileStates(w io.Writer, states []store.FileState) error {
	if err := writeHeader(w, "Log Files", f.config.Compact); err != nil {
		return err
	}

	rows := make([][]string, len(states))
	for i, s := range states {
		rows[i] = []string{
			s.Path,
			string(s.Provider),
			formatNumber(s.ByteOffset),
			formatNumber(s.FileSize),
			formatTime(s.LastScannedAt),
		}
	}

	return f.writeTable(w, []string{"Path", "Provider", "Offset", "Size", "Last Scanned"}, rows)
}

// FormatIdentities implements Formatter.FormatIdentities.
func (f *tableFormatter) FormatIdentities(w io.Writer, ids []identity.SessionIdentity) error {
	if err := writeHeader(w, "Session Identities", f.config.Compact); err != nil {
		return err
	}

	rows := make([][]string, len(ids))
	for i, id := range ids {
		rows[i] = []string{id.SessionID, id.AgentName, id.ProjectPath, formatTime(id.LastSeenAt)}
	}

	return f.writeTable(w, []string{"Session ID", "Agent", "Project", "Last Seen"}, rows)
}

// writeTable writes a formatted table.
func (f *tableFormatter) writeTable(w io.Writer, header []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No data")
		return err
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	if err := f.writeRow(w, header, widths); err != nil {
		return err
	}

	if !f.config.Compact {
		separator := make([]string, len(header))
		for i, width := range widths {
			separator[i] = strings.Repeat("-", width)
		}
		if err := f.writeRow(w, separator, widths); err != nil {
			return err
		}
	}

	for _, row := range rows {
		if err := f.writeRow(w, row, widths); err != nil {
			return err
		}
	}

	if !f.config.Compact {
		_, err := fmt.Fprintln(w)
		return err
	}

	return nil
}

// writeRow writes a single table row. Trailing padding is trimmed.
func (f *tableFormatter) writeRow(w io.Writer, cells []string, widths []int) error {
	gap := "  "
	if f.config.Compact {
		gap = " "
	}

	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteString(gap)
		}
		fmt.Fprintf(&b, "%-*s", widths[i], cell)
	}

	_, err := fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	return err
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
