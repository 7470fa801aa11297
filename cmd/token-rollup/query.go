package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xmhha/token-rollup/pkg/display"
	"github.com/0xmhha/token-rollup/pkg/engine"
	"github.com/0xmhha/token-rollup/pkg/query"
)

// ErrInvalidTime is returned for --since and --until values that are
// neither a duration, a date nor an RFC 3339 timestamp.
var ErrInvalidTime = errors.New("invalid time")

type queryOptions struct {
	filter     query.Filter
	since      string
	until      string
	format     string
	groupBy    string
	top        int
	series     bool
	timestamps bool
	compact    bool
}

func newQueryCmd(opts *globalOptions) *cobra.Command {
	q := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Show aggregated token usage",
		Long: "Query the stored 30-minute buckets. Rows are attributed to agents and " +
			"projects using the identities known at query time; sessions without an " +
			"identity are reported under the agent \"unknown\".",
		Example: `  token-rollup query --since 24h
  token-rollup query --agent reviewer --group-by project
  token-rollup query --since 2025-01-15 --until 2025-01-16 --series
  token-rollup query --top 10 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			r, err := q.timeRange(now)
			if err != nil {
				return err
			}

			var dim query.Dimension
			if q.groupBy != "" {
				d, ok := query.ParseDimension(q.groupBy)
				if !ok {
					return fmt.Errorf("unknown dimension %q (expected agent, project, session or provider)", q.groupBy)
				}
				dim = d
			}

			out := cmd.OutOrStdout()
			f, err := newFormatter(out, q.format, display.Config{
				ShowTimestamps: q.timestamps,
				Compact:        q.compact,
			})
			if err != nil {
				return err
			}

			e, _, cleanup, err := opts.openEngine(engine.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := e.Query(cmd.Context(), q.filter, r)
			if err != nil {
				return err
			}
			if res.Stale {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: showing cached result from %s\n", res.AsOf.Format(time.RFC3339))
			}

			switch {
			case dim != "":
				return f.FormatGroups(out, dim, query.GroupBy(res.Rows, dim))
			case q.top > 0:
				return f.FormatTopSessions(out, query.TopSessions(res.Rows, q.top))
			case q.series:
				return f.FormatSeries(out, query.Series(res.Rows))
			default:
				return f.FormatResult(out, res)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&q.filter.Agent, "agent", "", "only sessions of this agent (\"unknown\" for unattributed)")
	flags.StringVar(&q.filter.Project, "project", "", "only sessions of this project path")
	flags.StringVar(&q.filter.SessionID, "session", "", "only this session")
	flags.StringVar(&q.since, "since", "", "start of the range: duration (24h, 7d), date or RFC 3339 time")
	flags.StringVar(&q.until, "until", "", "end of the range, exclusive: duration, date or RFC 3339 time")
	flags.StringVarP(&q.format, "format", "f", "", "output format: table, json, simple (default table on a terminal, json otherwise)")
	flags.StringVar(&q.groupBy, "group-by", "", "sum rows by agent, project, session or provider")
	flags.IntVar(&q.top, "top", 0, "show the N sessions with the highest usage")
	flags.BoolVar(&q.series, "series", false, "sum rows per bucket")
	flags.BoolVar(&q.timestamps, "timestamps", false, "show when each bucket was last updated")
	flags.BoolVar(&q.compact, "compact", false, "compact output")

	cmd.MarkFlagsMutuallyExclusive("group-by", "top", "series")

	return cmd
}

// timeRange converts --since and --until into a query range.
func (q *queryOptions) timeRange(now time.Time) (query.Range, error) {
	var r query.Range

	if q.since != "" {
		t, err := parseTime(q.since, now)
		if err != nil {
			return r, fmt.Errorf("--since: %w", err)
		}
		r.Start = t
	}
	if q.until != "" {
		t, err := parseTime(q.until, now)
		if err != nil {
			return r, fmt.Errorf("--until: %w", err)
		}
		r.End = t
	}
	return r, nil
}

// parseTime accepts a duration before now ("90m", "24h", "7d"), a date
// ("2025-01-15", midnight UTC) or an RFC 3339 timestamp.
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)

	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.Add(-time.Duration(n) * 24 * time.Hour).UTC(), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("%w: negative duration %q", ErrInvalidTime, s)
		}
		return now.Add(-d).UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}
