// Package monitor provides a live view of token usage.
//
// A Monitor re-runs one query on a fixed refresh interval and publishes
// each result together with the change since the previous refresh and
// since the monitor started. It reads through the query service only, so
// it shows whatever the scheduler has committed and never touches log
// files itself.
//
// Example usage:
//
//	m, err := monitor.New(monitor.Config{
//	    Querier:         e,
//	    Filter:          query.Filter{Agent: "reviewer"},
//	    RefreshInterval: 2 * time.Second,
//	}, log)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	for update := range m.Updates() {
//	    fmt.Printf("+%d tokens\n", update.Delta.TotalTokens)
//	}
package monitor

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"github.com/0xmhha/token-rollup/pkg/query"
)

// DefaultRefreshInterval is used when Config.RefreshInterval is zero.
const DefaultRefreshInterval = 2 * time.Second

// updateBuffer is the number of updates held for a slow consumer before
// new ones are dropped.
const updateBuffer = 10

// Querier answers usage queries.
type Querier interface {
	Query(ctx context.Context, f query.Filter, r query.Range) (query.Result, error)
}

// Config holds the configuration for the live monitor.
type Config struct {
	// Querier is polled on every refresh. Required.
	Querier Querier

	// Filter restricts the monitored rows.
	Filter query.Filter

	// Range is the bucket range to monitor. The zero value covers
	// everything.
	Range query.Range

	// RefreshInterval is the interval between queries.
	// Default: DefaultRefreshInterval.
	RefreshInterval time.Duration

	// Clock drives the refresh ticker. Defaults to the real clock.
	Clock quartz.Clock
}

// Update is published after every successful refresh.
type Update struct {
	// Timestamp is when the query completed.
	Timestamp time.Time

	// Result is the query result the update was computed from.
	Result query.Result

	// Totals sums Result.Rows.
	Totals query.Summary

	// Delta is the change since the previous update.
	Delta DeltaStats

	// Cumulative is the change since the first update.
	Cumulative DeltaStats

	// BurnRate is Delta.TotalTokens per minute of elapsed time. Zero for
	// the first update.
	BurnRate float64
}

// DeltaStats is the difference between two totals.
type DeltaStats struct {
	Events      int64 `json:"events"`
	TokensIn    int64 `json:"tokens_in"`
	TokensOut   int64 `json:"tokens_out"`
	TotalTokens int64 `json:"total_tokens"`
}

func diff(cur, prev query.Summary) DeltaStats {
	return DeltaStats{
		Events:      cur.EventCount - prev.EventCount,
		TokensIn:    cur.TokensIn - prev.TokensIn,
		TokensOut:   cur.TokensOut - prev.TokensOut,
		TotalTokens: cur.Total() - prev.Total(),
	}
}
