// Package query serves aggregated token usage straight from bucket storage.
//
// Queries never read raw logs. Session identity is joined at read time, so
// buckets written before an agent was known are attributed as soon as the
// identity source learns about the session. Sessions that never resolve are
// reported under the agent name "unknown".
//
// Reads run in bbolt read transactions and do not wait for a scan commit.
// When storage fails, the last good answer for the same filter and range is
// returned with Stale set.
//
// Example usage:
//
//	svc, err := query.New(query.Config{Store: st, Identities: resolver}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := svc.Query(ctx, query.Filter{Agent: "reviewer"}, query.Range{
//	    Start: time.Now().Add(-24 * time.Hour),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	total := query.Totals(res.Rows)
//	fmt.Printf("%d tokens in %d events\n", total.Total(), total.EventCount)
package query

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"github.com/0xmhha/token-rollup/pkg/identity"
	"github.com/0xmhha/token-rollup/pkg/metrics"
	"github.com/0xmhha/token-rollup/pkg/parser"
	"github.com/0xmhha/token-rollup/pkg/store"
)

// DefaultCacheEntries bounds the number of filter/range pairs kept for
// stale fallback.
const DefaultCacheEntries = 256

// BucketReader reads stored buckets.
type BucketReader interface {
	Buckets(ctx context.Context, r store.Range) ([]store.BucketRecord, error)
}

// IdentityResolver maps session ids to identities.
type IdentityResolver interface {
	RefreshIfStale(ctx context.Context) error
	Resolve(sessionID string) (identity.SessionIdentity, bool)
}

// Config contains query service configuration.
type Config struct {
	// Store is required.
	Store BucketReader

	// Identities is optional. Without it every row is "unknown".
	Identities IdentityResolver

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Clock defaults to the real clock.
	Clock quartz.Clock

	// CacheEntries bounds the stale-fallback cache. Default: 256.
	CacheEntries int
}

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Project   string `json:"project,omitempty"`
	Agent     string `json:"agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Range selects buckets with Start <= BucketStart < End. A zero End is
// unbounded.
type Range = store.Range

// Row is one bucket joined with its session identity.
type Row struct {
	SessionID        string          `json:"session_id"`
	Provider         parser.Provider `json:"provider"`
	BucketStart      time.Time       `json:"bucket_start"`
	TokensIn         int64           `json:"tokens_in"`
	TokensOut        int64           `json:"tokens_out"`
	CacheReadTokens  int64           `json:"cache_read_tokens"`
	CacheWriteTokens int64           `json:"cache_write_tokens"`
	EventCount       int64           `json:"event_count"`
	LastUpdated      time.Time       `json:"last_updated"`
	AgentName        string          `json:"agent_name"`
	ProjectPath      string          `json:"project_path,omitempty"`
	Resolved         bool            `json:"resolved"`
}

// Total returns input plus output tokens.
func (r Row) Total() int64 {
	return r.TokensIn + r.TokensOut
}

// Result is the answer to one query.
type Result struct {
	Rows []Row `json:"rows"`

	// Stale is set when storage failed and Rows is the last good answer
	// for the same filter and range.
	Stale bool `json:"stale,omitempty"`

	// AsOf is when Rows was read from storage.
	AsOf time.Time `json:"as_of"`
}
