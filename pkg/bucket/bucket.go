// Package bucket folds usage events into fixed-width time buckets.
//
// A bucket is identified by (SessionID, Provider, Start) where Start is the
// event timestamp floored to a 30 minute boundary in UTC. Folding is pure:
// it produces deltas that the storage layer adds to whatever is already
// stored, never overwriting it.
//
// Example usage:
//
//	deltas := bucket.Fold(events)
//	for key, d := range deltas {
//	    fmt.Printf("%s %s %s: in=%d out=%d\n",
//	        key.Start.Format(time.RFC3339), key.Provider, key.SessionID,
//	        d.TokensIn, d.TokensOut)
//	}
package bucket

import (
	"sort"
	"time"

	"github.com/0xmhha/token-rollup/pkg/parser"
)

// Width is the size of every aggregation bucket.
const Width = 30 * time.Minute

// widthSeconds is Width in whole seconds.
const widthSeconds = int64(Width / time.Second)

// Key identifies one aggregation bucket.
type Key struct {
	SessionID string
	Provider  parser.Provider
	Start     time.Time
}

// Delta is the amount a set of events adds to one bucket.
type Delta struct {
	TokensIn         int64
	TokensOut        int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	EventCount       int64
}

// Add folds a single event into the delta.
func (d *Delta) Add(ev parser.UsageEvent) {
	d.TokensIn += ev.TokensIn
	d.TokensOut += ev.TokensOut
	d.CacheReadTokens += ev.CacheReadTokens
	d.CacheWriteTokens += ev.CacheWriteTokens
	d.EventCount++
}

// Merge adds other to d.
func (d *Delta) Merge(other Delta) {
	d.TokensIn += other.TokensIn
	d.TokensOut += other.TokensOut
	d.CacheReadTokens += other.CacheReadTokens
	d.CacheWriteTokens += other.CacheWriteTokens
	d.EventCount += other.EventCount
}

// Total returns input plus output tokens.
func (d Delta) Total() int64 {
	return d.TokensIn + d.TokensOut
}

// IsZero reports whether the delta would change nothing.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Start returns the start of the bucket containing t.
//
// An instant exactly on a boundary belongs to the bucket starting at that
// boundary. Times before the epoch floor toward negative infinity.
func Start(t time.Time) time.Time {
	unix := t.Unix()
	mod := unix % widthSeconds
	if mod < 0 {
		mod += widthSeconds
	}
	return time.Unix(unix-mod, 0).UTC()
}

// KeyFor returns the bucket key of an event.
func KeyFor(ev parser.UsageEvent) Key {
	return Key{
		SessionID: ev.SessionID,
		Provider:  ev.Provider,
		Start:     Start(ev.Timestamp),
	}
}

// Fold groups events by bucket key and sums them.
//
// Returns an empty (non-nil) map for no events.
func Fold(events []parser.UsageEvent) map[Key]Delta {
	out := make(map[Key]Delta)
	for _, ev := range events {
		k := KeyFor(ev)
		d := out[k]
		d.Add(ev)
		out[k] = d
	}
	return out
}

// SortedKeys returns the keys of deltas ordered by (Start, Provider, SessionID).
func SortedKeys(deltas map[Key]Delta) []Key {
	keys := make([]Key, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return Less(keys[i], keys[j])
	})
	return keys
}

// Less orders keys by (Start, Provider, SessionID).
func Less(a, b Key) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.Provider != b.Provider {
		return a.Provider < b.Provider
	}
	return a.SessionID < b.SessionID
}
