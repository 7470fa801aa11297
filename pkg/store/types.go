// Package store persists scan offsets and aggregation buckets in BoltDB.
//
// Two bolt buckets hold the durable state of the pipeline:
//
//   - log_file_state: path -> FileState (JSON)
//   - aggregation_bucket: (start, provider, session) -> BucketValue (JSON)
//
// Commit applies a file's bucket deltas and advances its offset in a single
// read-write transaction, so a crash or a failed write never counts the
// same bytes twice. Reads run in read-only transactions and are not blocked
// by a commit in progress.
//
// Example usage:
//
//	st, err := store.Open(store.Config{Path: "~/.token-rollup/rollup.db"}, log)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	err = st.Commit(ctx, store.CommitRequest{
//	    State:  newState,
//	    Deltas: bucket.Fold(events),
//	})
//	if errors.Is(err, store.ErrCommit) {
//	    // offset not advanced, retry next cycle
//	}
package store

import (
	"fmt"
	"time"

	"github.com/0xmhha/token-rollup/pkg/bucket"
	"github.com/0xmhha/token-rollup/pkg/parser"
)

// Config contains store configuration.
type Config struct {
	// Path is the database file. "~" is expanded.
	Path string

	// Timeout is how long Open waits for the file lock.
	//
	// Default: 1 second.
	Timeout time.Duration

	// CommitHook, when set, runs inside Commit after the bucket deltas are
	// written and before the file offset is written. A non-nil return
	// aborts the transaction. Used to exercise interrupted commits.
	CommitHook func(stage CommitStage) error
}

// CommitStage names a point inside Commit.
type CommitStage string

// Commit stages passed to Config.CommitHook.
const (
	// StageBucketsWritten runs after all deltas are applied.
	StageBucketsWritten CommitStage = "buckets_written"
)

// FileState is the scan progress of one log file.
//
// Invariant: 0 <= ByteOffset <= FileSize once committed.
type FileState struct {
	Path          string          `json:"path"`
	Provider      parser.Provider `json:"provider"`
	ByteOffset    int64           `json:"byte_offset"`
	FileSize      int64           `json:"file_size"`
	LastScannedAt time.Time       `json:"last_scanned_at"`
	LastRunID     string          `json:"last_run_id,omitempty"`
}

// Validate checks the state invariants.
func (s FileState) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidFileState)
	}
	if s.ByteOffset < 0 || s.FileSize < 0 {
		return fmt.Errorf("%w: negative offset or size", ErrInvalidFileState)
	}
	if s.ByteOffset > s.FileSize {
		return fmt.Errorf("%w: offset %d past size %d", ErrInvalidFileState, s.ByteOffset, s.FileSize)
	}
	return nil
}

// BucketValue is the stored total of one aggregation bucket.
type BucketValue struct {
	TokensIn         int64     `json:"tokens_in"`
	TokensOut        int64     `json:"tokens_out"`
	CacheReadTokens  int64     `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64     `json:"cache_write_tokens,omitempty"`
	EventCount       int64     `json:"event_count"`
	LastUpdated      time.Time `json:"last_updated"`
}

// apply adds d to v.
func (v *BucketValue) apply(d bucket.Delta, now time.Time) {
	v.TokensIn += d.TokensIn
	v.TokensOut += d.TokensOut
	v.CacheReadTokens += d.CacheReadTokens
	v.CacheWriteTokens += d.CacheWriteTokens
	v.EventCount += d.EventCount
	v.LastUpdated = now
}

// BucketRecord is a stored bucket with its key.
type BucketRecord struct {
	Key   bucket.Key
	Value BucketValue
}

// Range selects bucket starts in [Start, End). A zero End is unbounded.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if t.Before(r.Start) {
		return false
	}
	return r.End.IsZero() || t.Before(r.End)
}

// CommitRequest is the unit Commit applies atomically.
type CommitRequest struct {
	// State is the file state to write once the deltas are applied.
	State FileState

	// Deltas are added to the stored bucket values.
	Deltas map[bucket.Key]bucket.Delta
}

// Stats summarizes the database contents.
type Stats struct {
	Files   int
	Buckets int
}
