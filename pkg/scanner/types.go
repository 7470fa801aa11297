// Package scanner incrementally reads provider log files and commits their
// usage into aggregation buckets.
//
// A scan reads only the bytes past the file's committed offset, parses the
// complete lines among them, folds the resulting events into bucket deltas
// and hands deltas and the new offset to the store in a single commit.
// Because the offset only moves inside that commit, every byte is counted
// exactly once no matter how often, or how abruptly, scans are repeated.
//
// Example usage:
//
//	sc, err := scanner.New(scanner.Config{
//	    Store:    st,
//	    Registry: parser.DefaultRegistry(),
//	}, log)
//	if err != nil {
//	    return err
//	}
//
//	state, _ := st.EnsureFileState(ctx, path, parser.ProviderClaudeCode)
//	res, err := sc.ScanFile(scanner.WithRunID(ctx, runID), state)
//	if err != nil {
//	    // ErrIO or store.ErrCommit: offset unchanged, retry next cycle
//	}
//	fmt.Printf("%d events, %d lines skipped\n", res.Events, res.Skipped)
package scanner

import (
	"context"

	"github.com/coder/quartz"

	"github.com/0xmhha/token-rollup/pkg/bucket"
	"github.com/0xmhha/token-rollup/pkg/parser"
	"github.com/0xmhha/token-rollup/pkg/store"
)

// DefaultMaxReadBytes caps the bytes read from one file in one scan.
const DefaultMaxReadBytes int64 = 64 << 20

// Committer applies a scan result atomically. *store.Store implements it.
type Committer interface {
	Commit(ctx context.Context, req store.CommitRequest) error
}

// Config contains scanner configuration.
type Config struct {
	// Store receives the commit of every scan that made progress.
	Store Committer

	// Registry resolves the parser for a file's provider tag.
	Registry *parser.Registry

	// MaxReadBytes caps the bytes read per scan of one file. The rest of
	// the file is picked up by the next scan.
	//
	// Default: 64 MiB.
	MaxReadBytes int64

	// Clock stamps LastScannedAt. Defaults to the real clock.
	Clock quartz.Clock
}

// Result describes one ScanFile call.
type Result struct {
	// State is the file state after the scan. It equals the input state
	// when nothing was committed.
	State store.FileState

	// Deltas are the bucket changes that were committed.
	Deltas map[bucket.Key]bucket.Delta

	// Lines is the number of complete, non-blank lines read.
	Lines int

	// Events is the number of usage records among them.
	Events int

	// Skipped counts lines that could not be parsed, plus any read window
	// discarded because it held no line break.
	Skipped int

	// Rotated is true when the file was smaller than the stored offset and
	// was rescanned from the start.
	Rotated bool

	// BytesConsumed is how far the offset advanced.
	BytesConsumed int64

	// Remaining is the number of bytes left beyond the read cap.
	Remaining int64

	// Committed is true when the store accepted a commit.
	Committed bool
}

type runIDKey struct{}

// WithRunID attaches the scan cycle id recorded in FileState.LastRunID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the id attached by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
