// Package watcher turns file system activity under the provider log roots
// into scan requests.
//
// fsnotify events for *.jsonl files are collected and, once the roots have
// been quiet for the debounce interval, handed to the OnChange callback as
// one batch. Agents append to their logs many times per turn; debouncing
// turns a burst of writes into a single scan trigger. Directories created
// after Start (Codex creates one per day) are watched as they appear.
//
// The watcher only makes scans more timely. Scans stay correct without it
// because the periodic scheduler still visits every file.
//
// Example usage:
//
//	w, err := watcher.New(watcher.Config{
//	    DebounceInterval: 2 * time.Second,
//	    OnChange: func(ctx context.Context, batch []watcher.Event) {
//	        _, _ = sched.TriggerScan(ctx)
//	    },
//	}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	if err := w.Start(ctx, []string{"~/.claude/projects", "~/.codex/sessions"}); err != nil {
//	    log.Fatal(err)
//	}
package watcher

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

// Op describes a file operation type.
type Op uint32

// File operation types.
const (
	OpCreate Op = 1 << iota // File created
	OpWrite                 // File modified
	OpRemove                // File deleted
	OpRename                // File renamed/moved
)

// String returns a human-readable operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event is the latest change seen for one log file in a batch.
type Event struct {
	// Path is the absolute path to the file that changed.
	Path string

	// Op is the last operation seen for the path.
	Op Op

	// Timestamp is when the operation was seen.
	Timestamp time.Time
}

// Config contains watcher configuration.
type Config struct {
	// DebounceInterval is how long the roots must be quiet before a batch
	// is delivered.
	//
	// Default: 2s.
	DebounceInterval time.Duration

	// OnChange receives each batch, ordered by path. It runs on its own
	// goroutine; Close waits for it to return.
	OnChange func(ctx context.Context, batch []Event)

	// CircuitBreakerThreshold is the number of consecutive fsnotify errors
	// after which the watcher stops watching. Scans then rely on the
	// periodic schedule alone.
	//
	// Default: 5.
	CircuitBreakerThreshold int

	// Clock drives the debounce timer. Defaults to the real clock.
	Clock quartz.Clock
}
