// Package scheduler runs scan cycles, one at a time.
//
// The scheduler is either idle or running a cycle; a single atomic flag
// guards the transition. A cycle discovers every log file, makes sure each
// has a stored state and scans them on a bounded worker pool. Failures of
// individual files are recorded in the cycle report and retried by the
// next cycle; they never abort the batch.
//
// Cycles are started by a periodic ticker (Start), by on-demand triggers
// (TriggerScan) or synchronously (RunCycle). A request that arrives while a
// cycle is running is turned away rather than queued.
//
// Example usage:
//
//	s, err := scheduler.New(scheduler.Config{
//	    Discoverer: disc,
//	    Store:      st,
//	    Scanner:    sc,
//	    Interval:   5 * time.Minute,
//	}, log)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	res, err := s.TriggerScan(ctx)
//	if err == nil && !res.Started {
//	    fmt.Println("busy:", res.Reason)
//	}
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/0xmhha/token-rollup/pkg/discovery"
	"github.com/0xmhha/token-rollup/pkg/metrics"
	"github.com/0xmhha/token-rollup/pkg/parser"
	"github.com/0xmhha/token-rollup/pkg/scanner"
	"github.com/0xmhha/token-rollup/pkg/store"
)

// Defaults applied by New.
const (
	DefaultInterval    = 5 * time.Minute
	DefaultWorkers     = 4
	DefaultFileBudget  = 30 * time.Second
	DefaultCycleBudget = 4 * time.Minute
)

// ReasonAlreadyRunning is the TriggerResult.Reason of a refused trigger.
const ReasonAlreadyRunning = "already_running"

// StateStore is the part of the store the scheduler needs.
type StateStore interface {
	Ping(ctx context.Context) error
	EnsureFileState(ctx context.Context, path string, provider parser.Provider) (store.FileState, error)
}

// FileScanner scans one file. *scanner.Scanner implements it.
type FileScanner interface {
	ScanFile(ctx context.Context, state store.FileState) (scanner.Result, error)
}

// IdentityRefresher reloads identities at the start of a cycle.
type IdentityRefresher interface {
	RefreshIfStale(ctx context.Context) error
}

// Config contains scheduler configuration.
type Config struct {
	Discoverer discovery.Discoverer
	Store      StateStore
	Scanner    FileScanner

	// Identities is refreshed before each cycle when set. A refresh
	// failure is logged and the cycle continues.
	Identities IdentityRefresher

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Clock drives the ticker and report timestamps. Defaults to the real
	// clock.
	Clock quartz.Clock

	// Interval between periodic cycles.
	//
	// Default: 5 minutes.
	Interval time.Duration

	// RunOnStart runs a cycle as soon as Start is called.
	RunOnStart bool

	// Workers bounds the number of files scanned concurrently.
	//
	// Default: 4.
	Workers int

	// FileBudget bounds the scan of one file. A file that exceeds it is
	// abandoned without advancing its offset.
	//
	// Default: 30 seconds.
	FileBudget time.Duration

	// CycleBudget bounds a whole cycle.
	//
	// Default: 4 minutes.
	CycleBudget time.Duration
}

// TriggerResult is the answer to an on-demand trigger.
type TriggerResult struct {
	Started bool   `json:"started"`
	Reason  string `json:"reason,omitempty"`
}

// Failure kinds recorded in FileError.Kind.
const (
	KindIO       = "io"
	KindCommit   = "commit"
	KindTimeout  = "timeout"
	KindCanceled = "canceled"
	KindState    = "state"
	KindOther    = "other"
)

// FileError is a per-file failure recorded in a Report.
type FileError struct {
	Path     string          `json:"path"`
	Provider parser.Provider `json:"provider"`
	Kind     string          `json:"kind"`
	Message  string          `json:"message"`
	Err      error           `json:"-"`
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Path, e.Kind, e.Message)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Report summarizes one cycle.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Files is the number of files discovered.
	Files int `json:"files"`

	// Scanned counts files whose scan was committed.
	Scanned int `json:"scanned"`

	// Unchanged counts files with nothing new.
	Unchanged int `json:"unchanged"`

	// Skipped counts files that failed and will be retried.
	Skipped int `json:"skipped"`

	Events       int         `json:"events"`
	LinesSkipped int         `json:"lines_skipped"`
	Rotated      int         `json:"rotated"`
	Errors       []FileError `json:"errors,omitempty"`
}

// Duration returns how long the cycle took.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func classify(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, scanner.ErrIO):
		return KindIO
	case errors.Is(err, store.ErrCommit):
		return KindCommit
	default:
		return KindOther
	}
}
