package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/0xmhha/token-rollup/pkg/discovery"
	"github.com/0xmhha/token-rollup/pkg/logger"
	"github.com/0xmhha/token-rollup/pkg/metrics"
	"github.com/0xmhha/token-rollup/pkg/scanner"
)

// Scheduler runs scan cycles.
type Scheduler struct {
	config Config
	logger logger.Logger

	// running is the Idle/Running flag. It is the only thing that
	// serializes cycles.
	running atomic.Bool

	// ctx outlives individual triggers; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	started bool
	last    Report
}

// New creates a scheduler.
//
// Parameters:
//   - cfg: Scheduler configuration
//   - log: Logger instance
//
// Returns:
//   - Configured Scheduler, idle until Start or a trigger
//   - Error if a required collaborator is missing
func New(cfg Config, log logger.Logger) (*Scheduler, error) {
	if cfg.Discoverer == nil {
		return nil, fmt.Errorf("discoverer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}

	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.FileBudget <= 0 {
		cfg.FileBudget = DefaultFileBudget
	}
	if cfg.CycleBudget <= 0 {
		cfg.CycleBudget = DefaultCycleBudget
	}

	ctx, cancel := context.WithCancel(context.Background())

	log.Info("scheduler created",
		"interval", cfg.Interval,
		"workers", cfg.Workers,
		"file_budget", cfg.FileBudget,
		"cycle_budget", cfg.CycleBudget)

	return &Scheduler{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start runs periodic cycles until ctx ends or Close is called. A tick
// that arrives while a cycle is running is dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrStarted
	}
	s.started = true

	ticker := s.config.Clock.NewTicker(s.config.Interval, "scheduler", "tick")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		loopCtx, cancel := mergeDone(ctx, s.ctx)
		defer cancel()

		if s.config.RunOnStart {
			s.tick(loopCtx)
		}
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.tick(loopCtx)
			}
		}
	}()

	s.logger.Info("scheduler started", "run_on_start", s.config.RunOnStart)
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		s.logger.Debug("tick skipped, cycle already running")
	case errors.Is(err, ErrClosed):
	case err != nil:
		s.logger.Warn("scheduled cycle failed", "error", err)
	}
}

// TriggerScan requests a cycle and returns without waiting for it.
//
// Returns:
//   - {Started: true} when a cycle was started in the background
//   - {Started: false, Reason: "already_running"} when one is in progress
//   - ErrStorageUnavailable when the store cannot be reached; no cycle runs
//   - ErrClosed after Close
func (s *Scheduler) TriggerScan(ctx context.Context) (TriggerResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.config.Metrics.ObserveCycle(metrics.CycleAlreadyRunning, 0, s.config.Clock.Now())
		s.logger.Debug("trigger refused, cycle already running")
		return TriggerResult{Started: false, Reason: ReasonAlreadyRunning}, nil
	}

	if err := s.config.Store.Ping(ctx); err != nil {
		s.running.Store(false)
		return TriggerResult{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.running.Store(false)
		return TriggerResult{}, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if _, err := s.cycle(s.ctx); err != nil {
			s.logger.Warn("triggered cycle failed", "error", err)
		}
	}()

	return TriggerResult{Started: true}, nil
}

// RunCycle runs one cycle and waits for it.
//
// Returns:
//   - The cycle report; per-file failures are in Report.Errors
//   - ErrAlreadyRunning if another cycle is in progress
//   - Error if discovery fails. Cancellation after discovery is not an
//     error; unfinished files are reported as KindCanceled in Report.Errors
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Report{}, ErrClosed
	}

	if !s.running.CompareAndSwap(false, true) {
		s.config.Metrics.ObserveCycle(metrics.CycleAlreadyRunning, 0, s.config.Clock.Now())
		return Report{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	return s.cycle(ctx)
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastReport returns the report of the most recent finished cycle and
// whether one exists.
func (s *Scheduler) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last.RunID != ""
}

// Close stops the periodic loop, cancels any background cycle and waits
// for both to return. It is safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.logger.Info("scheduler closed")
	return nil
}

// cycle runs one cycle. The caller holds the running flag.
func (s *Scheduler) cycle(parent context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(parent, s.config.CycleBudget)
	defer cancel()

	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: s.config.Clock.Now().UTC(),
	}
	log := s.logger.With("run_id", report.RunID)
	log.Debug("scan cycle started")

	if s.config.Identities != nil {
		if err := s.config.Identities.RefreshIfStale(ctx); err != nil {
			log.Warn("identity refresh failed", "error", err)
		}
	}

	files, err := s.config.Discoverer.Discover(ctx)
	if err != nil {
		report.FinishedAt = s.config.Clock.Now().UTC()
		s.config.Metrics.ObserveCycle(metrics.CycleFailed, report.Duration(), report.FinishedAt)
		return report, fmt.Errorf("discovery failed: %w", err)
	}
	report.Files = len(files)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.config.Workers)
	runCtx := scanner.WithRunID(ctx, report.RunID)

	for _, f := range files {
		g.Go(func() error {
			out := s.scanOne(runCtx, f)

			mu.Lock()
			report.record(out)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = s.config.Clock.Now().UTC()

	outcome := metrics.CycleOK
	if len(report.Errors) > 0 {
		outcome = metrics.CycleFileErrors
	}
	s.config.Metrics.ObserveCycle(outcome, report.Duration(), report.FinishedAt)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	log.Info("scan cycle complete",
		"files", report.Files,
		"scanned", report.Scanned,
		"unchanged", report.Unchanged,
		"skipped", report.Skipped,
		"events", report.Events,
		"lines_skipped", report.LinesSkipped)

	return report, nil
}

// fileOutcome is the result of one worker.
type fileOutcome struct {
	result scanner.Result
	err    *FileError
}

func (r *Report) record(out fileOutcome) {
	if out.err != nil {
		r.Skipped++
		r.Errors = append(r.Errors, *out.err)
		return
	}

	r.LinesSkipped += out.result.Skipped
	if out.result.Rotated {
		r.Rotated++
	}
	if out.result.Committed {
		r.Scanned++
		r.Events += out.result.Events
	} else {
		r.Unchanged++
	}
}

func (s *Scheduler) scanOne(ctx context.Context, f discovery.LogFile) fileOutcome {
	fail := func(kind string, err error) fileOutcome {
		s.logger.Warn("file scan failed",
			"path", f.Path,
			"kind", kind,
			"error", err)
		s.config.Metrics.ObserveFile(metrics.FileObservation{
			Provider: f.Provider.String(),
			Outcome:  metrics.FileError,
		})
		return fileOutcome{err: &FileError{
			Path:     f.Path,
			Provider: f.Provider,
			Kind:     kind,
			Message:  err.Error(),
			Err:      err,
		}}
	}

	if err := ctx.Err(); err != nil {
		return fail(classify(err), err)
	}

	state, err := s.config.Store.EnsureFileState(ctx, f.Path, f.Provider)
	if err != nil {
		return fail(KindState, err)
	}

	fileCtx, cancel := context.WithTimeout(ctx, s.config.FileBudget)
	defer cancel()

	res, err := s.config.Scanner.ScanFile(fileCtx, state)
	if err != nil {
		out := fail(classify(err), err)
		out.result = res
		return out
	}

	outcome := metrics.FileIdle
	if res.Committed {
		outcome = metrics.FileScanned
	}
	s.config.Metrics.ObserveFile(metrics.FileObservation{
		Provider: f.Provider.String(),
		Outcome:  outcome,
		Events:   res.Events,
		Skipped:  res.Skipped,
		Rotated:  res.Rotated,
		Deltas:   res.Deltas,
	})
	return fileOutcome{result: res}
}

// mergeDone returns a context canceled when either a or b is done.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
