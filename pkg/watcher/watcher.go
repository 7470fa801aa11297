package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"

	"github.com/0xmhha/token-rollup/pkg/logger"
)

// Default configuration values.
const (
	DefaultDebounceInterval        = 2 * time.Second
	DefaultCircuitBreakerThreshold = 5
)

// Watcher delivers debounced batches of log file changes.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger logger.Logger
	config Config
	clock  quartz.Clock

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debouncing state, guarded by mu.
	pending map[string]Event
	timer   *quartz.Timer
	ctx     context.Context

	// Circuit breaker state, guarded by mu.
	failureCount int
	tripped      bool
}

// New creates a watcher. Nothing is watched until Start.
//
// Parameters:
//   - cfg: Watcher configuration; OnChange is required
//   - log: Logger instance
//
// Returns:
//   - Configured Watcher
//   - Error if the callback is missing or fsnotify cannot be initialised
func New(cfg Config, log logger.Logger) (*Watcher, error) {
	if cfg.OnChange == nil {
		return nil, ErrNoCallback
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = DefaultCircuitBreakerThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if log == nil {
		log = logger.Noop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:     fsw,
		logger:  log.With("component", "watcher"),
		config:  cfg,
		clock:   cfg.Clock,
		pending: make(map[string]Event),
	}, nil
}

// Start watches every existing root recursively and begins delivering
// batches. Missing roots are skipped with a warning; if none exist Start
// returns ErrNoPaths.
func (w *Watcher) Start(ctx context.Context, roots []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.started {
		return ErrAlreadyStarted
	}

	watched := 0
	for _, root := range lo.Uniq(roots) {
		abs, err := filepath.Abs(root)
		if err != nil {
			w.logger.Warn("invalid watch root", "root", root, "error", err)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			w.logger.Warn("watch root unavailable", "root", abs, "error", err)
			continue
		}
		if !info.IsDir() {
			w.logger.Warn("watch root is not a directory", "root", abs)
			continue
		}
		if err := w.addPathRecursive(abs); err != nil {
			w.logger.Warn("failed to watch root", "root", abs, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		return ErrNoPaths
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.ctx = runCtx
	w.cancel = cancel
	w.started = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processEvents(runCtx)
	}()

	w.logger.Info("watcher started", "roots", watched, "debounce", w.config.DebounceInterval)
	return nil
}

// Pending returns the number of paths waiting for the debounce timer.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close stops watching, drops any pending batch and waits for an
// in-flight OnChange call to return. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = make(map[string]Event)
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.logger.Info("watcher closed")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.handleError(err) {
				return
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !isHidden(filepath.Base(event.Name)) {
				// Files written before the watch was added produce no
				// events of their own, so the new directory counts as a
				// change.
				if err := w.addPathRecursive(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
				w.debounce(Event{Path: event.Name, Op: OpCreate, Timestamp: w.clock.Now()})
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".jsonl") {
		return
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	w.debounce(Event{Path: event.Name, Op: op, Timestamp: w.clock.Now()})
}

// debounce records the event and restarts the quiet-period timer.
func (w *Watcher) debounce(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.pending[event.Path] = event
	// A successful event resets the breaker.
	w.failureCount = 0

	if w.timer != nil {
		w.timer.Reset(w.config.DebounceInterval, "watcher", "debounce")
		return
	}
	w.timer = w.clock.AfterFunc(w.config.DebounceInterval, w.flush, "watcher", "debounce")
}

// flush hands the pending batch to OnChange.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := lo.Values(w.pending)
	w.pending = make(map[string]Event)
	w.timer = nil
	ctx := w.ctx
	w.wg.Add(1)
	w.mu.Unlock()

	defer w.wg.Done()

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	w.logger.Debug("delivering change batch", "files", len(batch))
	w.config.OnChange(ctx, batch)
}

// handleError counts consecutive fsnotify errors and reports whether the
// circuit breaker tripped.
func (w *Watcher) handleError(err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.failureCount++
	w.logger.Error("fsnotify error", "error", err, "failure_count", w.failureCount)

	if w.failureCount < w.config.CircuitBreakerThreshold {
		return false
	}
	w.tripped = true
	w.logger.Error("watcher stopped, falling back to periodic scans",
		"error", ErrCircuitBreakerOpen,
		"threshold", w.config.CircuitBreakerThreshold)
	return true
}

// Tripped reports whether the circuit breaker stopped the watcher.
func (w *Watcher) Tripped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tripped
}

// addPathRecursive adds a directory and all non-hidden subdirectories.
func (w *Watcher) addPathRecursive(root string) error {
	if err := w.fsw.Add(root); err != nil {
		return fmt.Errorf("failed to add path: %w", err)
	}
	w.logger.Debug("added watch path", "path", root)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			w.logger.Warn("error walking path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			w.logger.Warn("failed to add subdirectory", "path", path, "error", addErr)
			return nil
		}
		w.logger.Debug("added watch subdirectory", "path", path)
		return nil
	})
}

func isHidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}
