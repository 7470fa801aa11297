// Package engine assembles the token-rollup components into one process-wide
// value.
//
// An Engine owns the bbolt store, the identity source and resolver, the
// parser registry, the scanner, the scheduler, the optional file watcher
// and the query service. It is constructed once with New, started with
// Start and torn down with Close; nothing lives in package globals.
//
// Example usage:
//
//	e, err := engine.New(cfg, log, engine.Options{Registerer: prometheus.DefaultRegisterer})
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	if err := e.Start(ctx); err != nil {
//	    return err
//	}
//	res, err := e.Query(ctx, query.Filter{Agent: "reviewer"}, query.Range{Start: since})
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/0xmhha/token-rollup/pkg/config"
	"github.com/0xmhha/token-rollup/pkg/discovery"
	"github.com/0xmhha/token-rollup/pkg/identity"
	"github.com/0xmhha/token-rollup/pkg/logger"
	"github.com/0xmhha/token-rollup/pkg/metrics"
	"github.com/0xmhha/token-rollup/pkg/parser"
	"github.com/0xmhha/token-rollup/pkg/query"
	"github.com/0xmhha/token-rollup/pkg/scanner"
	"github.com/0xmhha/token-rollup/pkg/scheduler"
	"github.com/0xmhha/token-rollup/pkg/store"
	"github.com/0xmhha/token-rollup/pkg/watcher"
)

var (
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("engine is closed")

	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("engine already started")
)

// Options are the parts of an engine that are not configuration.
type Options struct {
	// Registerer receives the Prometheus collectors. Nil disables metrics.
	Registerer prometheus.Registerer

	// Clock drives the scheduler, watcher and resolver. Defaults to the
	// real clock.
	Clock quartz.Clock

	// Registry overrides the built-in parsers.
	Registry *parser.Registry

	// IdentitySource overrides the configured identity source.
	IdentitySource identity.Source

	// CommitHook is passed to the store. Tests use it to interrupt
	// commits.
	CommitHook func(store.CommitStage) error
}

// Engine is the assembled aggregation engine.
type Engine struct {
	config *config.Config
	logger logger.Logger
	base   logger.Logger
	clock  quartz.Clock

	store      *store.Store
	identities *identity.BoltStore
	sqlSource  *identity.SQLSource
	resolver   *identity.Resolver
	discoverer discovery.Discoverer
	scheduler  *scheduler.Scheduler
	query      *query.Service
	metrics    *metrics.Metrics

	mu      sync.Mutex
	started bool
	closed  bool
	watcher *watcher.Watcher
}

// New builds an engine from a validated configuration. Nothing runs until
// Start; RunCycle, TriggerScan and Query work without it.
//
// Parameters:
//   - cfg: Application configuration
//   - log: Logger instance
//   - opts: Non-configuration dependencies
//
// Returns:
//   - Assembled Engine
//   - Error if the configuration is invalid or storage cannot be opened
func New(cfg *config.Config, log logger.Logger, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = logger.Noop()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Registry == nil {
		opts.Registry = parser.DefaultRegistry()
	}

	e := &Engine{
		config: cfg,
		logger: log.With("component", "engine"),
		base:   log,
		clock:  opts.Clock,
	}

	st, err := store.Open(store.Config{
		Path:       store.ExpandHome(cfg.Storage.DBPath),
		Timeout:    cfg.Storage.Timeout,
		CommitHook: opts.CommitHook,
	}, log.With("component", "store"))
	if err != nil {
		return nil, err
	}
	e.store = st

	if err := e.build(cfg, log, opts); err != nil {
		_ = e.closeResources()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(cfg *config.Config, log logger.Logger, opts Options) error {
	ids, err := identity.NewBoltStore(e.store.DB(), log.With("component", "identity"))
	if err != nil {
		return err
	}
	e.identities = ids

	source := opts.IdentitySource
	if source == nil {
		switch cfg.Identity.Source {
		case config.IdentitySourceSQLite:
			sqlSource, err := identity.OpenSQLSource(cfg.Identity.SQLiteDSN, cfg.Identity.SQLiteQuery)
			if err != nil {
				return err
			}
			e.sqlSource = sqlSource
			source = sqlSource
		default:
			source = ids
		}
	}

	e.resolver = identity.NewResolver(identity.ResolverConfig{
		Source:          source,
		RefreshInterval: cfg.Identity.RefreshInterval,
		Clock:           opts.Clock,
	}, log.With("component", "resolver"))

	if opts.Registerer != nil {
		e.metrics = metrics.New(opts.Registerer)
	}

	sc, err := scanner.New(scanner.Config{
		Store:        e.store,
		Registry:     opts.Registry,
		MaxReadBytes: cfg.Scan.MaxReadBytes,
		Clock:        opts.Clock,
	}, log.With("component", "scanner"))
	if err != nil {
		return err
	}

	e.discoverer = discovery.New(Roots(cfg), log.With("component", "discovery"))

	e.scheduler, err = scheduler.New(scheduler.Config{
		Discoverer:  e.discoverer,
		Store:       e.store,
		Scanner:     sc,
		Identities:  e.resolver,
		Metrics:     e.metrics,
		Clock:       opts.Clock,
		Interval:    cfg.Scan.Interval,
		RunOnStart:  cfg.Scan.RunOnStart,
		Workers:     cfg.Scan.Workers,
		FileBudget:  cfg.Scan.FileBudget,
		CycleBudget: cfg.Scan.CycleBudget,
	}, log.With("component", "scheduler"))
	if err != nil {
		return err
	}

	e.query, err = query.New(query.Config{
		Store:      e.store,
		Identities: e.resolver,
		Metrics:    e.metrics,
		Clock:      opts.Clock,
	}, log)
	return err
}

// Roots flattens the configured providers into discovery roots.
func Roots(cfg *config.Config) []discovery.Root {
	var roots []discovery.Root
	for _, p := range cfg.Providers {
		for _, path := range lo.Compact(p.Roots) {
			roots = append(roots, discovery.Root{
				Name:     p.DisplayName(),
				Provider: p.Provider,
				Path:     path,
			})
		}
	}
	return roots
}

// Start runs the periodic scheduler and, when configured, the file
// watcher. Both stop when ctx is done or Close is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.started {
		return ErrStarted
	}

	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}
	e.started = true

	if e.config.Scan.Watch {
		e.startWatcher(ctx)
	}

	e.logger.Info("engine started",
		"db", e.store.Path(),
		"providers", len(e.config.Providers),
		"interval", e.config.Scan.Interval,
		"watch", e.watcher != nil)
	return nil
}

// startWatcher is best effort: without it scans still run on the ticker.
func (e *Engine) startWatcher(ctx context.Context) {
	w, err := watcher.New(watcher.Config{
		DebounceInterval: e.config.Scan.WatchDebounce,
		OnChange:         e.onChange,
		Clock:            e.clock,
	}, e.base)
	if err != nil {
		e.logger.Warn("file watcher unavailable", "error", err)
		return
	}

	paths := lo.Map(Roots(e.config), func(r discovery.Root, _ int) string {
		return store.ExpandHome(r.Path)
	})
	if err := w.Start(ctx, paths); err != nil {
		_ = w.Close()
		e.logger.Warn("file watcher not started", "error", err)
		return
	}
	e.watcher = w
}

func (e *Engine) onChange(ctx context.Context, batch []watcher.Event) {
	res, err := e.scheduler.TriggerScan(ctx)
	switch {
	case err != nil:
		e.logger.Warn("change-triggered scan failed", "error", err, "files", len(batch))
	case !res.Started:
		e.logger.Debug("change-triggered scan skipped", "reason", res.Reason, "files", len(batch))
	default:
		e.logger.Debug("change-triggered scan started", "files", len(batch))
	}
}

// TriggerScan starts a cycle in the background unless one is running.
func (e *Engine) TriggerScan(ctx context.Context) (scheduler.TriggerResult, error) {
	return e.scheduler.TriggerScan(ctx)
}

// RunCycle runs one cycle and waits for its report.
func (e *Engine) RunCycle(ctx context.Context) (scheduler.Report, error) {
	return e.scheduler.RunCycle(ctx)
}

// LastReport returns the report of the most recent cycle.
func (e *Engine) LastReport() (scheduler.Report, bool) {
	return e.scheduler.LastReport()
}

// Query returns aggregated rows. See query.Service.Query.
func (e *Engine) Query(ctx context.Context, f query.Filter, r query.Range) (query.Result, error) {
	return e.query.Query(ctx, f, r)
}

// FileStates returns the stored scan progress of every known file.
func (e *Engine) FileStates(ctx context.Context) ([]store.FileState, error) {
	return e.store.FileStates(ctx)
}

// Discover lists the log files currently under the configured roots.
func (e *Engine) Discover(ctx context.Context) ([]discovery.LogFile, error) {
	return e.discoverer.Discover(ctx)
}

// Stats summarizes the database contents.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.store.Stats(ctx)
}

// Identities returns the bbolt identity store for reads. Writes go through
// PutIdentity and DeleteIdentity so queries see them immediately.
func (e *Engine) Identities() *identity.BoltStore {
	return e.identities
}

// PutIdentity stores id in the bbolt identity store and invalidates the
// resolver snapshot.
func (e *Engine) PutIdentity(ctx context.Context, id identity.SessionIdentity) error {
	if err := e.identities.Put(ctx, id); err != nil {
		return err
	}
	e.resolver.Invalidate()
	return nil
}

// DeleteIdentity removes the identity of sessionID and invalidates the
// resolver snapshot.
func (e *Engine) DeleteIdentity(ctx context.Context, sessionID string) error {
	if err := e.identities.Delete(ctx, sessionID); err != nil {
		return err
	}
	e.resolver.Invalidate()
	return nil
}

// Close stops the watcher and the scheduler and closes storage. It is safe
// to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	w := e.watcher
	e.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	errs = append(errs, e.scheduler.Close())
	errs = append(errs, e.closeResources())

	e.logger.Info("engine closed")
	return errors.Join(errs...)
}

func (e *Engine) closeResources() error {
	var errs []error
	if e.sqlSource != nil {
		errs = append(errs, e.sqlSource.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
