package monitor

import (
	"context"
	"sync"

	"github.com/coder/quartz"

	"github.com/0xmhha/token-rollup/pkg/logger"
	"github.com/0xmhha/token-rollup/pkg/query"
)

// Monitor publishes periodic usage updates.
type Monitor struct {
	config Config
	logger logger.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	updates chan Update
	last    *Update

	// Owned by the refresh goroutine.
	baseline *query.Summary
}

// New creates a live monitor.
//
// Parameters:
//   - cfg: Monitor configuration
//   - log: Logger instance
//
// Returns:
//   - Configured Monitor
//   - Error if configuration is invalid
func New(cfg Config, log logger.Logger) (*Monitor, error) {
	if cfg.Querier == nil {
		return nil, ErrNoQuerier
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if log == nil {
		log = logger.Noop()
	}

	return &Monitor{
		config:  cfg,
		logger:  log.With("component", "monitor"),
		updates: make(chan Update, updateBuffer),
	}, nil
}

// Start queries once immediately and then on every refresh until ctx is
// done or Close is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMonitorClosed
	}
	if m.running {
		return ErrMonitorRunning
	}
	m.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	ticker := m.config.Clock.NewTicker(m.config.RefreshInterval, "monitor", "refresh")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()

		m.refresh(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.refresh(loopCtx)
			}
		}
	}()

	m.logger.Info("live monitor started",
		"refresh_interval", m.config.RefreshInterval,
		"filter", m.config.Filter)
	return nil
}

// Updates returns the channel updates are published on. It is closed by
// Close.
func (m *Monitor) Updates() <-chan Update {
	return m.updates
}

// Last returns the most recent update.
func (m *Monitor) Last() (Update, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last == nil {
		return Update{}, false
	}
	return *m.last, true
}

func (m *Monitor) refresh(ctx context.Context) {
	res, err := m.config.Querier.Query(ctx, m.config.Filter, m.config.Range)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("live query failed", "error", err)
		}
		return
	}

	totals := query.Totals(res.Rows)
	update := Update{
		Timestamp: m.config.Clock.Now(),
		Result:    res,
		Totals:    totals,
	}

	if m.baseline == nil {
		m.baseline = &totals
	}
	update.Cumulative = diff(totals, *m.baseline)

	m.mu.Lock()
	if prev := m.last; prev != nil {
		update.Delta = diff(totals, prev.Totals)
		if elapsed := update.Timestamp.Sub(prev.Timestamp); elapsed > 0 {
			update.BurnRate = float64(update.Delta.TotalTokens) / elapsed.Minutes()
		}
	}
	m.last = &update
	m.mu.Unlock()

	select {
	case m.updates <- update:
	default:
		m.logger.Warn("updates channel full, dropping update")
	}
}

// Close stops the monitor and closes the updates channel. It is safe to
// call more than once.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	close(m.updates)

	m.logger.Info("live monitor closed")
	return nil
}
