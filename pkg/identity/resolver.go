package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/0xmhha/token-rollup/pkg/logger"
)

// ResolverConfig contains resolver configuration.
type ResolverConfig struct {
	// Source supplies identities.
	Source Source

	// RefreshInterval is the maximum age of the cached snapshot before
	// RefreshIfStale reloads it. Zero reloads on every call.
	RefreshInterval time.Duration

	// Clock defaults to the real clock.
	Clock quartz.Clock
}

// Resolver caches a snapshot of a Source and answers lookups from it.
// Lookups never touch the source, so a slow or unavailable source cannot
// block queries; they see the last good snapshot.
type Resolver struct {
	config ResolverConfig
	logger logger.Logger

	mu          sync.RWMutex
	cache       map[string]SessionIdentity
	refreshedAt time.Time
	loaded      bool
}

// NewResolver creates a resolver with an empty cache.
func NewResolver(cfg ResolverConfig, log logger.Logger) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	return &Resolver{
		config: cfg,
		logger: log,
		cache:  make(map[string]SessionIdentity),
	}
}

// Refresh replaces the cache with a new snapshot. On error the previous
// snapshot is kept.
func (r *Resolver) Refresh(ctx context.Context) error {
	if r.config.Source == nil {
		return ErrNoSource
	}

	snap, err := r.config.Source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh identities: %w", err)
	}

	r.mu.Lock()
	r.cache = snap
	r.refreshedAt = r.config.Clock.Now()
	r.loaded = true
	r.mu.Unlock()

	r.logger.Debug("identities refreshed", "count", len(snap))
	return nil
}

// RefreshIfStale refreshes when the snapshot is older than the refresh
// interval or was never loaded.
func (r *Resolver) RefreshIfStale(ctx context.Context) error {
	r.mu.RLock()
	fresh := r.loaded && r.config.RefreshInterval > 0 &&
		r.config.Clock.Since(r.refreshedAt) < r.config.RefreshInterval
	r.mu.RUnlock()

	if fresh {
		return nil
	}
	return r.Refresh(ctx)
}

// Invalidate marks the snapshot stale so the next RefreshIfStale reloads
// it. The current snapshot still answers Resolve until then.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
}

// Resolve returns the identity of sessionID. ok is false when the session
// has no identity yet; the returned identity is then Unknown(sessionID).
func (r *Resolver) Resolve(sessionID string) (SessionIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.cache[sessionID]
	if !ok {
		return Unknown(sessionID), false
	}
	return id, true
}

// Len returns the number of cached identities.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
