package query

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/quartz"
	"github.com/samber/lo"

	"github.com/0xmhha/token-rollup/pkg/identity"
	"github.com/0xmhha/token-rollup/pkg/logger"
	"github.com/0xmhha/token-rollup/pkg/metrics"
	"github.com/0xmhha/token-rollup/pkg/store"
)

type cacheKey struct {
	filter     Filter
	start, end int64
}

// Service answers bucket queries.
type Service struct {
	config Config
	logger logger.Logger
	clock  quartz.Clock

	mu    sync.Mutex
	cache map[cacheKey]Result
}

// New creates a query service.
func New(cfg Config, log logger.Logger) (*Service, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.CacheEntries <= 0 {
		cfg.CacheEntries = DefaultCacheEntries
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Service{
		config: cfg,
		logger: log.With("component", "query"),
		clock:  cfg.Clock,
		cache:  make(map[cacheKey]Result),
	}, nil
}

// Query returns the buckets in r that match f, ordered by bucket start,
// then provider, then session id.
//
// If storage fails and an earlier call with the same filter and range
// succeeded, that answer is returned with Stale set and a nil error.
func (s *Service) Query(ctx context.Context, f Filter, r Range) (Result, error) {
	start := s.clock.Now()

	if !r.End.IsZero() && r.End.Before(r.Start) {
		s.config.Metrics.ObserveQuery(metrics.QueryFailed, s.clock.Since(start))
		return Result{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, r.Start, r.End)
	}

	s.refreshIdentities(ctx)

	key := cacheKey{filter: f, start: r.Start.UnixNano(), end: r.End.UnixNano()}

	records, err := s.config.Store.Buckets(ctx, r)
	if err != nil {
		if ctx.Err() == nil {
			if cached, ok := s.cached(key); ok {
				s.logger.Warn("storage read failed, serving stale result",
					"error", err,
					"as_of", cached.AsOf)
				cached.Stale = true
				s.config.Metrics.ObserveQuery(metrics.QueryStale, s.clock.Since(start))
				return cached, nil
			}
		}
		s.config.Metrics.ObserveQuery(metrics.QueryFailed, s.clock.Since(start))
		return Result{}, fmt.Errorf("failed to read buckets: %w", err)
	}

	rows := lo.FilterMap(records, func(rec store.BucketRecord, _ int) (Row, bool) {
		row := s.join(rec)
		return row, f.matches(row)
	})
	sortRows(rows)

	res := Result{Rows: rows, AsOf: s.clock.Now()}
	s.remember(key, res)
	s.config.Metrics.ObserveQuery(metrics.QueryOK, s.clock.Since(start))
	return res, nil
}

func (s *Service) refreshIdentities(ctx context.Context) {
	if s.config.Identities == nil {
		return
	}
	if err := s.config.Identities.RefreshIfStale(ctx); err != nil {
		s.logger.Warn("identity refresh failed, using cached identities", "error", err)
	}
}

func (s *Service) join(rec store.BucketRecord) Row {
	row := Row{
		SessionID:        rec.Key.SessionID,
		Provider:         rec.Key.Provider,
		BucketStart:      rec.Key.Start,
		TokensIn:         rec.Value.TokensIn,
		TokensOut:        rec.Value.TokensOut,
		CacheReadTokens:  rec.Value.CacheReadTokens,
		CacheWriteTokens: rec.Value.CacheWriteTokens,
		EventCount:       rec.Value.EventCount,
		LastUpdated:      rec.Value.LastUpdated,
		AgentName:        identity.UnknownAgent,
	}
	if s.config.Identities == nil {
		return row
	}
	if id, ok := s.config.Identities.Resolve(rec.Key.SessionID); ok {
		row.AgentName = id.AgentName
		row.ProjectPath = id.ProjectPath
		row.Resolved = true
	}
	return row
}

func (s *Service) cached(key cacheKey) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.cache[key]
	if !ok {
		return Result{}, false
	}
	res.Rows = append([]Row(nil), res.Rows...)
	return res, true
}

func (s *Service) remember(key cacheKey, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[key]; !exists && len(s.cache) >= s.config.CacheEntries {
		oldest := lo.MinBy(lo.Keys(s.cache), func(a, b cacheKey) bool {
			return s.cache[a].AsOf.Before(s.cache[b].AsOf)
		})
		delete(s.cache, oldest)
	}
	res.Rows = append([]Row(nil), res.Rows...)
	s.cache[key] = res
}

func (f Filter) matches(row Row) bool {
	if f.SessionID != "" && row.SessionID != f.SessionID {
		return false
	}
	if f.Agent != "" && row.AgentName != f.Agent {
		return false
	}
	if f.Project != "" && row.ProjectPath != f.Project {
		return false
	}
	return true
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.BucketStart.Equal(b.BucketStart) {
			return a.BucketStart.Before(b.BucketStart)
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.SessionID < b.SessionID
	})
}
