// Package metrics exposes Prometheus collectors for scan cycles and queries.
//
// All methods are safe to call on a nil *Metrics, so components can run
// without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/0xmhha/token-rollup/pkg/bucket"
)

const namespace = "token_rollup"

// File outcomes recorded by ObserveFile.
const (
	FileScanned = "scanned"
	FileIdle    = "idle"
	FileError   = "error"
)

// Cycle outcomes recorded by ObserveCycle.
const (
	CycleOK             = "ok"
	CycleFileErrors     = "file_errors"
	CycleFailed         = "failed"
	CycleAlreadyRunning = "already_running"
)

// Query outcomes recorded by ObserveQuery.
const (
	QueryOK     = "ok"
	QueryStale  = "stale"
	QueryFailed = "failed"
)

// Metrics holds the collectors.
type Metrics struct {
	cyclesTotal    *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	lastCycle      prometheus.Gauge
	filesTotal     *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
	linesSkipped   *prometheus.CounterVec
	rotationsTotal *prometheus.CounterVec
	tokensTotal    *prometheus.CounterVec
	queriesTotal   *prometheus.CounterVec
	queryDuration  prometheus.Histogram
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	cyclesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "cycles_total",
			Help:      "Scan cycles by outcome.",
		},
		[]string{"outcome"},
	)
	registerer.MustRegister(cyclesTotal)

	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of completed scan cycles.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 240},
	})
	registerer.MustRegister(cycleDuration)

	lastCycle := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "last_cycle_timestamp_seconds",
		Help:      "Unix time the last scan cycle finished.",
	})
	registerer.MustRegister(lastCycle)

	filesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_total",
			Help:      "Per-file scans by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	registerer.MustRegister(filesTotal)

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "events_total",
			Help:      "Usage events committed.",
		},
		[]string{"provider"},
	)
	registerer.MustRegister(eventsTotal)

	linesSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "lines_skipped_total",
			Help:      "Lines skipped because they could not be parsed.",
		},
		[]string{"provider"},
	)
	registerer.MustRegister(linesSkipped)

	rotationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "rotations_total",
			Help:      "Files rescanned from the start after shrinking.",
		},
		[]string{"provider"},
	)
	registerer.MustRegister(rotationsTotal)

	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "tokens_total",
			Help:      "Tokens committed into buckets.",
		},
		[]string{"provider", "kind"},
	)
	registerer.MustRegister(tokensTotal)

	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "total",
			Help:      "Queries by outcome.",
		},
		[]string{"outcome"},
	)
	registerer.MustRegister(queriesTotal)

	queryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Query latency.",
		Buckets:   prometheus.DefBuckets,
	})
	registerer.MustRegister(queryDuration)

	return &Metrics{
		cyclesTotal:    cyclesTotal,
		cycleDuration:  cycleDuration,
		lastCycle:      lastCycle,
		filesTotal:     filesTotal,
		eventsTotal:    eventsTotal,
		linesSkipped:   linesSkipped,
		rotationsTotal: rotationsTotal,
		tokensTotal:    tokensTotal,
		queriesTotal:   queriesTotal,
		queryDuration:  queryDuration,
	}
}

// ObserveCycle records a finished (or refused) scan cycle.
func (m *Metrics) ObserveCycle(outcome string, took time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(outcome).Inc()
	if outcome == CycleAlreadyRunning {
		return
	}
	m.cycleDuration.Observe(took.Seconds())
	m.lastCycle.Set(float64(finished.Unix()))
}

// FileObservation is the per-file input of ObserveFile.
type FileObservation struct {
	Provider string
	Outcome  string
	Events   int
	Skipped  int
	Rotated  bool
	Deltas   map[bucket.Key]bucket.Delta
}

// ObserveFile records the scan of one file.
func (m *Metrics) ObserveFile(obs FileObservation) {
	if m == nil {
		return
	}
	m.filesTotal.WithLabelValues(obs.Provider, obs.Outcome).Inc()
	if obs.Events > 0 {
		m.eventsTotal.WithLabelValues(obs.Provider).Add(float64(obs.Events))
	}
	if obs.Skipped > 0 {
		m.linesSkipped.WithLabelValues(obs.Provider).Add(float64(obs.Skipped))
	}
	if obs.Rotated {
		m.rotationsTotal.WithLabelValues(obs.Provider).Inc()
	}

	var sum bucket.Delta
	for _, d := range obs.Deltas {
		sum.Merge(d)
	}
	for kind, n := range map[string]int64{
		"input":       sum.TokensIn,
		"output":      sum.TokensOut,
		"cache_read":  sum.CacheReadTokens,
		"cache_write": sum.CacheWriteTokens,
	} {
		if n > 0 {
			m.tokensTotal.WithLabelValues(obs.Provider, kind).Add(float64(n))
		}
	}
}

// ObserveQuery records one query. Stale results count separately from
// fresh ones.
func (m *Metrics) ObserveQuery(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(took.Seconds())
}
