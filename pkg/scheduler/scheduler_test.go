package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/0xmhha/token-rollup/pkg/discovery"
	"github.com/0xmhha/token-rollup/pkg/logger"
	"github.com/0xmhha/token-rollup/pkg/metrics"
	"github.com/0xmhha/token-rollup/pkg/parser"
	"github.com/0xmhha/token-rollup/pkg/scanner"
	"github.com/0xmhha/token-rollup/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticDiscoverer struct {
	files []discovery.LogFile
	err   error
}

func (d *staticDiscoverer) Discover(context.Context) ([]discovery.LogFile, error) {
	return d.files, d.err
}

func (d *staticDiscoverer) Roots() []discovery.Root { return nil }

type fakeStore struct {
	pingErr error
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) EnsureFileState(_ context.Context, path string, provider parser.Provider) (store.FileState, error) {
	return store.FileState{Path: path, Provider: provider}, nil
}

// blockingScanner parks every scan until release is closed or the scan's
// context ends.
type blockingScanner struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingScanner() *blockingScanner {
	return &blockingScanner{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingScanner) ScanFile(ctx context.Context, st store.FileState) (scanner.Result, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return scanner.Result{State: st, Committed: true, Events: 1}, nil
	case <-ctx.Done():
		return scanner.Result{State: st}, ctx.Err()
	}
}

type funcScanner func(ctx context.Context, st store.FileState) (scanner.Result, error)

func (f funcScanner) ScanFile(ctx context.Context, st store.FileState) (scanner.Result, error) {
	return f(ctx, st)
}

type failingRefresher struct{ calls int }

func (f *failingRefresher) RefreshIfStale(context.Context) error {
	f.calls++
	return errors.New("identity source down")
}

func oneFile() *staticDiscoverer {
	return &staticDiscoverer{files: []discovery.LogFile{{Path: "/logs/a.jsonl", Provider: parser.ProviderJSONL}}}
}

func newScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewMock(t)
	}
	s, err := New(cfg, logger.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Store: &fakeStore{}, Scanner: newBlockingScanner()}, logger.Noop())
	assert.Error(t, err)
	_, err = New(Config{Discoverer: oneFile(), Scanner: newBlockingScanner()}, logger.Noop())
	assert.Error(t, err)
	_, err = New(Config{Discoverer: oneFile(), Store: &fakeStore{}}, logger.Noop())
	assert.Error(t, err)

	s := newScheduler(t, Config{Discoverer: oneFile(), Store: &fakeStore{}, Scanner: newBlockingScanner()})
	assert.Equal(t, DefaultInterval, s.config.Interval)
	assert.Equal(t, DefaultWorkers, s.config.Workers)
	assert.Equal(t, DefaultFileBudget, s.config.FileBudget)
	assert.Equal(t, DefaultCycleBudget, s.config.CycleBudget)
}

func TestRunCycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(logs, 0700))

	line := `{"timestamp":"2025-01-15T10:05:00Z","session_id":"S1","input_tokens":100,"output_tokens":50}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(logs, "a.jsonl"), []byte(line), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "b.jsonl"), []byte(line+"garbage\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "c.jsonl"), nil, 0600))

	st, err := store.Open(store.Config{Path: filepath.Join(dir, "rollup.db")}, logger.Noop())
	require.NoError(t, err)
	defer st.Close()

	clock := quartz.NewMock(t)
	sc, err := scanner.New(scanner.Config{Store: st, Registry: parser.DefaultRegistry(), Clock: clock}, logger.Noop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	s := newScheduler(t, Config{
		Discoverer: discovery.New([]discovery.Root{{Provider: parser.ProviderJSONL, Path: logs}}, logger.Noop()),
		Store:      st,
		Scanner:    sc,
		Metrics:    metrics.New(reg),
		Clock:      clock,
		Workers:    2,
	})

	_, ok := s.LastReport()
	assert.False(t, ok)

	first, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, 3, first.Files)
	assert.Equal(t, 2, first.Scanned)
	assert.Equal(t, 1, first.Unchanged)
	assert.Equal(t, 2, first.Events)
	assert.Equal(t, 1, first.LinesSkipped)
	assert.Empty(t, first.Errors)

	state, err := st.FileState(ctx, filepath.Join(logs, "a.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, first.RunID, state.LastRunID)

	second, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Zero(t, second.Scanned)
	assert.Equal(t, 3, second.Unchanged)

	last, ok := s.LastReport()
	require.True(t, ok)
	assert.Equal(t, second.RunID, last.RunID)

	records, err := st.Buckets(ctx, store.Range{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(200), records[0].Value.TokensIn)

	n, err := promtest.GatherAndCount(reg, "token_rollup_scan_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	bs := newBlockingScanner()
	s := newScheduler(t, Config{Discoverer: oneFile(), Store: &fakeStore{}, Scanner: bs})

	done := make(chan Report, 1)
	go func() {
		r, err := s.RunCycle(ctx)
		assert.NoError(t, err)
		done <- r
	}()
	<-bs.entered
	assert.True(t, s.Running())

	res, err := s.TriggerScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, TriggerResult{Started: false, Reason: ReasonAlreadyRunning}, res)

	_, err = s.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(bs.release)
	first := <-done
	assert.Equal(t, 1, first.Scanned)
	assert.False(t, s.Running())

	res, err = s.TriggerScan(ctx)
	require.NoError(t, err)
	assert.True(t, res.Started)

	require.Eventually(t, func() bool {
		r, ok := s.LastReport()
		return ok && r.RunID != first.RunID && !s.Running()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTriggerScan_StorageUnavailable(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{pingErr: store.ErrClosed}
	scans := 0
	s := newScheduler(t, Config{
		Discoverer: oneFile(),
		Store:      fs,
		Scanner: funcScanner(func(_ context.Context, st store.FileState) (scanner.Result, error) {
			scans++
			return scanner.Result{State: st}, nil
		}),
	})

	res, err := s.TriggerScan(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.False(t, res.Started)
	assert.False(t, s.Running(), "flag is released after a failed preflight")
	assert.Zero(t, scans)

	fs.pingErr = nil
	_, err = s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scans)
}

func TestRunCycle_FileErrorsAreContained(t *testing.T) {
	ctx := context.Background()
	disc := &staticDiscoverer{files: []discovery.LogFile{
		{Path: "/logs/bad.jsonl", Provider: parser.ProviderJSONL},
		{Path: "/logs/commit.jsonl", Provider: parser.ProviderJSONL},
		{Path: "/logs/good.jsonl", Provider: parser.ProviderJSONL},
	}}
	s := newScheduler(t, Config{
		Discoverer: disc,
		Store:      &fakeStore{},
		Scanner: funcScanner(func(_ context.Context, st store.FileState) (scanner.Result, error) {
			switch st.Path {
			case "/logs/bad.jsonl":
				return scanner.Result{State: st}, scanner.ErrIO
			case "/logs/commit.jsonl":
				return scanner.Result{State: st}, store.ErrCommit
			}
			return scanner.Result{State: st, Committed: true, Events: 4, Skipped: 1, Rotated: true}, nil
		}),
		Identities: &failingRefresher{},
	})

	report, err := s.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Files)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 4, report.Events)
	assert.Equal(t, 1, report.LinesSkipped)
	assert.Equal(t, 1, report.Rotated)
	require.Len(t, report.Errors, 2)

	kinds := map[string]string{}
	for _, fe := range report.Errors {
		kinds[fe.Path] = fe.Kind
	}
	assert.Equal(t, KindIO, kinds["/logs/bad.jsonl"])
	assert.Equal(t, KindCommit, kinds["/logs/commit.jsonl"])
	assert.ErrorIs(t, report.Errors[0], report.Errors[0].Err)
}

func TestRunCycle_FileBudget(t *testing.T) {
	s := newScheduler(t, Config{
		Discoverer: oneFile(),
		Store:      &fakeStore{},
		Scanner: funcScanner(func(ctx context.Context, st store.FileState) (scanner.Result, error) {
			<-ctx.Done()
			return scanner.Result{State: st}, ctx.Err()
		}),
		FileBudget: 10 * time.Millisecond,
	})

	report, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, KindTimeout, report.Errors[0].Kind)
}

func TestRunCycle_DiscoveryFailure(t *testing.T) {
	s := newScheduler(t, Config{
		Discoverer: &staticDiscoverer{err: errors.New("permission denied")},
		Store:      &fakeStore{},
		Scanner:    newBlockingScanner(),
	})

	_, err := s.RunCycle(context.Background())
	assert.Error(t, err)
	assert.False(t, s.Running())
}

func TestStart_Ticker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTicker("scheduler")
	defer trap.Close()

	var (
		mu    sync.Mutex
		scans int
	)
	s := newScheduler(t, Config{
		Discoverer: oneFile(),
		Store:      &fakeStore{},
		Scanner: funcScanner(func(_ context.Context, st store.FileState) (scanner.Result, error) {
			mu.Lock()
			scans++
			mu.Unlock()
			return scanner.Result{State: st, Committed: true}, nil
		}),
		Clock:    clock,
		Interval: time.Minute,
	})

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(ctx) }()

	call := trap.MustWait(ctx)
	assert.Equal(t, time.Minute, call.Duration)
	call.MustRelease(ctx)
	require.NoError(t, <-startErr)

	mu.Lock()
	assert.Zero(t, scans, "no cycle before the first tick")
	mu.Unlock()

	clock.Advance(time.Minute).MustWait(ctx)
	require.Eventually(t, func() bool {
		_, ok := s.LastReport()
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, s.Start(ctx), ErrStarted)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Start(ctx), ErrClosed)
}

func TestStart_RunOnStart(t *testing.T) {
	s := newScheduler(t, Config{
		Discoverer: oneFile(),
		Store:      &fakeStore{},
		Scanner: funcScanner(func(_ context.Context, st store.FileState) (scanner.Result, error) {
			return scanner.Result{State: st, Committed: true}, nil
		}),
		RunOnStart: true,
	})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		r, ok := s.LastReport()
		return ok && r.Scanned == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunCycle_CanceledAfterDiscovery(t *testing.T) {
	bs := newBlockingScanner()
	s := newScheduler(t, Config{Discoverer: oneFile(), Store: &fakeStore{}, Scanner: bs})

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		report Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.RunCycle(ctx)
		done <- outcome{r, err}
	}()

	<-bs.entered
	cancel()

	out := <-done
	require.NoError(t, out.err)
	require.Len(t, out.report.Errors, 1)
	assert.Equal(t, KindCanceled, out.report.Errors[0].Kind)
	assert.Equal(t, 0, out.report.Scanned)
}

func TestClose_CancelsBackgroundCycle(t *testing.T) {
	bs := newBlockingScanner()
	s := newScheduler(t, Config{Discoverer: oneFile(), Store: &fakeStore{}, Scanner: bs})

	res, err := s.TriggerScan(context.Background())
	require.NoError(t, err)
	require.True(t, res.Started)
	<-bs.entered

	require.NoError(t, s.Close())
	assert.False(t, s.Running())

	report, ok := s.LastReport()
	require.True(t, ok)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, KindCanceled, report.Errors[0].Kind)

	_, err = s.TriggerScan(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
