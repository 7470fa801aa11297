package identity

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/0xmhha/token-rollup/pkg/logger"
)

func newBoltStore(t *testing.T) *BoltStore {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "ids.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewBoltStore(db, logger.Noop())
	require.NoError(t, err)
	return s
}

func TestBoltStore_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newBoltStore(t)
	fixed := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Get(ctx, "S1")
	assert.ErrorIs(t, err, ErrIdentityNotFound)

	require.NoError(t, s.Put(ctx, SessionIdentity{SessionID: "S1", AgentName: "builder", ProjectPath: "/src/app"}))
	require.NoError(t, s.Put(ctx, SessionIdentity{SessionID: "S2", AgentName: "architect"}))

	got, err := s.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "builder", got.AgentName)
	assert.Equal(t, "/src/app", got.ProjectPath)
	assert.True(t, fixed.Equal(got.LastSeenAt))

	require.NoError(t, s.Put(ctx, SessionIdentity{SessionID: "S1", AgentName: "reviewer"}))
	got, err = s.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "reviewer", got.AgentName)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "architect", list[0].AgentName)
	assert.Equal(t, "reviewer", list[1].AgentName)

	require.NoError(t, s.Delete(ctx, "S1"))
	require.NoError(t, s.Delete(ctx, "S1"), "deleting a missing identity is not an error")
	_, err = s.Get(ctx, "S1")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestBoltStore_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newBoltStore(t)

	assert.ErrorIs(t, s.Put(ctx, SessionIdentity{AgentName: "a"}), ErrEmptySessionID)
	assert.ErrorIs(t, s.Put(ctx, SessionIdentity{SessionID: "S1"}), ErrEmptyAgentName)
	assert.ErrorIs(t, s.Delete(ctx, ""), ErrEmptySessionID)
	_, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestSQLSource_Snapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "orchestrator.db")

	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE session_identities (
		session_id TEXT PRIMARY KEY,
		agent_name TEXT,
		project_path TEXT,
		last_seen_at TEXT
	)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO session_identities VALUES
		('S1', 'builder', '/src/app', '2025-01-15T10:00:00Z'),
		('S2', 'architect', NULL, '2025-01-15 11:30:00'),
		('S3', '', '/src/other', NULL)`)
	require.NoError(t, err)

	src, err := OpenSQLSource(dsn, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2, "rows without an agent name are skipped")

	assert.Equal(t, "builder", snap["S1"].AgentName)
	assert.Equal(t, "/src/app", snap["S1"].ProjectPath)
	assert.True(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC).Equal(snap["S1"].LastSeenAt))
	assert.Equal(t, "architect", snap["S2"].AgentName)
	assert.Empty(t, snap["S2"].ProjectPath)
	assert.True(t, time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC).Equal(snap["S2"].LastSeenAt))
}

func TestSQLSource_CustomQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "agents.db")

	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE agents (sid TEXT, name TEXT, cwd TEXT, seen INTEGER)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO agents VALUES ('S9', 'tester', '/w', 1736935200)`)
	require.NoError(t, err)

	src := NewSQLSource(db, `SELECT sid, name, cwd, seen FROM agents`)
	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, snap, "S9")
	assert.Equal(t, "tester", snap["S9"].AgentName)
	assert.Equal(t, int64(1736935200), snap["S9"].LastSeenAt.Unix())
}

func TestSQLSource_BadQuery(t *testing.T) {
	t.Parallel()

	src, err := OpenSQLSource(filepath.Join(t.TempDir(), "empty.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	_, err = src.Snapshot(context.Background())
	assert.Error(t, err, "missing table")
}

func TestOpenSQLSource_EmptyDSN(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLSource(" ", "")
	assert.Error(t, err)
}

type stubSource struct {
	snap  map[string]SessionIdentity
	err   error
	calls int
}

func (s *stubSource) Snapshot(context.Context) (map[string]SessionIdentity, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]SessionIdentity, len(s.snap))
	for k, v := range s.snap {
		out[k] = v
	}
	return out, nil
}

func TestResolver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := &stubSource{snap: map[string]SessionIdentity{}}
	r := NewResolver(ResolverConfig{Source: src}, logger.Noop())

	id, ok := r.Resolve("S1")
	assert.False(t, ok)
	assert.Equal(t, Unknown("S1"), id)

	// Identity arrives after the session has been seen.
	src.snap["S1"] = SessionIdentity{SessionID: "S1", AgentName: "builder"}
	require.NoError(t, r.Refresh(ctx))

	id, ok = r.Resolve("S1")
	assert.True(t, ok)
	assert.Equal(t, "builder", id.AgentName)
	assert.Equal(t, 1, r.Len())

	// A failing source keeps the last good snapshot.
	src.err = errors.New("source down")
	assert.Error(t, r.Refresh(ctx))
	_, ok = r.Resolve("S1")
	assert.True(t, ok)
}

func TestResolver_RefreshIfStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := quartz.NewMock(t)
	src := &stubSource{snap: map[string]SessionIdentity{}}
	r := NewResolver(ResolverConfig{
		Source:          src,
		RefreshInterval: time.Minute,
		Clock:           clock,
	}, logger.Noop())

	require.NoError(t, r.RefreshIfStale(ctx))
	assert.Equal(t, 1, src.calls, "first call always loads")

	require.NoError(t, r.RefreshIfStale(ctx))
	assert.Equal(t, 1, src.calls)

	clock.Advance(time.Minute)
	require.NoError(t, r.RefreshIfStale(ctx))
	assert.Equal(t, 2, src.calls)
}

func TestResolver_Invalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := quartz.NewMock(t)
	src := &stubSource{snap: map[string]SessionIdentity{}}
	r := NewResolver(ResolverConfig{
		Source:          src,
		RefreshInterval: time.Hour,
		Clock:           clock,
	}, logger.Noop())

	require.NoError(t, r.RefreshIfStale(ctx))
	src.snap["S1"] = SessionIdentity{SessionID: "S1", AgentName: "builder"}

	r.Invalidate()
	_, ok := r.Resolve("S1")
	assert.False(t, ok, "old snapshot answers until the reload")

	require.NoError(t, r.RefreshIfStale(ctx))
	assert.Equal(t, 2, src.calls)
	id, ok := r.Resolve("S1")
	assert.True(t, ok)
	assert.Equal(t, "builder", id.AgentName)
}

func TestResolver_NoSource(t *testing.T) {
	t.Parallel()

	r := NewResolver(ResolverConfig{}, logger.Noop())
	assert.ErrorIs(t, r.Refresh(context.Background()), ErrNoSource)
}
