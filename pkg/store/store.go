package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/0xmhha/token-rollup/pkg/bucket"
	"github.com/0xmhha/token-rollup/pkg/logger"
	"github.com/0xmhha/token-rollup/pkg/parser"
)

// Bucket names.
var (
	bucketFileState   = []byte("log_file_state")     // Path -> FileState
	bucketAggregation = []byte("aggregation_bucket") // start|provider|session -> BucketValue
)

// Store is the BoltDB-backed offset and bucket store.
type Store struct {
	db     *bolt.DB
	logger logger.Logger
	config Config
	closed atomic.Bool
}

// Open opens (creating if needed) the database at cfg.Path.
//
// Parameters:
//   - cfg: Store configuration
//   - log: Logger instance
//
// Returns:
//   - Configured Store
//   - Error if the database cannot be opened or initialized
func Open(cfg Config, log logger.Logger) (*Store, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.Path == "" {
		return nil, errors.New("database path is empty")
	}

	dbPath := ExpandHome(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketFileState, bucketAggregation} {
			if _, createErr := tx.CreateBucketIfNotExists(name); createErr != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, createErr)
			}
		}
		return nil
	}); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close database after initialization error",
				"error", closeErr)
		}
		return nil, err
	}

	log.Info("store opened", "db_path", dbPath)

	return &Store{
		db:     db,
		logger: log,
		config: cfg,
	}, nil
}

// DB exposes the underlying database so that other components (the
// identity store) can keep their buckets in the same file.
func (s *Store) DB() *bolt.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.view(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketAggregation) == nil || tx.Bucket(bucketFileState) == nil {
			return fmt.Errorf("%w: missing buckets", ErrCorruptRecord)
		}
		return nil
	})
}

// Commit applies req.Deltas additively and writes req.State in one
// transaction. On any failure nothing is written and the returned error
// wraps ErrCommit.
func (s *Store) Commit(ctx context.Context, req CommitRequest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommit, req.State.Path, err)
	}
	if err := req.State.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}

	now := req.State.LastScannedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	keys := bucket.SortedKeys(req.Deltas)

	err := s.update(func(tx *bolt.Tx) error {
		agg := tx.Bucket(bucketAggregation)
		for _, k := range keys {
			d := req.Deltas[k]
			if d.IsZero() {
				continue
			}

			kb := encodeBucketKey(k)
			var v BucketValue
			if raw := agg.Get(kb); raw != nil {
				if err := json.Unmarshal(raw, &v); err != nil {
					return fmt.Errorf("%w: bucket %x: %w", ErrCorruptRecord, kb, err)
				}
			}
			v.apply(d, now)

			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal bucket: %w", err)
			}
			if err := agg.Put(kb, data); err != nil {
				return fmt.Errorf("failed to store bucket: %w", err)
			}
		}

		if s.config.CommitHook != nil {
			if err := s.config.CommitHook(StageBucketsWritten); err != nil {
				return err
			}
		}

		return putFileState(tx, req.State)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommit, req.State.Path, err)
	}

	s.logger.Debug("commit applied",
		"path", req.State.Path,
		"offset", req.State.ByteOffset,
		"buckets", len(keys))
	return nil
}

// FileState returns the stored state for path.
func (s *Store) FileState(ctx context.Context, path string) (FileState, error) {
	if err := ctx.Err(); err != nil {
		return FileState{}, err
	}

	var state FileState
	err := s.view(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFileState).Get([]byte(path))
		if data == nil {
			return ErrFileStateNotFound
		}
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("%w: file state %s: %w", ErrCorruptRecord, path, err)
		}
		return nil
	})
	if err != nil {
		return FileState{}, err
	}
	return state, nil
}

// FileStates returns every stored state ordered by path.
func (s *Store) FileStates(ctx context.Context) ([]FileState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var states []FileState
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFileState).ForEach(func(k, v []byte) error {
			var state FileState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("%w: file state %s: %w", ErrCorruptRecord, k, err)
			}
			states = append(states, state)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// EnsureFileState returns the state for path, creating a zero-offset state
// on first discovery. An existing state keeps its offset; only a changed
// provider tag is rewritten. An unchanged state is read without a write
// transaction.
func (s *Store) EnsureFileState(ctx context.Context, path string, provider parser.Provider) (FileState, error) {
	if err := ctx.Err(); err != nil {
		return FileState{}, err
	}

	state, err := s.FileState(ctx, path)
	switch {
	case err == nil && state.Provider == provider:
		return state, nil
	case err != nil && !errors.Is(err, ErrFileStateNotFound):
		return FileState{}, err
	}

	err = s.update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFileState).Get([]byte(path))
		if data != nil {
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("%w: file state %s: %w", ErrCorruptRecord, path, err)
			}
			if state.Provider == provider {
				return nil
			}
			state.Provider = provider
			return putFileState(tx, state)
		}

		state = FileState{Path: path, Provider: provider}
		return putFileState(tx, state)
	})
	if err != nil {
		return FileState{}, err
	}
	return state, nil
}

// Buckets returns the stored buckets whose start lies in r, ordered by
// (start, provider, session).
func (s *Store) Buckets(ctx context.Context, r Range) ([]BucketRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []BucketRecord
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAggregation).Cursor()
		for k, v := c.Seek(encodeStart(r.Start)); k != nil; k, v = c.Next() {
			key, err := decodeBucketKey(k)
			if err != nil {
				return err
			}
			if !r.End.IsZero() && !key.Start.Before(r.End) {
				break
			}

			var val BucketValue
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("%w: bucket %x: %w", ErrCorruptRecord, k, err)
			}
			out = append(out, BucketRecord{Key: key, Value: val})

			if len(out)%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats counts stored file states and buckets.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	var st Stats
	err := s.view(func(tx *bolt.Tx) error {
		st.Files = tx.Bucket(bucketFileState).Stats().KeyN
		st.Buckets = tx.Bucket(bucketAggregation).Stats().KeyN
		return nil
	})
	return st, err
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return closedErr(s.db.View(fn))
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return closedErr(s.db.Update(fn))
}

func closedErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func putFileState(tx *bolt.Tx, state FileState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal file state: %w", err)
	}
	if err := tx.Bucket(bucketFileState).Put([]byte(state.Path), data); err != nil {
		return fmt.Errorf("failed to store file state: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
