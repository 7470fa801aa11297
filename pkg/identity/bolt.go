package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/0xmhha/token-rollup/pkg/logger"
)

var bucketIdentity = []byte("session_identity") // SessionID -> SessionIdentity

// BoltStore keeps identities in a bolt bucket.
type BoltStore struct {
	db     *bolt.DB
	logger logger.Logger
	now    func() time.Time
}

// NewBoltStore creates the identity bucket in db if needed.
//
// Parameters:
//   - db: Open BoltDB database, usually the engine store's
//   - log: Logger instance
//
// Returns:
//   - Configured BoltStore
//   - Error if the bucket cannot be created
func NewBoltStore(db *bolt.DB, log logger.Logger) (*BoltStore, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(bucketIdentity)
		return createErr
	}); err != nil {
		return nil, fmt.Errorf("failed to create identity bucket: %w", err)
	}

	return &BoltStore{
		db:     db,
		logger: log,
		now:    time.Now,
	}, nil
}

// Put creates or replaces the identity of id.SessionID. A zero LastSeenAt
// is set to the current time.
func (s *BoltStore) Put(ctx context.Context, id SessionIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := id.Validate(); err != nil {
		return err
	}
	if id.LastSeenAt.IsZero() {
		id.LastSeenAt = s.now().UTC()
	}

	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put([]byte(id.SessionID), data)
	}); err != nil {
		return fmt.Errorf("failed to store identity: %w", err)
	}

	s.logger.Info("identity stored",
		"session_id", id.SessionID,
		"agent", id.AgentName)
	return nil
}

// Get returns the identity of sessionID.
//
// Returns:
//   - The identity if found
//   - ErrIdentityNotFound if not found
//   - Error for database failures
func (s *BoltStore) Get(ctx context.Context, sessionID string) (SessionIdentity, error) {
	if err := ctx.Err(); err != nil {
		return SessionIdentity{}, err
	}
	if sessionID == "" {
		return SessionIdentity{}, ErrEmptySessionID
	}

	var id SessionIdentity
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get([]byte(sessionID))
		if data == nil {
			return ErrIdentityNotFound
		}
		if unmarshalErr := json.Unmarshal(data, &id); unmarshalErr != nil {
			return fmt.Errorf("failed to unmarshal identity: %w", unmarshalErr)
		}
		return nil
	})
	if err != nil {
		return SessionIdentity{}, err
	}
	return id, nil
}

// Delete removes the identity of sessionID. Deleting a missing identity is
// not an error.
func (s *BoltStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return ErrEmptySessionID
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentity).Delete([]byte(sessionID))
	}); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	s.logger.Info("identity deleted", "session_id", sessionID)
	return nil
}

// List returns every identity ordered by agent name, then session id.
func (s *BoltStore) List(ctx context.Context) ([]SessionIdentity, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]SessionIdentity, 0, len(snap))
	for _, id := range snap {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentName != out[j].AgentName {
			return out[i].AgentName < out[j].AgentName
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

// Snapshot implements Source.Snapshot.
func (s *BoltStore) Snapshot(ctx context.Context) (map[string]SessionIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]SessionIdentity)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentity).ForEach(func(k, v []byte) error {
			var id SessionIdentity
			if unmarshalErr := json.Unmarshal(v, &id); unmarshalErr != nil {
				s.logger.Warn("failed to unmarshal identity",
					"session_id", string(k),
					"error", unmarshalErr)
				return nil // Skip invalid entries.
			}
			out[string(k)] = id
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return out, nil
}
