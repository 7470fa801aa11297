package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultSQLQuery reads the identity table of the orchestrator database.
// Any query returning the same four columns in this order works.
const DefaultSQLQuery = `SELECT session_id, agent_name, project_path, last_seen_at FROM session_identities`

// SQLSource reads identities from a SQLite database owned by another
// process. It never writes.
type SQLSource struct {
	db    *sql.DB
	query string
}

// OpenSQLSource opens dsn with the sqlite3 driver. An empty query uses
// DefaultSQLQuery.
func OpenSQLSource(dsn, query string) (*SQLSource, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("identity: empty sqlite dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: opening sqlite source: %w", err)
	}
	return NewSQLSource(db, query), nil
}

// NewSQLSource wraps an already open database.
func NewSQLSource(db *sql.DB, query string) *SQLSource {
	if strings.TrimSpace(query) == "" {
		query = DefaultSQLQuery
	}
	return &SQLSource{db: db, query: query}
}

// Close closes the underlying database.
func (s *SQLSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshot implements Source.Snapshot. Rows with an empty session id or
// agent name are skipped; the last row wins for duplicate session ids.
func (s *SQLSource) Snapshot(ctx context.Context) (map[string]SessionIdentity, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("identity: querying sqlite source: %w", err)
	}
	defer rows.Close()

	out := make(map[string]SessionIdentity)
	for rows.Next() {
		var (
			sessionID, agentName, projectPath sql.NullString
			lastSeen                          any
		)
		if err := rows.Scan(&sessionID, &agentName, &projectPath, &lastSeen); err != nil {
			return nil, fmt.Errorf("identity: scanning sqlite row: %w", err)
		}

		id := SessionIdentity{
			SessionID:   strings.TrimSpace(sessionID.String),
			AgentName:   strings.TrimSpace(agentName.String),
			ProjectPath: projectPath.String,
			LastSeenAt:  sqlTime(lastSeen),
		}
		if id.Validate() != nil {
			continue
		}
		out[id.SessionID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: reading sqlite rows: %w", err)
	}
	return out, nil
}

var sqlTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// sqlTime converts whatever the driver returned for a timestamp column.
// Unparseable values become the zero time.
func sqlTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case int64:
		return time.Unix(t, 0).UTC()
	case float64:
		return time.Unix(int64(t), 0).UTC()
	case []byte:
		return sqlTime(string(t))
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(n, 0).UTC()
		}
		for _, layout := range sqlTimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}
