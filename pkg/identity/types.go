// Package identity resolves session ids to agent and project attribution.
//
// Identity records are written by the surrounding application, usually
// after the first usage for a session has already been counted. The engine
// therefore never bakes attribution into stored buckets; it joins against
// the current identities when a query runs.
//
// Two sources are provided: BoltStore keeps identities in the engine's own
// database and implements the write contract (Put, Delete), and SQLSource
// reads a table owned by another process from a SQLite file.
//
// Example usage:
//
//	ids, err := identity.NewBoltStore(st.DB(), log)
//	if err != nil {
//	    return err
//	}
//	resolver := identity.NewResolver(identity.ResolverConfig{Source: ids}, log)
//
//	if err := resolver.Refresh(ctx); err != nil {
//	    log.Warn("identity refresh failed", "error", err)
//	}
//	id, ok := resolver.Resolve("S1")
package identity

import (
	"context"
	"time"
)

// UnknownAgent is the agent name reported for sessions with no identity.
const UnknownAgent = "unknown"

// SessionIdentity attributes a session to an agent and a project.
type SessionIdentity struct {
	// SessionID is the provider session id the buckets are keyed by.
	SessionID string `json:"session_id"`

	// AgentName is the orchestrator's name for the agent.
	AgentName string `json:"agent_name"`

	// ProjectPath is the working directory of the agent.
	ProjectPath string `json:"project_path,omitempty"`

	// LastSeenAt is when the owner last confirmed the mapping.
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Unknown returns the identity reported for an unresolved session.
func Unknown(sessionID string) SessionIdentity {
	return SessionIdentity{SessionID: sessionID, AgentName: UnknownAgent}
}

// Validate checks that the identity can be stored.
func (id SessionIdentity) Validate() error {
	if id.SessionID == "" {
		return ErrEmptySessionID
	}
	if id.AgentName == "" {
		return ErrEmptyAgentName
	}
	return nil
}

// Source supplies the current set of identities.
type Source interface {
	// Snapshot returns every known identity keyed by session id.
	Snapshot(ctx context.Context) (map[string]SessionIdentity, error)
}
