// Package parser normalizes provider session log lines into usage events.
//
// Each agent tool writes its own on-disk JSONL schema. A ProviderParser
// understands exactly one schema and turns a single raw line into a
// UsageEvent, or reports that the line is not a usage record. Most lines
// in a session log (prompts, tool calls, metadata) are not usage records,
// so that outcome is not an error.
//
// Parsers are looked up by Provider tag through a Registry:
//
//	reg := parser.DefaultRegistry()
//	p, err := reg.Lookup(parser.ProviderClaudeCode)
//	if err != nil {
//	    return err
//	}
//
//	src := parser.SourceFor(path)
//	ev, ok, err := p.Parse(src, line)
//	switch {
//	case err != nil:
//	    // corrupted line: count and skip
//	case !ok:
//	    // not a usage record
//	default:
//	    events = append(events, ev)
//	}
package parser

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies the upstream agent tool whose log format a parser
// understands.
type Provider string

// Known providers.
const (
	// ProviderClaudeCode parses Claude Code project transcripts.
	ProviderClaudeCode Provider = "claude-code"

	// ProviderCodex parses Codex CLI rollout files.
	ProviderCodex Provider = "codex"

	// ProviderJSONL parses flat, already-normalized usage records.
	ProviderJSONL Provider = "jsonl"
)

// String implements fmt.Stringer.
func (p Provider) String() string {
	return string(p)
}

// UsageEvent is one normalized usage record. It is never persisted; the
// scanner folds it into aggregation buckets immediately.
//
// Invariant: Timestamp is non-zero and in UTC.
// Invariant: SessionID is non-empty.
// Invariant: all token counts are >= 0.
type UsageEvent struct {
	Timestamp        time.Time
	SessionID        string
	Provider         Provider
	TokensIn         int64
	TokensOut        int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Model            string
}

// Validate checks the event invariants.
func (e UsageEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return ErrInvalidSessionID
	}
	if e.TokensIn < 0 || e.TokensOut < 0 || e.CacheReadTokens < 0 || e.CacheWriteTokens < 0 {
		return ErrNegativeTokenCount
	}
	return nil
}

// Source describes the file a line came from.
type Source struct {
	// Path is the log file path.
	Path string

	// SessionID is the session id derived from the file name. Parsers use
	// it when a line does not carry its own session id.
	SessionID string
}

// SourceFor builds the Source for a log file.
//
// The fallback session id is the file name without extension. When the
// name ends in a UUID (Codex names files rollout-<timestamp>-<uuid>.jsonl)
// only the UUID is kept.
func SourceFor(path string) Source {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id := base
	if len(base) > 36 {
		if tail := base[len(base)-36:]; isUUID(tail) {
			id = tail
		}
	}
	return Source{Path: path, SessionID: id}
}

// ProviderParser decodes one provider's log lines.
//
// Implementations must be stateless: the scanner may start reading a file
// at any line boundary, so a parser cannot depend on lines it has not
// been given.
type ProviderParser interface {
	// Provider returns the tag this parser is registered under.
	Provider() Provider

	// Parse decodes a single line (without the trailing newline).
	//
	// Returns:
	//   - the event and true for a usage record
	//   - false and a nil error for lines that are not usage records
	//   - an error wrapping ErrParseCorruption for lines that cannot be
	//     normalized
	Parse(src Source, line []byte) (UsageEvent, bool, error)
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, ErrInvalidTimestamp
	}
	return ts.UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
