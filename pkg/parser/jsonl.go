package parser

import (
	"encoding/json"
	"fmt"
)

type jsonlRecord struct {
	Timestamp        string `json:"timestamp"`
	SessionID        string `json:"session_id"`
	Model            string `json:"model"`
	InputTokens      *int64 `json:"input_tokens"`
	OutputTokens     *int64 `json:"output_tokens"`
	CacheReadTokens  *int64 `json:"cache_read_tokens"`
	CacheWriteTokens *int64 `json:"cache_write_tokens"`
}

type jsonlParser struct{}

// NewJSONLParser returns the parser for flat usage records:
//
//	{"timestamp":"2025-01-15T10:05:00Z","session_id":"S1","input_tokens":100,"output_tokens":50}
func NewJSONLParser() ProviderParser {
	return jsonlParser{}
}

// Provider implements ProviderParser.Provider.
func (jsonlParser) Provider() Provider {
	return ProviderJSONL
}

// Parse implements ProviderParser.Parse.
func (jsonlParser) Parse(src Source, line []byte) (UsageEvent, bool, error) {
	var rec jsonlRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return UsageEvent{}, false, corrupt(fmt.Errorf("%w: %v", ErrMalformedJSON, err))
	}
	if rec.InputTokens == nil && rec.OutputTokens == nil {
		return UsageEvent{}, false, nil
	}

	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return UsageEvent{}, false, corrupt(err)
	}

	ev := UsageEvent{
		Timestamp:        ts,
		SessionID:        firstNonEmpty(rec.SessionID, src.SessionID),
		Provider:         ProviderJSONL,
		TokensIn:         deref(rec.InputTokens),
		TokensOut:        deref(rec.OutputTokens),
		CacheReadTokens:  deref(rec.CacheReadTokens),
		CacheWriteTokens: deref(rec.CacheWriteTokens),
		Model:            rec.Model,
	}
	if err := ev.Validate(); err != nil {
		return UsageEvent{}, false, corrupt(err)
	}
	return ev, true, nil
}
