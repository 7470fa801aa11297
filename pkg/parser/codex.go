package parser

import (
	"encoding/json"
	"fmt"
)

type codexRecord struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexEventPayload struct {
	Type  string          `json:"type"`
	Model string          `json:"model"`
	Info  *codexTokenInfo `json:"info"`
}

// codexTokenInfo carries both the cumulative session total and the usage
// of the last turn. Only the latter is used: a scan that starts mid-file
// has not seen the previous total and could not compute a delta.
type codexTokenInfo struct {
	LastTokenUsage  *codexUsage `json:"last_token_usage"`
	TotalTokenUsage *codexUsage `json:"total_token_usage"`
}

type codexUsage struct {
	InputTokens           *int64 `json:"input_tokens"`
	CachedInputTokens     *int64 `json:"cached_input_tokens"`
	OutputTokens          *int64 `json:"output_tokens"`
	ReasoningOutputTokens *int64 `json:"reasoning_output_tokens"`
	TotalTokens           *int64 `json:"total_tokens"`
}

type codexParser struct{}

// NewCodexParser returns the parser for Codex CLI rollout files
// (~/.codex/sessions/YYYY/MM/DD/rollout-<ts>-<uuid>.jsonl).
//
// Codex lines do not repeat the session id; it comes from the file name.
func NewCodexParser() ProviderParser {
	return codexParser{}
}

// Provider implements ProviderParser.Provider.
func (codexParser) Provider() Provider {
	return ProviderCodex
}

// Parse implements ProviderParser.Parse.
func (codexParser) Parse(src Source, line []byte) (UsageEvent, bool, error) {
	var rec codexRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return UsageEvent{}, false, corrupt(fmt.Errorf("%w: %v", ErrMalformedJSON, err))
	}
	if rec.Type != "event_msg" || len(rec.Payload) == 0 {
		return UsageEvent{}, false, nil
	}

	var payload codexEventPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return UsageEvent{}, false, corrupt(fmt.Errorf("%w: payload: %v", ErrMalformedJSON, err))
	}
	if payload.Type != "token_count" || payload.Info == nil || payload.Info.LastTokenUsage == nil {
		return UsageEvent{}, false, nil
	}

	u := payload.Info.LastTokenUsage
	if u.InputTokens == nil && u.OutputTokens == nil {
		return UsageEvent{}, false, nil
	}
	// Codex repeats token_count after rate-limit refreshes with an empty
	// last turn.
	if deref(u.InputTokens) == 0 && deref(u.OutputTokens) == 0 && deref(u.TotalTokens) == 0 {
		return UsageEvent{}, false, nil
	}

	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return UsageEvent{}, false, corrupt(err)
	}

	ev := UsageEvent{
		Timestamp:       ts,
		SessionID:       src.SessionID,
		Provider:        ProviderCodex,
		TokensIn:        deref(u.InputTokens),
		TokensOut:       deref(u.OutputTokens),
		CacheReadTokens: deref(u.CachedInputTokens),
		Model:           payload.Model,
	}
	if err := ev.Validate(); err != nil {
		return UsageEvent{}, false, corrupt(err)
	}
	return ev, true, nil
}
