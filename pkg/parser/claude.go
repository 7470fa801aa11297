package parser

import (
	"encoding/json"
	"fmt"
)

// claudeSyntheticModel marks messages Claude Code writes itself (interrupts,
// local errors). They carry zeroed usage and are not API calls.
const claudeSyntheticModel = "<synthetic>"

type claudeRecord struct {
	Type              string         `json:"type"`
	Timestamp         string         `json:"timestamp"`
	SessionID         string         `json:"sessionId"`
	IsAPIErrorMessage bool           `json:"isApiErrorMessage"`
	Message           *claudeMessage `json:"message"`
}

type claudeMessage struct {
	Model string       `json:"model"`
	Usage *claudeUsage `json:"usage"`
}

type claudeUsage struct {
	InputTokens              *int64 `json:"input_tokens"`
	OutputTokens             *int64 `json:"output_tokens"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens"`
}

type claudeCodeParser struct{}

// NewClaudeCodeParser returns the parser for Claude Code transcripts
// (~/.claude/projects/<project>/<session>.jsonl).
func NewClaudeCodeParser() ProviderParser {
	return claudeCodeParser{}
}

// Provider implements ProviderParser.Provider.
func (claudeCodeParser) Provider() Provider {
	return ProviderClaudeCode
}

// Parse implements ProviderParser.Parse.
func (claudeCodeParser) Parse(src Source, line []byte) (UsageEvent, bool, error) {
	var rec claudeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return UsageEvent{}, false, corrupt(fmt.Errorf("%w: %v", ErrMalformedJSON, err))
	}

	if rec.Type != "assistant" || rec.Message == nil || rec.Message.Usage == nil {
		return UsageEvent{}, false, nil
	}
	if rec.IsAPIErrorMessage || rec.Message.Model == claudeSyntheticModel {
		return UsageEvent{}, false, nil
	}

	u := rec.Message.Usage
	if u.InputTokens == nil && u.OutputTokens == nil {
		return UsageEvent{}, false, nil
	}

	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return UsageEvent{}, false, corrupt(err)
	}

	ev := UsageEvent{
		Timestamp:        ts,
		SessionID:        firstNonEmpty(rec.SessionID, src.SessionID),
		Provider:         ProviderClaudeCode,
		TokensIn:         deref(u.InputTokens),
		TokensOut:        deref(u.OutputTokens),
		CacheReadTokens:  deref(u.CacheReadInputTokens),
		CacheWriteTokens: deref(u.CacheCreationInputTokens),
		Model:            rec.Message.Model,
	}
	if err := ev.Validate(); err != nil {
		return UsageEvent{}, false, corrupt(err)
	}
	return ev, true, nil
}
