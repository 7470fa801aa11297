package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceFor(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "plain session file",
			path: "/home/u/.claude/projects/-src-app/5f1c7b52-9a4e-4c1e-8f3d-2b7a1e6c9d10.jsonl",
			want: "5f1c7b52-9a4e-4c1e-8f3d-2b7a1e6c9d10",
		},
		{
			name: "codex rollout keeps uuid tail",
			path: "/home/u/.codex/sessions/2025/01/15/rollout-2025-01-15T10-00-00-0194a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b.jsonl",
			want: "0194a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b",
		},
		{
			name: "non uuid name",
			path: "/var/log/agents/S1.jsonl",
			want: "S1",
		},
		{
			name: "long name without uuid tail",
			path: "/tmp/this-is-a-rather-long-file-name-that-is-not-a-uuid.jsonl",
			want: "this-is-a-rather-long-file-name-that-is-not-a-uuid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := SourceFor(tt.path)
			assert.Equal(t, tt.path, src.Path)
			assert.Equal(t, tt.want, src.SessionID)
		})
	}
}

func TestClaudeCodeParser(t *testing.T) {
	p := NewClaudeCodeParser()
	src := Source{Path: "/x/fallback.jsonl", SessionID: "fallback"}

	t.Run("assistant usage", func(t *testing.T) {
		line := `{"type":"assistant","timestamp":"2025-01-15T10:05:00.123Z","sessionId":"S1","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":100,"output_tokens":50,"cache_creation_input_tokens":7,"cache_read_input_tokens":300}}}`

		ev, ok, err := p.Parse(src, []byte(line))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "S1", ev.SessionID)
		assert.Equal(t, ProviderClaudeCode, ev.Provider)
		assert.Equal(t, int64(100), ev.TokensIn)
		assert.Equal(t, int64(50), ev.TokensOut)
		assert.Equal(t, int64(300), ev.CacheReadTokens)
		assert.Equal(t, int64(7), ev.CacheWriteTokens)
		assert.Equal(t, "claude-sonnet-4-5", ev.Model)
		assert.Equal(t, time.Date(2025, 1, 15, 10, 5, 0, 123000000, time.UTC), ev.Timestamp)
	})

	t.Run("falls back to file session id", func(t *testing.T) {
		line := `{"type":"assistant","timestamp":"2025-01-15T10:05:00Z","message":{"model":"m","usage":{"input_tokens":1,"output_tokens":2}}}`

		ev, ok, err := p.Parse(src, []byte(line))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "fallback", ev.SessionID)
	})

	t.Run("offset timestamp normalized to UTC", func(t *testing.T) {
		line := `{"type":"assistant","timestamp":"2025-01-15T12:05:00+02:00","sessionId":"S1","message":{"usage":{"input_tokens":1}}}`

		ev, ok, err := p.Parse(src, []byte(line))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, time.UTC, ev.Timestamp.Location())
		assert.Equal(t, 10, ev.Timestamp.Hour())
	})

	notUsage := map[string]string{
		"user message":     `{"type":"user","timestamp":"2025-01-15T10:05:00Z","sessionId":"S1","message":{"role":"user","content":"hi"}}`,
		"no usage":         `{"type":"assistant","timestamp":"2025-01-15T10:05:00Z","sessionId":"S1","message":{"model":"m"}}`,
		"no counts":        `{"type":"assistant","timestamp":"2025-01-15T10:05:00Z","sessionId":"S1","message":{"usage":{"service_tier":"standard"}}}`,
		"synthetic model":  `{"type":"assistant","timestamp":"2025-01-15T10:05:00Z","sessionId":"S1","message":{"model":"<synthetic>","usage":{"input_tokens":0,"output_tokens":0}}}`,
		"api error":        `{"type":"assistant","timestamp":"2025-01-15T10:05:00Z","sessionId":"S1","isApiErrorMessage":true,"message":{"model":"m","usage":{"input_tokens":0,"output_tokens":0}}}`,
		"summary metadata": `{"type":"summary","summary":"Refactor","leafUuid":"abc"}`,
	}
	for name, line := range notUsage {
		t.Run(name, func(t *testing.T) {
			_, ok, err := p.Parse(src, []byte(line))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	corrupted := map[string]struct {
		line string
		want error
	}{
		"not json": {
			line: `{"type":"assistant",`,
			want: ErrMalformedJSON,
		},
		"bad timestamp": {
			line: `{"type":"assistant","timestamp":"yesterday","sessionId":"S1","message":{"usage":{"input_tokens":1}}}`,
			want: ErrInvalidTimestamp,
		},
		"missing timestamp": {
			line: `{"type":"assistant","sessionId":"S1","message":{"usage":{"input_tokens":1}}}`,
			want: ErrInvalidTimestamp,
		},
		"negative count": {
			line: `{"type":"assistant","timestamp":"2025-01-15T10:05:00Z","sessionId":"S1","message":{"usage":{"input_tokens":-1,"output_tokens":5}}}`,
			want: ErrNegativeTokenCount,
		},
	}
	for name, tc := range corrupted {
		t.Run(name, func(t *testing.T) {
			_, ok, err := p.Parse(src, []byte(tc.line))
			require.Error(t, err)
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrParseCorruption)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("empty session id", func(t *testing.T) {
		line := `{"type":"assistant","timestamp":"2025-01-15T10:05:00Z","message":{"usage":{"input_tokens":1}}}`

		_, ok, err := p.Parse(Source{Path: "x"}, []byte(line))
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrInvalidSessionID)
		assert.ErrorIs(t, err, ErrParseCorruption)
	})
}

func TestCodexParser(t *testing.T) {
	p := NewCodexParser()
	src := SourceFor("/h/.codex/sessions/2025/01/15/rollout-2025-01-15T10-00-00-0194a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b.jsonl")

	t.Run("token_count uses last turn", func(t *testing.T) {
		line := `{"timestamp":"2025-01-15T10:05:00.000Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":9000,"cached_input_tokens":4000,"output_tokens":900,"total_tokens":9900},"last_token_usage":{"input_tokens":1200,"cached_input_tokens":800,"output_tokens":150,"reasoning_output_tokens":64,"total_tokens":1350}}}}`

		ev, ok, err := p.Parse(src, []byte(line))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "0194a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", ev.SessionID)
		assert.Equal(t, ProviderCodex, ev.Provider)
		assert.Equal(t, int64(1200), ev.TokensIn)
		assert.Equal(t, int64(150), ev.TokensOut)
		assert.Equal(t, int64(800), ev.CacheReadTokens)
		assert.Zero(t, ev.CacheWriteTokens)
	})

	notUsage := map[string]string{
		"session meta":     `{"timestamp":"2025-01-15T10:00:00Z","type":"session_meta","payload":{"id":"0194a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b","cwd":"/src"}}`,
		"agent message":    `{"timestamp":"2025-01-15T10:00:00Z","type":"event_msg","payload":{"type":"agent_message","message":"done"}}`,
		"null info":        `{"timestamp":"2025-01-15T10:00:00Z","type":"event_msg","payload":{"type":"token_count","info":null}}`,
		"zero last turn":   `{"timestamp":"2025-01-15T10:00:00Z","type":"event_msg","payload":{"type":"token_count","info":{"last_token_usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0}}}}`,
		"response item":    `{"timestamp":"2025-01-15T10:00:00Z","type":"response_item","payload":{"type":"message","role":"user"}}`,
		"no payload":       `{"timestamp":"2025-01-15T10:00:00Z","type":"event_msg"}`,
		"no counts at all": `{"timestamp":"2025-01-15T10:00:00Z","type":"event_msg","payload":{"type":"token_count","info":{"last_token_usage":{}}}}`,
	}
	for name, line := range notUsage {
		t.Run(name, func(t *testing.T) {
			_, ok, err := p.Parse(src, []byte(line))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	t.Run("malformed", func(t *testing.T) {
		_, ok, err := p.Parse(src, []byte(`not json`))
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrParseCorruption)
		assert.ErrorIs(t, err, ErrMalformedJSON)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, ok, err := p.Parse(src, []byte(`{"timestamp":"2025-01-15T10:00:00Z","type":"event_msg","payload":"oops"}`))
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrMalformedJSON)
	})
}

func TestJSONLParser(t *testing.T) {
	p := NewJSONLParser()
	src := SourceFor("/logs/S9.jsonl")

	ev, ok, err := p.Parse(src, []byte(`{"timestamp":"2025-01-15T10:05:00Z","session_id":"S1","input_tokens":100,"output_tokens":50,"model":"m1","cache_read_tokens":3,"cache_write_tokens":4}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, UsageEvent{
		Timestamp:        time.Date(2025, 1, 15, 10, 5, 0, 0, time.UTC),
		SessionID:        "S1",
		Provider:         ProviderJSONL,
		TokensIn:         100,
		TokensOut:        50,
		CacheReadTokens:  3,
		CacheWriteTokens: 4,
		Model:            "m1",
	}, ev)

	ev, ok, err = p.Parse(src, []byte(`{"timestamp":"2025-01-15T10:05:00Z","output_tokens":5}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "S9", ev.SessionID)
	assert.Zero(t, ev.TokensIn)

	_, ok, err = p.Parse(src, []byte(`{"timestamp":"2025-01-15T10:05:00Z","session_id":"S1"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = p.Parse(src, []byte(`{"timestamp":"2025-01-15T10:05:00Z","session_id":"S1","input_tokens":"many"}`))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrParseCorruption)
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()

	assert.Equal(t, []Provider{ProviderClaudeCode, ProviderCodex, ProviderJSONL}, reg.Providers())

	for _, prov := range reg.Providers() {
		p, err := reg.Lookup(prov)
		require.NoError(t, err)
		assert.Equal(t, prov, p.Provider())
	}

	_, err := reg.Lookup("gemini")
	assert.True(t, errors.Is(err, ErrUnknownProvider))

	empty := NewRegistry()
	assert.Empty(t, empty.Providers())
	empty.Register(NewJSONLParser())
	assert.Equal(t, []Provider{ProviderJSONL}, empty.Providers())
}

func TestLineError(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	err := &LineError{Path: "/a.jsonl", Offset: 42, Data: string(long), Err: corrupt(ErrMalformedJSON)}

	assert.Contains(t, err.Error(), "/a.jsonl at offset 42")
	assert.Contains(t, err.Error(), "...")
	assert.NotContains(t, err.Error(), string(long))
	assert.ErrorIs(t, err, ErrParseCorruption)
}
