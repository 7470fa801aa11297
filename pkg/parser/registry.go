package parser

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry maps provider tags to parsers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[Provider]ProviderParser
}

// NewRegistry creates a registry holding the given parsers.
func NewRegistry(parsers ...ProviderParser) *Registry {
	r := &Registry{parsers: make(map[Provider]ProviderParser, len(parsers))}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in provider.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewClaudeCodeParser(),
		NewCodexParser(),
		NewJSONLParser(),
	)
}

// Register adds or replaces the parser for p.Provider().
func (r *Registry) Register(p ProviderParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Provider()] = p
}

// Lookup returns the parser registered for provider.
func (r *Registry) Lookup(provider Provider) (ProviderParser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parsers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p, nil
}

// Providers returns the registered tags in sorted order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := lo.Keys(r.parsers)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
