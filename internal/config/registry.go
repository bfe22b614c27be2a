package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/llm"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned when a config entry names a provider
// that has no factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one provider kind's name → constructor table.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	var zero T
	build, ok := f.m[entry.Name]
	if !ok {
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := build(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry turns [ProviderEntry] values into live providers. cmd/minimax
// registers the built-in backends; tests register mocks. Safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	s2s factories[s2s.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: "llm", m: map[string]func(ProviderEntry) (llm.Provider, error){}},
		s2s: factories[s2s.Provider]{kind: "s2s", m: map[string]func(ProviderEntry) (s2s.Provider, error){}},
	}
}

// RegisterLLM adds or replaces the chat backend factory for name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm.m[name] = factory
	r.mu.Unlock()
}

// RegisterS2S adds or replaces the voice backend factory for name.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	r.s2s.m[name] = factory
	r.mu.Unlock()
}

// CreateLLM builds the chat backend named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateS2S builds the voice backend named by entry.Name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s2s.create(entry)
}

// LLMNames lists the registered chat backends, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.names()
}

// S2SNames lists the registered voice backends, sorted.
func (r *Registry) S2SNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s2s.names()
}
