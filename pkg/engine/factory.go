package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProviderSpec is the resolved provider configuration a role points at.
type ProviderSpec struct {
	ConfigID  uint
	Provider  string // "openai", "ollama", "gemini"
	ModelName string
	APIURL    string
	APIKey    string
}

// Builder constructs an Engine for one provider kind.
type Builder func(ctx context.Context, spec ProviderSpec) (Engine, error)

// Factory caches engines per provider config so that a role's first turn does
// not pay client construction cost. WarmUp is called from detached
// bound-device initialization.
type Factory struct {
	mu       sync.Mutex
	builders map[string]Builder
	cache    map[uint]Engine
}

func NewFactory() *Factory {
	return &Factory{
		builders: make(map[string]Builder),
		cache:    make(map[uint]Engine),
	}
}

func (f *Factory) RegisterBuilder(provider string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[strings.ToLower(provider)] = b
}

// Take returns the cached engine for spec, constructing it on first use.
func (f *Factory) Take(ctx context.Context, spec ProviderSpec) (Engine, error) {
	f.mu.Lock()
	if eng, ok := f.cache[spec.ConfigID]; ok {
		f.mu.Unlock()
		return eng, nil
	}
	builder, ok := f.builders[strings.ToLower(spec.Provider)]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no engine builder for provider %q", spec.Provider)
	}

	eng, err := builder(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("build %s engine: %w", spec.Provider, err)
	}

	f.mu.Lock()
	f.cache[spec.ConfigID] = eng
	f.mu.Unlock()
	return eng, nil
}

// WarmUp eagerly constructs and caches the engine for spec.
func (f *Factory) WarmUp(ctx context.Context, spec ProviderSpec) error {
	_, err := f.Take(ctx, spec)
	return err
}
