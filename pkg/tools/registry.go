package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/vocalis-ai/vocalis/pkg/engine"
)

type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs a model-facing spec with its server-side handler.
type Tool struct {
	Spec    engine.ToolSpec
	Handler Handler
	Version string
	Tags    []string
}

// Registry holds the tool capabilities of one session. A session built from
// an unconfigured role has an empty registry and reports no tool support.
type Registry interface {
	Register(t Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	List() []Tool
	Specs() []engine.ToolSpec
}

type memoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewMemoryRegistry() Registry {
	return &memoryRegistry{tools: make(map[string]Tool)}
}

func (m *memoryRegistry) Register(t Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tools[t.Spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Spec.Name)
	}
	m.tools[t.Spec.Name] = t
	m.order = append(m.order, t.Spec.Name)
	return nil
}

func (m *memoryRegistry) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// allow repeated unregister
	delete(m.tools, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memoryRegistry) Get(name string) (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[name]
	return t, ok
}

func (m *memoryRegistry) List() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tool, 0, len(m.order))
	for _, n := range m.order {
		if t, ok := m.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (m *memoryRegistry) Specs() []engine.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.ToolSpec, 0, len(m.order))
	for _, n := range m.order {
		if t, ok := m.tools[n]; ok {
			out = append(out, t.Spec)
		}
	}
	return out
}
