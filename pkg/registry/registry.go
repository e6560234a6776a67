// Package registry holds the tools and query sources a session may use.
//
// A Registry is built once, frozen, and then shared read-only between any
// number of concurrent sessions.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry maps names to tools and query sources.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	sources map[string]Source
	frozen  bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tools:   make(map[string]*Tool),
		sources: make(map[string]Source),
	}
}

// Register adds tools. It fails on duplicate names or after Freeze.
func (r *Registry) Register(tools ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		r.tools[t.Name()] = t
	}
	return nil
}

// RegisterSource adds query sources.
func (r *Registry) RegisterSource(sources ...Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	for _, s := range sources {
		if _, exists := r.sources[s.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateSource, s.Name())
		}
		r.sources[s.Name()] = s
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() *Registry {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
	return r
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Tool looks up a tool by name.
func (r *Registry) Tool(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Tools returns all tools sorted by name.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Sources returns all query sources sorted by name.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// SchemaYAML renders the schemas of all tools as YAML for system prompts.
func (r *Registry) SchemaYAML() (string, error) {
	tools := r.Tools()
	schemas := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	out, err := yaml.Marshal(map[string]any{"tools": schemas})
	if err != nil {
		return "", fmt.Errorf("failed to render tool schema: %w", err)
	}
	return string(out), nil
}
