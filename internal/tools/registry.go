// Package tools provides the concrete tools the agent loop may invoke:
// web page scraping, image generation, and image analysis. Each tool is a
// simple request/response function behind the agent.Tool contract.
package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/atelierhq/atelier/internal/agent"
)

// Registry holds the tools available to the agent loop.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]agent.Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]agent.Tool)}
}

// Register adds a tool. Duplicate names are a programming error.
func (r *Registry) Register(t agent.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (agent.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool, sorted by name for stable declarations.
func (r *Registry) All() []agent.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
