// Package dispatch implements the tool registry and the dispatcher that
// validates invocations, routes them to tools and classifies failures.
package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/toolbelt/pkg/tools"
)

// Registry maps tool names to tools. It is filled once at startup and read
// concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tools.Tool
	descs map[string]tools.Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]tools.Tool),
		descs: make(map[string]tools.Descriptor),
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool tools.Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	r.descs[name] = tools.Describe(tool)
	return nil
}

// Lookup returns the tool and its descriptor.
func (r *Registry) Lookup(name string) (tools.Tool, tools.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, r.descs[name], ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns all descriptors sorted by name.
func (r *Registry) Descriptors() []tools.Descriptor {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tools.Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.descs[name])
	}
	return out
}

// Without returns a new registry holding every tool except the named ones.
// Subagents use it to drop tools they must not call.
func (r *Registry) Without(names ...string) *Registry {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewRegistry()
	for name, t := range r.tools {
		if skip[name] {
			continue
		}
		out.tools[name] = t
		out.descs[name] = r.descs[name]
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
