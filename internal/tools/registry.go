// Package tools provides the local tool registry and the invoker that
// executes tool calls requested by an upstream run. Tool results are
// always reported back in a fixed envelope so the assistant never sees
// a raw Go error or panic.
package tools

import (
	"context"
	"sort"
	"sync"
)

// Tool is an executable capability the assistant can request.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (f Func) Name() string        { return f.ToolName }
func (f Func) Description() string { return f.Desc }

func (f Func) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

// Registry holds the tools available to the invoker. Registration
// normally happens at startup, but the registry is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or nil if not registered.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
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
