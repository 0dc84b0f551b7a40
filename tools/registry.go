package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/berrykit/berry-mcp-go/mcp"
)

// Registry owns the name -> tool mapping used by the server's tools/list and
// tools/call built-ins. Registration order is preserved for stable listings.
// A duplicate name silently replaces the previous registration (last write
// wins) while keeping the original list position.
//
// The registry is safe for concurrent use, but the expected lifecycle is
// mutate-at-startup, read-during-serving.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
	log   *slog.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger overrides the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a tool, returning true when it replaced an existing
// registration with the same name.
func (r *Registry) Register(t Tool) (replaced bool) {
	name := t.Descriptor.Name

	r.mu.Lock()
	_, replaced = r.tools[name]
	if !replaced {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
	r.mu.Unlock()

	if replaced {
		r.log.Warn("tools.register.replace", slog.String("tool", name))
	} else {
		r.log.Debug("tools.register.ok", slog.String("tool", name))
	}
	return replaced
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.Handler, true
}

// Descriptors returns the registered tool descriptors in registration order.
func (r *Registry) Descriptors() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Provider contributes a set of tools, typically one per package exposing
// tools. It is the explicit, startup-time analog of scanning a namespace for
// decorated callables.
type Provider interface {
	Tools(ctx context.Context) ([]Tool, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) ([]Tool, error)

func (f ProviderFunc) Tools(ctx context.Context) ([]Tool, error) { return f(ctx) }

// Toolset is a fixed Provider over a static slice of tools.
type Toolset []Tool

func (ts Toolset) Tools(context.Context) ([]Tool, error) { return ts, nil }

// Install registers every tool from every provider. A failing provider is
// logged and skipped; it never aborts the rest of the scan. The number of
// tools registered is returned.
func (r *Registry) Install(ctx context.Context, providers ...Provider) int {
	n := 0
	for _, p := range providers {
		ts, err := p.Tools(ctx)
		if err != nil {
			r.log.Warn("tools.discover.skip", slog.String("err", err.Error()))
			continue
		}
		for _, t := range ts {
			r.Register(t)
			n++
		}
	}
	return n
}
