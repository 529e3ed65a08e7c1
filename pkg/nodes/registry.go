package nodes

import (
	"fmt"

	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/registry"
)

// Constructor builds a Node instance from a node definition's params
// record. The executor builds an atomic node each time a run reaches it, so
// an error here fails that run; IR loading does not call constructors.
type Constructor func(params items.Record) (Node, error)

// Provider registers the node types it owns into a Registry. Discovery
// (spec.md §4.1) walks a fixed set of Providers at init and invokes
// Register on each; no reflection-based scanning is needed.
type Provider interface {
	Register(r *Registry) error
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(r *Registry) error

func (f ProviderFunc) Register(r *Registry) error { return f(r) }

// Registry maps type-name -> Constructor. Lookups are case-sensitive.
type Registry struct {
	*registry.BaseRegistry[Constructor]
}

// New creates an empty node registry.
func New() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Constructor]()}
}

// RegisterType registers a node type's constructor under typeName. Returns
// an error on conflicting re-registration unless override is true, in which
// case the existing constructor is replaced.
func (r *Registry) RegisterType(typeName string, ctor Constructor, override bool) error {
	if typeName == "" {
		return fmt.Errorf("nodes: type name cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("nodes: constructor for %q cannot be nil", typeName)
	}
	if override {
		r.Override(typeName, ctor)
		return nil
	}
	return r.Register(typeName, ctor)
}

// Build instantiates a node of the given type with the given params.
func (r *Registry) Build(typeName string, params items.Record) (Node, error) {
	ctor, ok := r.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("nodes: unknown node type %q", typeName)
	}
	return ctor(params)
}

// Discover builds a fresh registry by invoking every provider in providers,
// in order. main.go calls it once at startup; flow reload does not call it,
// so the node registry is not rebuilt or swapped while the server runs.
func Discover(providers []Provider) (*Registry, error) {
	r := New()
	for _, p := range providers {
		if err := p.Register(r); err != nil {
			return nil, fmt.Errorf("nodes: provider registration failed: %w", err)
		}
	}
	return r, nil
}

// SafeRun wraps Run so that a panicking or erroring node never corrupts the
// items stream: on failure it returns the input items unchanged plus an
// error log line, per spec.md §4.2.
func SafeRun(n Node, ctx *Context, in items.Items) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Items: in,
				Logs:  items.Logs{fmt.Sprintf("node panic: %v", r)},
				Err:   fmt.Errorf("node panic: %v", r),
			}
		}
	}()

	res = n.Run(ctx, in)
	if res.Err != nil {
		return Result{
			Items: in,
			Logs:  items.AppendLogs(res.Logs, items.Logs{fmt.Sprintf("node error: %v", res.Err)}),
			Err:   res.Err,
		}
	}
	return res
}
