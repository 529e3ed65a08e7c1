// Package nodes defines the Node capability (C2 in the design: atomic
// nodes), the NodeContext runtime object every node receives, and the node
// registry (C1) that maps type-name to constructor.
//
// Duck-typed nodes in the source system become, in Go, a one-method
// interface built by type-name lookup in a registry — no runtime
// introspection required.
package nodes

import (
	"context"
	"log/slog"

	"github.com/storyforge/engine/pkg/items"
)

// Node is a pure items->items transform with access to a NodeContext.
type Node interface {
	Run(ctx *Context, in items.Items) Result
}

// Result is what a node run produces: new items, accumulated logs, and
// metrics. Per spec.md §3 ("NodeResult"), nodes never mutate their input.
type Result struct {
	Items   items.Items
	Logs    items.Logs
	Metrics items.Metrics
	Err     error
}

// StateView is the subset of the state manager a node needs. Defined here
// (rather than imported from package state) to avoid a dependency cycle:
// package state does not need to know about nodes, but nodes need to read
// and write state.
type StateView interface {
	Read(key string) (items.Value, bool)
	GetForPrompt() items.Record
	GetWorking() items.Record
	UpdateSync(updates items.Record)
}

// Resources is the resource bag NodeContext carries: the LLM adapter,
// whitelisted code functions, and anything else nodes need that isn't
// state or logging.
type Resources struct {
	// CodeFuncs are the whitelisted functions the Code node may call,
	// keyed by the name used in params.function.
	CodeFuncs map[string]CodeFunc

	// LLM is the adapter used by the LLMChat node. It is held as `any`;
	// LLMChat type-asserts it to llm.Adapter at the call site and fails
	// the node when it is not one.
	LLM any
}

// CodeFunc is the signature a whitelisted Code-node function must satisfy.
type CodeFunc func(ctx *Context, in items.Items) Result

// Context is the runtime object passed to every node (NodeContext in
// spec.md §3).
type Context struct {
	Ctx       context.Context
	SessionID string
	BranchID  string
	RoundNo   int

	State     StateView
	Resources Resources
	Logger    *slog.Logger
}

// GoContext returns ctx.Ctx, defaulting to context.Background() if unset.
func (c *Context) GoContext() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// WithLogger returns a shallow copy of ctx with a different logger, used
// when a Subflow wants to annotate nested logs with a subflow id.
func (c *Context) WithLogger(l *slog.Logger) *Context {
	cp := *c
	cp.Logger = l
	return &cp
}
