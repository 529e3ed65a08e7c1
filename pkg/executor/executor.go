// Package executor implements the Executor (C4): interpreting composite
// node semantics (Sequence/If/Subflow) and dispatching atomic nodes
// through the node registry, per spec.md §4.4.
package executor

import (
	"fmt"

	"github.com/storyforge/engine/pkg/expr"
	"github.com/storyforge/engine/pkg/ir"
	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/metrics"
	"github.com/storyforge/engine/pkg/nodes"
	"github.com/storyforge/engine/pkg/state"
	"github.com/storyforge/engine/pkg/storyerr"
)

// DefaultMaxSubflowDepth is the recursion cap on Subflow nesting, per
// spec.md §4.4 ("Subflow recursion depth is capped (default 16)").
const DefaultMaxSubflowDepth = 16

// Resolver resolves an "id@version" or bare "id" ref to a Document. The
// IR Loader satisfies this.
type Resolver interface {
	Resolve(ref string) (*ir.Document, error)
}

// Executor runs IR documents against a node registry.
type Executor struct {
	resolver Resolver
	registry *nodes.Registry
	maxDepth int
	metrics  *metrics.Metrics
}

// New creates an Executor over the given resolver and node registry, with
// the default subflow recursion cap.
func New(resolver Resolver, registry *nodes.Registry) *Executor {
	return &Executor{resolver: resolver, registry: registry, maxDepth: DefaultMaxSubflowDepth}
}

// WithMetrics returns a copy of e that records node execution counts to m.
func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	cp := *e
	cp.metrics = m
	return &cp
}

// WithMaxDepth returns a copy of e with a different subflow recursion cap.
func (e *Executor) WithMaxDepth(depth int) *Executor {
	cp := *e
	cp.maxDepth = depth
	return &cp
}

// RunRef resolves ref to a document and runs it, per spec.md §4.4
// ("run(ref | doc, items, ctx)").
func (e *Executor) RunRef(ref string, in items.Items, ctx *nodes.Context) nodes.Result {
	doc, err := e.resolver.Resolve(ref)
	if err != nil {
		return nodes.Result{Items: in, Err: err}
	}
	return e.RunDoc(doc, in, ctx)
}

// RunDoc runs doc's entry node against in.
func (e *Executor) RunDoc(doc *ir.Document, in items.Items, ctx *nodes.Context) nodes.Result {
	entry, ok := doc.NodeByID(doc.Entry)
	if !ok {
		return nodes.Result{Items: in, Err: storyerr.New(storyerr.KindSchema, fmt.Sprintf("entry node %q not found in %s", doc.Entry, doc.Ref()))}
	}
	return e.runSpec(doc, entry, in, ctx, 0)
}

// Validate runs schema + referential checks against doc.
func (e *Executor) Validate(doc *ir.Document) ir.ValidationResult {
	return ir.Validate(doc)
}

func (e *Executor) runSpec(doc *ir.Document, node *ir.NodeDef, in items.Items, ctx *nodes.Context, depth int) nodes.Result {
	switch node.Type {
	case "Sequence":
		return e.runSequence(doc, node.Children, in, ctx, depth)
	case "If":
		return e.runIf(doc, node, in, ctx, depth)
	case "Subflow":
		return e.runSubflow(doc, node, in, ctx, depth)
	default:
		return e.runAtomic(node, in, ctx)
	}
}

// runSequence evaluates children left-to-right, threading items from one
// child's output to the next input; on any child failure it stops and
// returns the last successful items with accumulated logs and metrics.
func (e *Executor) runSequence(doc *ir.Document, childIDs []string, in items.Items, ctx *nodes.Context, depth int) nodes.Result {
	cur := in
	var logs items.Logs
	var metrics items.Metrics

	for _, childID := range childIDs {
		child, ok := doc.NodeByID(childID)
		if !ok {
			return nodes.Result{
				Items: cur, Logs: logs, Metrics: metrics,
				Err: storyerr.New(storyerr.KindSchema, fmt.Sprintf("child %q not found in %s", childID, doc.Ref())),
			}
		}

		res := e.runSpec(doc, child, cur, ctx, depth)
		logs = items.AppendLogs(logs, res.Logs)
		metrics = items.MergeMetrics(metrics, res.Metrics)
		if res.Err != nil {
			return nodes.Result{Items: cur, Logs: logs, Metrics: metrics, Err: res.Err}
		}
		cur = res.Items
	}

	return nodes.Result{Items: cur, Logs: logs, Metrics: metrics}
}

// runIf evaluates if.cond against {item: items[0], items, state} and
// dispatches then/else as an implicit Sequence.
func (e *Executor) runIf(doc *ir.Document, node *ir.NodeDef, in items.Items, ctx *nodes.Context, depth int) nodes.Result {
	cond, err := expr.Compile(node.If.Cond)
	if err != nil {
		return nodes.Result{Items: in, Err: err}
	}

	var firstItem items.Record
	if len(in) > 0 {
		firstItem = in[0]
	}
	var working items.Record
	if ctx.State != nil {
		working = ctx.State.GetWorking()
	}

	ok, err := cond.EvalBool(expr.Scope{Item: firstItem, Items: in, State: working})
	if err != nil {
		return nodes.Result{Items: in, Err: err}
	}

	branch := node.If.Else
	if ok {
		branch = node.If.Then
	}
	return e.runSequence(doc, branch, in, ctx, depth)
}

// runSubflow resolves subflow.ref, builds the child input via input_map,
// runs the child document, and merges output_map back into the parent
// item, per spec.md §4.4.
func (e *Executor) runSubflow(doc *ir.Document, node *ir.NodeDef, in items.Items, ctx *nodes.Context, depth int) nodes.Result {
	if depth >= e.maxDepth {
		return nodes.Result{Items: in, Err: storyerr.New(storyerr.KindInternal, fmt.Sprintf("subflow recursion depth exceeded (max %d)", e.maxDepth))}
	}

	sf := node.Subflow
	child, err := e.resolver.Resolve(sf.Ref)
	if err != nil {
		return nodes.Result{Items: in, Err: err}
	}

	childIn := buildChildInput(in, sf)

	childCtx := ctx
	var scratch *state.Manager
	if !sf.ShareStateOrDefault() {
		scratch = state.New(nil)
		cp := *ctx
		cp.State = scratch
		childCtx = &cp
	}

	childEntry, ok := child.NodeByID(child.Entry)
	if !ok {
		return nodes.Result{Items: in, Err: storyerr.New(storyerr.KindSchema, fmt.Sprintf("entry node %q not found in %s", child.Entry, child.Ref()))}
	}

	res := e.runSpec(child, childEntry, childIn, childCtx, depth+1)
	if res.Err != nil {
		return nodes.Result{Items: in, Logs: res.Logs, Metrics: res.Metrics, Err: res.Err}
	}

	out := mergeChildOutput(in, res.Items, sf)
	return nodes.Result{Items: out, Logs: res.Logs, Metrics: res.Metrics}
}

// buildChildInput applies input_map per-item: source field in the parent
// item maps to destination field in the child item. Unmapped fields pass
// through only if share_items is true; otherwise the child item starts
// fresh with only the mapped fields.
func buildChildInput(in items.Items, sf *ir.SubflowDef) items.Items {
	out := make(items.Items, len(in))
	for i, parentItem := range in {
		var childItem items.Record
		if sf.ShareItemsOrDefault() {
			childItem = parentItem.DeepCopy()
		} else {
			childItem = items.Record{}
		}
		for srcField, dstField := range sf.InputMap {
			if v, ok := parentItem.Get(srcField); ok {
				childItem = childItem.Set(dstField, v)
			}
		}
		out[i] = childItem
	}
	return out
}

// mergeChildOutput applies output_map: named child fields merge back into
// the corresponding parent item by position.
func mergeChildOutput(parentIn items.Items, childOut items.Items, sf *ir.SubflowDef) items.Items {
	out := make(items.Items, len(parentIn))
	for i, parentItem := range parentIn {
		merged := parentItem.DeepCopy()
		if i < len(childOut) {
			for srcField, dstField := range sf.OutputMap {
				if v, ok := childOut[i].Get(srcField); ok {
					merged = merged.Set(dstField, v)
				}
			}
		}
		out[i] = merged
	}
	return out
}

// runAtomic looks up the node type's constructor in the registry,
// instantiates it with node.params, and invokes safe_run.
func (e *Executor) runAtomic(node *ir.NodeDef, in items.Items, ctx *nodes.Context) nodes.Result {
	n, err := e.registry.Build(node.Type, node.Params)
	if err != nil {
		return nodes.Result{Items: in, Err: storyerr.Wrap(storyerr.KindSchema, fmt.Sprintf("node %q", node.ID), err)}
	}

	res := nodes.SafeRun(n, ctx, in)
	if e.metrics != nil {
		e.metrics.NodeExecTotal.WithLabelValues(node.Type).Inc()
		if res.Err != nil {
			e.metrics.NodeExecErrors.WithLabelValues(node.Type).Inc()
		}
	}
	return res
}
