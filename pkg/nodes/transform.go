package nodes

import (
	"fmt"

	"github.com/storyforge/engine/pkg/expr"
	"github.com/storyforge/engine/pkg/items"
)

// Map sets fields on each item computed from expressions in params.set
// (expression language per spec.md §6.5). Every params.set entry must be a
// string expression; a constant is written as an expression literal such as
// `5` or 'text', and a non-string entry is rejected.
type Map struct {
	Set map[string]*expr.Expr
}

func NewMap(params items.Record) (Node, error) {
	setVal, ok := params.Get("set")
	if !ok {
		return nil, fmt.Errorf("map node: params.set is required")
	}
	setRec, ok := setVal.AsRecord()
	if !ok {
		return nil, fmt.Errorf("map node: params.set must be a record")
	}

	compiled := make(map[string]*expr.Expr, len(setRec))
	for field, exprVal := range setRec {
		raw, ok := exprVal.AsString()
		if !ok {
			return nil, fmt.Errorf("map node: params.set.%s must be a string expression", field)
		}
		e, err := expr.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("map node: field %s: %w", field, err)
		}
		compiled[field] = e
	}

	return &Map{Set: compiled}, nil
}

func (n *Map) Run(ctx *Context, in items.Items) Result {
	state := ctx.State.GetForPrompt()
	out := make(items.Items, len(in))

	for i, record := range in {
		updated := record
		for field, e := range n.Set {
			v, err := e.EvalValue(expr.Scope{Item: record, Items: in, State: state})
			if err != nil {
				return Result{Items: in, Err: fmt.Errorf("map node: item %d field %s: %w", i, field, err)}
			}
			updated = updated.Set(field, v)
		}
		out[i] = updated
	}

	return Result{Items: out}
}

// Filter keeps items where params.where evaluates to true, per spec.md §4.2;
// a non-boolean result is an error.
type Filter struct {
	Where *expr.Expr
}

func NewFilter(params items.Record) (Node, error) {
	whereVal, ok := params.Get("where")
	if !ok {
		return nil, fmt.Errorf("filter node: params.where is required")
	}
	raw, ok := whereVal.AsString()
	if !ok {
		return nil, fmt.Errorf("filter node: params.where must be a string expression")
	}
	e, err := expr.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("filter node: %w", err)
	}
	return &Filter{Where: e}, nil
}

func (n *Filter) Run(ctx *Context, in items.Items) Result {
	state := ctx.State.GetForPrompt()
	out := make(items.Items, 0, len(in))

	for i, record := range in {
		keep, err := n.Where.EvalBool(expr.Scope{Item: record, Items: in, State: state})
		if err != nil {
			return Result{Items: in, Err: fmt.Errorf("filter node: item %d: %w", i, err)}
		}
		if keep {
			out = append(out, record)
		}
	}

	return Result{Items: out}
}

// Merge is, for the MVP, identity on the current stream plus an optional
// params.with constant sequence appended. Multi-input fan-in is
// aspirational and out of scope per spec.md §4.2/§9.
type Merge struct {
	With items.Items
}

func NewMerge(params items.Record) (Node, error) {
	var with items.Items
	if w, ok := params.Get("with"); ok {
		if seq, ok := w.AsSequence(); ok {
			for _, v := range seq {
				if rec, ok := v.AsRecord(); ok {
					with = append(with, rec)
				}
			}
		}
	}
	return &Merge{With: with}, nil
}

func (n *Merge) Run(ctx *Context, in items.Items) Result {
	out := make(items.Items, 0, len(in)+len(n.With))
	out = append(out, in...)
	out = append(out, n.With...)
	return Result{Items: out}
}

// Split produces one output item per value of params.at, a path yielding a
// sequence, per spec.md §4.2. Each produced item is the source item with
// the field named by params.field (default "value") set to the
// corresponding split element.
type Split struct {
	At    *expr.Expr
	Field string
}

func NewSplit(params items.Record) (Node, error) {
	atVal, ok := params.Get("at")
	if !ok {
		return nil, fmt.Errorf("split node: params.at is required")
	}
	raw, ok := atVal.AsString()
	if !ok {
		return nil, fmt.Errorf("split node: params.at must be a string expression")
	}
	e, err := expr.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("split node: %w", err)
	}

	field, _ := strField(params, "field", "value")

	return &Split{At: e, Field: field}, nil
}

func (n *Split) Run(ctx *Context, in items.Items) Result {
	state := ctx.State.GetForPrompt()
	out := make(items.Items, 0, len(in))

	for i, record := range in {
		v, err := n.At.Eval(expr.Scope{Item: record, Items: in, State: state})
		if err != nil {
			return Result{Items: in, Err: fmt.Errorf("split node: item %d: %w", i, err)}
		}
		seq, ok := v.([]any)
		if !ok {
			return Result{Items: in, Err: fmt.Errorf("split node: item %d: params.at did not yield a sequence", i)}
		}
		for _, elem := range seq {
			out = append(out, record.Set(n.Field, items.FromNative(elem)))
		}
	}

	return Result{Items: out}
}
