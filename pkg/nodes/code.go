package nodes

import (
	"fmt"

	"github.com/storyforge/engine/pkg/items"
)

// Code invokes a whitelisted function named by params.function from
// ctx.Resources.CodeFuncs. Calls to unlisted functions are rejected, per
// spec.md §4.2.
type Code struct {
	Function string
	// Outputs is advisory metadata naming fields the function is expected
	// to set; Run adds a log line for each declared field a result item
	// lacks and does not fail the node for it.
	Outputs []string
}

// NewCode builds a Code node from its params record.
func NewCode(params items.Record) (Node, error) {
	fn, _ := params.Get("function")
	fnName, _ := fn.AsString()
	if fnName == "" {
		return nil, fmt.Errorf("code node: params.function is required")
	}

	var outputs []string
	if o, ok := params.Get("outputs"); ok {
		if seq, ok := o.AsSequence(); ok {
			for _, v := range seq {
				if s, ok := v.AsString(); ok {
					outputs = append(outputs, s)
				}
			}
		}
	}

	return &Code{Function: fnName, Outputs: outputs}, nil
}

func (c *Code) Run(ctx *Context, in items.Items) Result {
	fn, ok := ctx.Resources.CodeFuncs[c.Function]
	if !ok {
		return Result{Err: fmt.Errorf("code node: function %q is not whitelisted", c.Function)}
	}
	res := fn(ctx, in)
	if res.Err == nil {
		for i, record := range res.Items {
			for _, field := range c.Outputs {
				if _, ok := record.Get(field); !ok {
					res.Logs = append(res.Logs, fmt.Sprintf("code node: %s: item %d lacks declared output %q", c.Function, i, field))
				}
			}
		}
	}
	return res
}
