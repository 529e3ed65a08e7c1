// Package expr implements the restricted query/predicate language used by
// If conditions, Map's set expressions, and Filter's where expressions
// (spec.md §6.5). It is a thin wrapper over jmespath, evaluated against a
// synthesized scope {item, items, state}; arbitrary code execution is
// structurally impossible since jmespath has no side-effecting constructs.
package expr

import (
	"encoding/json"
	"fmt"

	"github.com/jmespath/go-jmespath"

	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/storyerr"
)

// Expr is a compiled expression, compiled once per node instantiation
// rather than per item (spec.md §6.5 performance note).
type Expr struct {
	raw      string
	compiled *jmespath.JMESPath
}

// Compile parses raw into an Expr.
func Compile(raw string) (*Expr, error) {
	compiled, err := jmespath.Compile(raw)
	if err != nil {
		return nil, storyerr.Wrap(storyerr.KindExpression, fmt.Sprintf("compile %q", raw), err)
	}
	return &Expr{raw: raw, compiled: compiled}, nil
}

// Scope is the {item, items, state} binding an expression evaluates
// against.
type Scope struct {
	Item  items.Record
	Items items.Items
	State items.Record
}

func (s Scope) native() map[string]any {
	itemsNative := make([]any, len(s.Items))
	for i, r := range s.Items {
		itemsNative[i] = items.FromRecord(r).Native()
	}
	m := map[string]any{
		"item":  items.FromRecord(s.Item).Native(),
		"items": itemsNative,
		"state": items.FromRecord(s.State).Native(),
	}
	// go-jmespath orders and compares numbers only as float64, while
	// Native() yields int64 for Int values; a JSON round trip turns every
	// number in the scope into a float64.
	if data, err := json.Marshal(m); err == nil {
		var out map[string]any
		if json.Unmarshal(data, &out) == nil {
			return out
		}
	}
	return m
}

// Eval evaluates the expression against scope and returns the raw result.
func (e *Expr) Eval(scope Scope) (any, error) {
	result, err := e.compiled.Search(scope.native())
	if err != nil {
		return nil, storyerr.Wrap(storyerr.KindExpression, fmt.Sprintf("evaluate %q", e.raw), err)
	}
	return result, nil
}

// EvalBool evaluates the expression and requires a boolean result, per
// spec.md §6.5 ("Comparison operators and boolean connectives are
// required"). Any non-bool result (including nil, from a path that
// matched nothing) is treated as an expression error.
func (e *Expr) EvalBool(scope Scope) (bool, error) {
	result, err := e.Eval(scope)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, storyerr.New(storyerr.KindExpression,
			fmt.Sprintf("expression %q did not evaluate to a boolean (got %T)", e.raw, result))
	}
	return b, nil
}

// EvalValue evaluates the expression and converts the result to a Value,
// used by Map's params.set and Split's params.at.
func (e *Expr) EvalValue(scope Scope) (items.Value, error) {
	result, err := e.Eval(scope)
	if err != nil {
		return items.Null(), err
	}
	return items.FromNative(result), nil
}

// String returns the source text of the expression.
func (e *Expr) String() string { return e.raw }
