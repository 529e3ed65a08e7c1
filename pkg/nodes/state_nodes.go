package nodes

import (
	"fmt"

	"github.com/storyforge/engine/pkg/items"
)

// ReadState copies keys from state (prompt-view) into each item under
// names from params.keys or params.map (source->dest), per spec.md §4.2.
type ReadState struct {
	// Mapping is sourceKey -> destField. When params.keys is used instead
	// of params.map, sourceKey == destField for every entry.
	Mapping map[string]string
}

func NewReadState(params items.Record) (Node, error) {
	mapping := map[string]string{}

	if m, ok := params.Get("map"); ok {
		if rec, ok := m.AsRecord(); ok {
			for src, destVal := range rec {
				if dest, ok := destVal.AsString(); ok {
					mapping[src] = dest
				}
			}
		}
	} else if k, ok := params.Get("keys"); ok {
		if seq, ok := k.AsSequence(); ok {
			for _, v := range seq {
				if key, ok := v.AsString(); ok {
					mapping[key] = key
				}
			}
		}
	}

	if len(mapping) == 0 {
		return nil, fmt.Errorf("readstate node: one of params.keys or params.map is required")
	}

	return &ReadState{Mapping: mapping}, nil
}

func (n *ReadState) Run(ctx *Context, in items.Items) Result {
	view := ctx.State.GetForPrompt()

	out := make(items.Items, len(in))
	for i, record := range in {
		updated := record
		for src, dest := range n.Mapping {
			if v, ok := view.Get(src); ok {
				updated = updated.Set(dest, v)
			}
		}
		out[i] = updated
	}
	return Result{Items: out}
}

// WriteState applies params.from_item_map (item_field -> state_key) by
// calling UpdateSync with the collected mapping from the first item, or
// per-item when params.per_item is true, per spec.md §4.2.
type WriteState struct {
	FromItemMap map[string]string
	PerItem     bool
}

func NewWriteState(params items.Record) (Node, error) {
	mapping := map[string]string{}
	if m, ok := params.Get("from_item_map"); ok {
		if rec, ok := m.AsRecord(); ok {
			for itemField, stateKeyVal := range rec {
				if stateKey, ok := stateKeyVal.AsString(); ok {
					mapping[itemField] = stateKey
				}
			}
		}
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("writestate node: params.from_item_map is required")
	}

	perItem := false
	if v, ok := params.Get("per_item"); ok {
		if b, ok := v.AsBool(); ok {
			perItem = b
		}
	}

	return &WriteState{FromItemMap: mapping, PerItem: perItem}, nil
}

func (n *WriteState) Run(ctx *Context, in items.Items) Result {
	if len(in) == 0 {
		return Result{Items: in}
	}

	apply := func(record items.Record) {
		updates := items.Record{}
		for itemField, stateKey := range n.FromItemMap {
			if v, ok := record.Get(itemField); ok {
				updates[stateKey] = v
			}
		}
		if len(updates) > 0 {
			ctx.State.UpdateSync(updates)
		}
	}

	if n.PerItem {
		for _, record := range in {
			apply(record)
		}
	} else {
		apply(in[0])
	}

	return Result{Items: in}
}

// IncrementCounter calls UpdateSync({field: current+step}), creating the
// key at 0 if absent, per spec.md §4.2.
type IncrementCounter struct {
	Field string
	Step  int64
}

func NewIncrementCounter(params items.Record) (Node, error) {
	field, _ := strField(params, "field", "")
	if field == "" {
		return nil, fmt.Errorf("incrementcounter node: params.field is required")
	}

	step := int64(1)
	if v, ok := params.Get("step"); ok {
		if f, ok := v.AsFloat(); ok {
			step = int64(f)
		}
	}

	return &IncrementCounter{Field: field, Step: step}, nil
}

func (n *IncrementCounter) Run(ctx *Context, in items.Items) Result {
	current := int64(0)
	working := ctx.State.GetWorking()
	if v, ok := working.Get(n.Field); ok {
		if i, ok := v.AsInt(); ok {
			current = i
		} else if f, ok := v.AsFloat(); ok {
			current = int64(f)
		}
	}

	ctx.State.UpdateSync(items.Record{n.Field: items.Int(current + n.Step)})
	return Result{Items: in}
}
