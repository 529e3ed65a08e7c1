package executor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/engine/pkg/ir"
	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/nodes"
	"github.com/storyforge/engine/pkg/state"
)

type mapResolver map[string]*ir.Document

func (m mapResolver) Resolve(ref string) (*ir.Document, error) {
	doc, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("doc %q not found", ref)
	}
	return doc, nil
}

func newTestExecutor(t *testing.T, docs mapResolver) *Executor {
	t.Helper()
	registry, err := nodes.Discover([]nodes.Provider{nodes.BuiltinProvider})
	require.NoError(t, err)
	return New(docs, registry)
}

func writeStateDoc(id string, field, stateKey string) *ir.Document {
	doc := &ir.Document{
		ID: id, Version: 1, Entry: "main",
		Nodes: []ir.NodeDef{
			{ID: "main", Type: "WriteState", Params: items.Record{
				"from_item_map": items.FromRecord(items.Record{field: items.String(stateKey)}),
			}},
		},
	}
	doc.Index()
	return doc
}

func TestRunDocSequenceThreadsItemsForward(t *testing.T) {
	doc := &ir.Document{
		ID: "seq", Version: 1, Entry: "main",
		Nodes: []ir.NodeDef{
			{ID: "main", Type: "Sequence", Children: []string{"step1", "step2"}},
			{ID: "step1", Type: "IncrementCounter", Params: items.Record{"field": items.String("turns")}},
			{ID: "step2", Type: "IncrementCounter", Params: items.Record{"field": items.String("turns")}},
		},
	}
	doc.Index()

	exec := newTestExecutor(t, mapResolver{})
	sm := state.New(nil)
	ctx := &nodes.Context{State: sm}

	res := exec.RunDoc(doc, items.Items{items.Record{}}, ctx)
	require.NoError(t, res.Err)

	v, ok := sm.GetWorking().Get("turns")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(2), i, "both sequence children must run in order")
}

func TestRunDocSequenceStopsOnChildError(t *testing.T) {
	doc := &ir.Document{
		ID: "seq-err", Version: 1, Entry: "main",
		Nodes: []ir.NodeDef{
			{ID: "main", Type: "Sequence", Children: []string{"bad"}},
			{ID: "bad", Type: "Code", Params: items.Record{"function": items.String("missing")}},
		},
	}
	doc.Index()

	exec := newTestExecutor(t, mapResolver{})
	ctx := &nodes.Context{State: state.New(nil)}

	res := exec.RunDoc(doc, items.Items{items.Record{}}, ctx)
	assert.Error(t, res.Err)
}

func TestRunDocIfDispatchesThenOrElse(t *testing.T) {
	doc := &ir.Document{
		ID: "cond", Version: 1, Entry: "main",
		Nodes: []ir.NodeDef{
			{ID: "main", Type: "If", If: &ir.IfDef{
				Cond: "item.go", Then: []string{"yes"}, Else: []string{"no"},
			}},
			{ID: "yes", Type: "WriteState", Params: items.Record{
				"from_item_map": items.FromRecord(items.Record{"go": items.String("took")}),
			}},
			{ID: "no", Type: "WriteState", Params: items.Record{
				"from_item_map": items.FromRecord(items.Record{"go": items.String("took")}),
			}},
		},
	}
	doc.Index()

	exec := newTestExecutor(t, mapResolver{})

	smTrue := state.New(nil)
	exec.RunDoc(doc, items.Items{items.Record{"go": items.Bool(true)}}, &nodes.Context{State: smTrue})
	v, _ := smTrue.GetWorking().Get("took")
	b, _ := v.AsBool()
	assert.True(t, b)

	smFalse := state.New(nil)
	exec.RunDoc(doc, items.Items{items.Record{"go": items.Bool(false)}}, &nodes.Context{State: smFalse})
	v, ok := smFalse.GetWorking().Get("took")
	require.True(t, ok, "a false condition dispatches the else branch")
	b, _ = v.AsBool()
	assert.False(t, b)
}

func TestRunSubflowMapsInputAndOutput(t *testing.T) {
	child := writeStateDoc("child", "greeting", "last_greeting")
	doc := &ir.Document{
		ID: "parent", Version: 1, Entry: "main",
		Nodes: []ir.NodeDef{
			{ID: "main", Type: "Subflow", Subflow: &ir.SubflowDef{
				Ref:       "child@1",
				InputMap:  map[string]string{"name": "greeting"},
				OutputMap: map[string]string{"greeting": "echoed"},
			}},
		},
	}
	doc.Index()

	exec := newTestExecutor(t, mapResolver{"child@1": child})
	ctx := &nodes.Context{State: state.New(nil)}

	res := exec.RunDoc(doc, items.Items{items.Record{"name": items.String("Nyx")}}, ctx)
	require.NoError(t, res.Err)

	v, ok := res.Items[0].Get("echoed")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "Nyx", s)
}

func TestRunSubflowDefaultShareItemsFalseKeepsParentItemFields(t *testing.T) {
	child := writeStateDoc("child2", "x", "seen_x")
	doc := &ir.Document{
		ID: "parent2", Version: 1, Entry: "main",
		Nodes: []ir.NodeDef{
			{ID: "main", Type: "Subflow", Subflow: &ir.SubflowDef{
				Ref:      "child2@1",
				InputMap: map[string]string{},
			}},
		},
	}
	doc.Index()

	exec := newTestExecutor(t, mapResolver{"child2@1": child})
	ctx := &nodes.Context{State: state.New(nil)}

	in := items.Items{items.Record{"secret": items.String("hidden")}}
	res := exec.RunDoc(doc, in, ctx)
	require.NoError(t, res.Err)

	// the parent item is unchanged by the subflow (no output_map entries),
	// but the child never saw "secret" since share_items defaults to false.
	_, ok := res.Items[0].Get("secret")
	assert.True(t, ok, "parent item fields survive a subflow call regardless of share_items")
}

func TestRunSubflowRecursionDepthCapped(t *testing.T) {
	doc := &ir.Document{
		ID: "loopy", Version: 1, Entry: "main",
		Nodes: []ir.NodeDef{
			{ID: "main", Type: "Subflow", Subflow: &ir.SubflowDef{Ref: "loopy@1"}},
		},
	}
	doc.Index()

	exec := newTestExecutor(t, mapResolver{"loopy@1": doc}).WithMaxDepth(3)
	ctx := &nodes.Context{State: state.New(nil)}

	res := exec.RunDoc(doc, items.Items{items.Record{}}, ctx)
	assert.Error(t, res.Err)
}

func TestRunRefUnknownRefReturnsError(t *testing.T) {
	exec := newTestExecutor(t, mapResolver{})
	res := exec.RunRef("missing@1", items.Items{}, &nodes.Context{State: state.New(nil)})
	assert.Error(t, res.Err)
}
