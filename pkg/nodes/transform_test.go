package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/engine/pkg/items"
)

func TestMapSetsComputedField(t *testing.T) {
	ctx, _ := testContext(nil)
	n, err := NewMap(items.Record{
		"set": items.FromRecord(items.Record{"greeting": items.String("item.name")}),
	})
	require.NoError(t, err)

	res := n.Run(ctx, items.Items{items.Record{"name": items.String("Ava")}})
	require.NoError(t, res.Err)

	v, ok := res.Items[0].Get("greeting")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "Ava", s)
}

func TestFilterKeepsTruthyItems(t *testing.T) {
	ctx, _ := testContext(nil)
	n, err := NewFilter(items.Record{"where": items.String("item.keep")})
	require.NoError(t, err)

	in := items.Items{
		items.Record{"keep": items.Bool(true)},
		items.Record{"keep": items.Bool(false)},
	}
	res := n.Run(ctx, in)
	require.NoError(t, res.Err)
	assert.Len(t, res.Items, 1)
}

func TestFilterNonBooleanIsAnError(t *testing.T) {
	ctx, _ := testContext(nil)
	n, err := NewFilter(items.Record{"where": items.String("item.name")})
	require.NoError(t, err)

	res := n.Run(ctx, items.Items{items.Record{"name": items.String("x")}})
	assert.Error(t, res.Err)
}

func TestMergeAppendsConstantSequence(t *testing.T) {
	extra := items.Sequence([]items.Value{items.FromRecord(items.Record{"kind": items.String("bonus")})})
	n, err := NewMerge(items.Record{"with": extra})
	require.NoError(t, err)

	ctx, _ := testContext(nil)
	res := n.Run(ctx, items.Items{items.Record{"kind": items.String("base")}})
	require.Len(t, res.Items, 2)

	kind, _ := res.Items[1].Get("kind")
	s, _ := kind.AsString()
	assert.Equal(t, "bonus", s)
}

func TestSplitProducesOneItemPerElement(t *testing.T) {
	ctx, _ := testContext(nil)
	n, err := NewSplit(items.Record{"at": items.String("item.choices"), "field": items.String("choice")})
	require.NoError(t, err)

	in := items.Items{items.Record{"choices": items.Sequence([]items.Value{items.String("a"), items.String("b")})}}
	res := n.Run(ctx, in)
	require.NoError(t, res.Err)
	require.Len(t, res.Items, 2)

	first, _ := res.Items[0].Get("choice")
	s, _ := first.AsString()
	assert.Equal(t, "a", s)
}

func TestSplitRejectsNonSequenceResult(t *testing.T) {
	ctx, _ := testContext(nil)
	n, err := NewSplit(items.Record{"at": items.String("item.name")})
	require.NoError(t, err)

	res := n.Run(ctx, items.Items{items.Record{"name": items.String("solo")}})
	assert.Error(t, res.Err)
}
