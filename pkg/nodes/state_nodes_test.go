package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/state"
)

func testContext(lss items.Record) (*Context, *state.Manager) {
	sm := state.New(lss)
	return &Context{State: sm}, sm
}

func TestReadStateCopiesMappedKeys(t *testing.T) {
	ctx, _ := testContext(items.Record{"hp": items.Int(9)})
	n, err := NewReadState(items.Record{"map": items.FromRecord(items.Record{"hp": items.String("health")})})
	require.NoError(t, err)

	res := n.Run(ctx, items.Items{items.Record{}})
	v, ok := res.Items[0].Get("health")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(9), i)
}

func TestReadStateRequiresKeysOrMap(t *testing.T) {
	_, err := NewReadState(items.Record{})
	assert.Error(t, err)
}

func TestWriteStateAppliesFirstItemByDefault(t *testing.T) {
	ctx, sm := testContext(nil)
	n, err := NewWriteState(items.Record{
		"from_item_map": items.FromRecord(items.Record{"reply": items.String("last_reply")}),
	})
	require.NoError(t, err)

	in := items.Items{
		items.Record{"reply": items.String("first")},
		items.Record{"reply": items.String("second")},
	}
	n.Run(ctx, in)

	v, ok := sm.GetWorking().Get("last_reply")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "first", s, "without per_item, only the first item's fields are written")
}

func TestWriteStatePerItemAppliesAll(t *testing.T) {
	ctx, sm := testContext(nil)
	n, err := NewWriteState(items.Record{
		"from_item_map": items.FromRecord(items.Record{"reply": items.String("last_reply")}),
		"per_item":      items.Bool(true),
	})
	require.NoError(t, err)

	in := items.Items{
		items.Record{"reply": items.String("first")},
		items.Record{"reply": items.String("second")},
	}
	n.Run(ctx, in)

	v, _ := sm.GetWorking().Get("last_reply")
	s, _ := v.AsString()
	assert.Equal(t, "second", s, "per_item applies every item in order, so the last write wins")
}

func TestIncrementCounterDefaultsFromZero(t *testing.T) {
	ctx, sm := testContext(nil)
	n, err := NewIncrementCounter(items.Record{"field": items.String("turns")})
	require.NoError(t, err)

	n.Run(ctx, items.Items{items.Record{}})
	n.Run(ctx, items.Items{items.Record{}})

	v, ok := sm.GetWorking().Get("turns")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(2), i)
}

func TestIncrementCounterCustomStep(t *testing.T) {
	ctx, sm := testContext(items.Record{"gold": items.Int(10)})
	n, err := NewIncrementCounter(items.Record{"field": items.String("gold"), "step": items.Int(5)})
	require.NoError(t, err)

	n.Run(ctx, items.Items{items.Record{}})

	v, _ := sm.GetWorking().Get("gold")
	i, _ := v.AsInt()
	assert.Equal(t, int64(15), i)
}

func TestIncrementCounterRequiresField(t *testing.T) {
	_, err := NewIncrementCounter(items.Record{})
	assert.Error(t, err)
}
