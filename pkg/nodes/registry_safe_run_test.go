package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/engine/pkg/items"
)

type panicNode struct{}

func (panicNode) Run(ctx *Context, in items.Items) Result {
	panic("boom")
}

type erroringNode struct{}

func (erroringNode) Run(ctx *Context, in items.Items) Result {
	return Result{Err: assert.AnError}
}

func TestSafeRunRecoversPanicAndKeepsInput(t *testing.T) {
	in := items.Items{items.Record{"x": items.Int(1)}}
	res := SafeRun(panicNode{}, &Context{}, in)

	assert.Error(t, res.Err)
	assert.Equal(t, in, res.Items, "a panicking node must not corrupt the items stream")
	assert.Len(t, res.Logs, 1)
}

func TestSafeRunPreservesInputOnError(t *testing.T) {
	in := items.Items{items.Record{"x": items.Int(1)}}
	res := SafeRun(erroringNode{}, &Context{}, in)

	assert.Error(t, res.Err)
	assert.Equal(t, in, res.Items)
}

func TestDiscoverRegistersBuiltinTypes(t *testing.T) {
	r, err := Discover([]Provider{BuiltinProvider})
	require.NoError(t, err)

	for _, typeName := range []string{"Code", "LLMChat", "ReadState", "WriteState", "IncrementCounter", "Map", "Filter", "Merge", "Split"} {
		_, ok := r.Get(typeName)
		assert.True(t, ok, "expected builtin type %q to be registered", typeName)
	}
}

func TestBuildUnknownTypeErrors(t *testing.T) {
	r, err := Discover([]Provider{BuiltinProvider})
	require.NoError(t, err)

	_, err = r.Build("DoesNotExist", items.Record{})
	assert.Error(t, err)
}
