package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseRegistryRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	require.NoError(t, r.Register("a", 1))
	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestBaseRegistryConflictingRegisterErrors(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	err := r.Register("a", 2)
	assert.Error(t, err)

	v, _ := r.Get("a")
	assert.Equal(t, 1, v, "a failed re-registration must not change the stored value")
}

func TestBaseRegistryOverrideReplacesUnconditionally(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	r.Override("a", 2)

	v, _ := r.Get("a")
	assert.Equal(t, 2, v)
}

func TestBaseRegistryEmptyNameRejected(t *testing.T) {
	r := NewBaseRegistry[int]()
	assert.Error(t, r.Register("", 1))
}

func TestBaseRegistryRemove(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	require.NoError(t, r.Remove("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)

	assert.Error(t, r.Remove("a"), "removing a missing name is an error")
}

func TestBaseRegistryCountNamesList(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("a", "x"))
	require.NoError(t, r.Register("b", "y"))

	assert.Equal(t, 2, r.Count())
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
	assert.ElementsMatch(t, []string{"x", "y"}, r.List())
}
