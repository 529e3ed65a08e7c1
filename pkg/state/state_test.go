package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/engine/pkg/items"
)

func TestNewSeedsWorkingFromLSS(t *testing.T) {
	m := New(items.Record{"score": items.Int(1)})
	working := m.GetWorking()
	v, ok := working.Get("score")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(1), i)
}

func TestGetForPromptOverridesPendingFromLSS(t *testing.T) {
	m := New(items.Record{"hp": items.Int(10)})

	m.UpdateSync(items.Record{"hp": items.Int(7)})
	m.StartAsyncUpdate([]string{"hp"})

	// pending keys fall back to LSS, not Working, until the async update lands.
	prompt := m.GetForPrompt()
	v, ok := prompt.Get("hp")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(7), i)
}

func TestGetForPromptOmitsMissingPendingKeys(t *testing.T) {
	m := New(nil)
	m.StartAsyncUpdate([]string{"ghost"})

	prompt := m.GetForPrompt()
	_, ok := prompt.Get("ghost")
	assert.False(t, ok)
}

func TestCompleteAsyncUpdateClearsPending(t *testing.T) {
	m := New(nil)
	m.StartAsyncUpdate([]string{"hp"})
	assert.Contains(t, m.Pending(), "hp")

	m.CompleteAsyncUpdate(items.Record{"hp": items.Int(5)})
	assert.NotContains(t, m.Pending(), "hp")

	v, ok := m.Read("hp")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(5), i)
}

func TestUpdateSyncWritesBothWorkingAndLSS(t *testing.T) {
	m := New(nil)
	m.UpdateSync(items.Record{"gold": items.Int(3)})

	lss := m.GetLSS()
	v, ok := lss.Get("gold")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(3), i)
}
