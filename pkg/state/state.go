// Package state implements the dual-state (Working / Last-Stable-State)
// manager with pending-key fallback for prompt construction (C5),
// per spec.md §3 ("State") and §4.5.
package state

import (
	"sync"

	"github.com/storyforge/engine/pkg/items"
)

// Manager is a single-session state manager. All mutations are serialized
// by an internal lock (spec.md §4.5: "all state mutations are serialized
// by a per-session lock"); every getter returns a deep copy so callers can
// never observe or corrupt internal storage.
type Manager struct {
	mu      sync.Mutex
	lss     items.Record
	working items.Record
	pending map[string]bool
}

// New creates a Manager seeded from lss. Per spec.md §3 ("On creation,
// Working := deep-copy(LSS), pending := ∅").
func New(lss items.Record) *Manager {
	lssCopy := lss.DeepCopy()
	if lssCopy == nil {
		lssCopy = items.Record{}
	}
	return &Manager{
		lss:     lssCopy,
		working: lssCopy.DeepCopy(),
		pending: make(map[string]bool),
	}
}

// GetWorking returns a deep copy of Working.
func (m *Manager) GetWorking() items.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.working.DeepCopy()
}

// Read returns Working.get(key).
func (m *Manager) Read(key string) (items.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.working[key]
	return v.DeepCopy(), ok
}

// GetLSS returns a deep copy of LSS, used when taking a Snapshot.
func (m *Manager) GetLSS() items.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lss.DeepCopy()
}

// GetForPrompt returns a deep copy of Working with each key in pending
// overridden by LSS[key]; missing keys are omitted. Per spec.md §3/§4.5.
func (m *Manager) GetForPrompt() items.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.working.DeepCopy()
	for key := range m.pending {
		if v, ok := m.lss[key]; ok {
			out[key] = v.DeepCopy()
		} else {
			delete(out, key)
		}
	}
	return out
}

// UpdateSync applies updates to both Working and LSS atomically, never
// touching pending. Per spec.md §3 ("Synchronous update via
// update_state_sync").
func (m *Manager) UpdateSync(updates items.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lss = m.lss.Merge(updates)
	m.working = m.working.Merge(updates)
}

// StartAsyncUpdate marks keys as pending (idempotent), per spec.md §4.5.
func (m *Manager) StartAsyncUpdate(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.pending[k] = true
	}
}

// CompleteAsyncUpdate atomically writes updates to LSS and Working and
// removes their keys from pending. Per spec.md §3
// ("On complete_async_update(updates)").
func (m *Manager) CompleteAsyncUpdate(updates items.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lss = m.lss.Merge(updates)
	m.working = m.working.Merge(updates)
	for k := range updates {
		delete(m.pending, k)
	}
}

// Pending returns the current set of pending keys (a copy), mostly useful
// for tests and introspection.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for k := range m.pending {
		out = append(out, k)
	}
	return out
}
