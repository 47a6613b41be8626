// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package scheduling

import (
	"context"
	"fmt"
	"sync"
)

// MemorySequenceStore is an in-process SequenceStore. Production uses the
// database-backed implementation so positions survive restart; this one
// serves tests and the planning REPL's dry runs.
type MemorySequenceStore struct {
	mu        sync.Mutex
	positions map[string]int
}

// NewMemorySequenceStore creates an empty in-memory sequence store.
func NewMemorySequenceStore() *MemorySequenceStore {
	return &MemorySequenceStore{positions: make(map[string]int)}
}

// Position implements SequenceStore.
func (m *MemorySequenceStore) Position(_ context.Context, channelID int64, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[memSeqKey(channelID, key)], nil
}

// SetPosition implements SequenceStore.
func (m *MemorySequenceStore) SetPosition(_ context.Context, channelID int64, key string, pos int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[memSeqKey(channelID, key)] = pos
	return nil
}

func memSeqKey(channelID int64, key string) string {
	return fmt.Sprintf("%d/%s", channelID, key)
}
