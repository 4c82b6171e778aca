// Package checkpoint provides CheckpointStore implementations.
package checkpoint

import (
	"context"
	"fmt"
	"sync"

	es "github.com/terraskye/eventsourcing-engine"
)

var _ es.CheckpointStore = (*MemoryStore)(nil)

// MemoryStore keeps checkpoints in a map. It is lost on restart and meant
// for tests and single process projections.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]uint64)}
}

func (m *MemoryStore) Load(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[subscriptionID]
	return pos, ok, nil
}

func (m *MemoryStore) Store(ctx context.Context, subscriptionID string, position uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.positions[subscriptionID]; ok && position < current {
		return fmt.Errorf("%w: %s at %d, got %d", es.ErrCheckpointRegressed, subscriptionID, current, position)
	}
	m.positions[subscriptionID] = position
	return nil
}
