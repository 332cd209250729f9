// README: In-memory transfer store used by DROPMART_STORE=memory and tests.
package transfer

import (
	"context"
	"fmt"
	"sync"

	"dropmart/internal/infra"
	"dropmart/internal/types"
)

type MemoryStore struct {
	mu        sync.RWMutex
	transfers map[types.ID]*Transfer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transfers: make(map[types.ID]*Transfer)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transfers[t.ID]; ok {
		return fmt.Errorf("transfer %s: %w", t.ID, types.ErrConflict)
	}
	m.transfers[t.ID] = t.clone()
	id := t.ID
	infra.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.transfers, id)
	})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, fmt.Errorf("transfer %s: %w", id, types.ErrNotFound)
	}
	return t.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Transfer, from Status, version int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.transfers[t.ID]
	if !ok || cur.Status != from || cur.StatusVersion != version {
		return false, nil
	}
	prev := cur
	nt := t.clone()
	nt.StatusVersion = version + 1
	m.transfers[t.ID] = nt
	t.StatusVersion = version + 1
	infra.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.transfers[prev.ID].StatusVersion == version+1 {
			m.transfers[prev.ID] = prev
		}
	})
	return true, nil
}
