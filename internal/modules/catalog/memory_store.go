// README: In-memory catalog used by DROPMART_STORE=memory and tests.
package catalog

import (
	"context"
	"sync"

	"dropmart/internal/types"
)

type MemoryStore struct {
	mu       sync.RWMutex
	products map[types.ID]Product
	vendors  map[types.ID]Vendor
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[types.ID]Product),
		vendors:  make(map[types.ID]Vendor),
	}
}

func (m *MemoryStore) Products(_ context.Context, ids []types.ID) (map[types.ID]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.ID]Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *MemoryStore) Vendors(_ context.Context, ids []types.ID) (map[types.ID]Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.ID]Vendor, len(ids))
	for _, id := range ids {
		if v, ok := m.vendors[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertProduct(_ context.Context, p Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *MemoryStore) UpsertVendor(_ context.Context, v Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendors[v.ID] = v
	return nil
}
