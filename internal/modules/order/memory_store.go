// README: In-memory order store used by DROPMART_STORE=memory and tests.
package order

import (
	"context"
	"fmt"
	"sync"

	"dropmart/internal/infra"
	"dropmart/internal/types"
)

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[types.ID]*Order
	events []Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]*Order)}
}

func (m *MemoryStore) Create(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.ID]; exists {
		return fmt.Errorf("order %s: %w", o.ID, types.ErrConflict)
	}
	m.orders[o.ID] = o.clone()
	id := o.ID
	infra.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.orders, id)
	})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, types.ErrNotFound)
	}
	return o.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, o *Order, from Status, version int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok || cur.Status != from || cur.StatusVersion != version {
		return false, nil
	}
	prev := cur.clone()
	next := o.clone()
	next.StatusVersion = version + 1
	next.OptimizedRoute = cur.OptimizedRoute
	m.orders[o.ID] = next
	o.StatusVersion = version + 1
	infra.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.orders[prev.ID].StatusVersion == version+1 {
			m.orders[prev.ID] = prev
		}
	})
	return true, nil
}

func (m *MemoryStore) SetRoute(_ context.Context, id types.ID, r *Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, types.ErrNotFound)
	}
	c := *r
	o.OptimizedRoute = &c
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	m.events = append(m.events, *e)
	id := e.ID
	infra.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i := range m.events {
			if m.events[i].ID == id {
				m.events = append(m.events[:i], m.events[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (m *MemoryStore) Events(_ context.Context, orderID types.ID) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}
