// README: In-memory ledger and stock directory used by DROPMART_STORE=memory and tests.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dropmart/internal/infra"
	"dropmart/internal/types"
)

type stockKey struct {
	store   types.ID
	product types.ID
}

// MemoryStore keeps the same version semantics as Store. Writes made inside a
// unit of work register compensations through infra.OnRollback.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[stockKey]StockRecord
	order   []stockKey
	txns    []Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[stockKey]StockRecord)}
}

func (m *MemoryStore) GetStock(_ context.Context, storeID, productID types.ID) (*StockRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[stockKey{storeID, productID}]
	if !ok {
		return nil, fmt.Errorf("stock %s/%s: %w", storeID, productID, types.ErrNotFound)
	}
	return &r, nil
}

func (m *MemoryStore) ListLowStock(_ context.Context, storeID types.ID) ([]StockRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StockRecord
	for _, k := range m.order {
		if k.store != storeID {
			continue
		}
		if r := m.records[k]; r.LowStock {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) Availability(_ context.Context, productIDs []types.ID) (Availability, error) {
	want := make(map[types.ID]struct{}, len(productIDs))
	for _, id := range productIDs {
		want[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Availability, len(productIDs))
	for _, k := range m.order {
		if _, ok := want[k.product]; !ok {
			continue
		}
		if r := m.records[k]; r.Quantity > 0 {
			out[k.product] = append(out[k.product], StoreQuantity{StoreID: k.store, Quantity: r.Quantity})
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertStock(ctx context.Context, r *StockRecord) error {
	k := stockKey{r.StoreID, r.ProductID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[k]; exists {
		return types.ErrConflict
	}
	r.Version = 0
	m.records[k] = *r
	m.order = append(m.order, k)
	infra.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.records, k)
		for i, o := range m.order {
			if o == k {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (m *MemoryStore) UpdateStock(ctx context.Context, r *StockRecord, version int) (bool, error) {
	k := stockKey{r.StoreID, r.ProductID}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.records[k]
	if !ok || prev.Version != version {
		return false, nil
	}
	r.Version = version + 1
	m.records[k] = *r
	infra.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.records[k] = prev
	})
	return true, nil
}

func (m *MemoryStore) AppendTransaction(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns = append(m.txns, *t)
	id := t.ID
	infra.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i := len(m.txns) - 1; i >= 0; i-- {
			if m.txns[i].ID == id {
				m.txns = append(m.txns[:i], m.txns[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (m *MemoryStore) History(_ context.Context, storeID, productID types.ID, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Transaction
	for i := len(m.txns) - 1; i >= 0 && len(out) < limit; i-- {
		t := m.txns[i]
		if t.StoreID == storeID && t.ProductID == productID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
