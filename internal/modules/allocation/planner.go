// README: Pure allocation planning over a stock availability snapshot.
package allocation

import (
	"fmt"
	"sort"

	"dropmart/internal/modules/inventory"
	"dropmart/internal/types"
)

// Normalize merges duplicate products by summing quantities, keeping first-seen order.
func Normalize(cart []Line) ([]Line, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}
	idx := make(map[types.ID]int, len(cart))
	out := make([]Line, 0, len(cart))
	for _, l := range cart {
		if l.ProductID == "" {
			return nil, fmt.Errorf("%w: product id required", ErrInvalidQuantity)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s quantity %d", ErrInvalidQuantity, l.ProductID, l.Quantity)
		}
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}

// DiscoveryOrder lists every store that appears in the availability of any
// line, in the order first encountered walking the cart.
func DiscoveryOrder(lines []Line, avail inventory.Availability) []types.ID {
	seen := make(map[types.ID]struct{})
	var out []types.ID
	for _, l := range lines {
		for _, sq := range avail[l.ProductID] {
			if _, ok := seen[sq.StoreID]; ok {
				continue
			}
			seen[sq.StoreID] = struct{}{}
			out = append(out, sq.StoreID)
		}
	}
	return out
}

// Plan assigns lines to stores. candidates sets the single-store pass order;
// nil means discovery order. lines must already be normalized.
func Plan(lines []Line, avail inventory.Availability, candidates []types.ID) (Result, error) {
	if len(lines) == 0 {
		return Result{}, ErrEmptyCart
	}
	if candidates == nil {
		candidates = DiscoveryOrder(lines, avail)
	}
	if store, ok := singleStore(lines, avail, candidates); ok {
		items := make([]Item, len(lines))
		for i, l := range lines {
			items[i] = Item{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		return Result{Allocations: []Allocation{{StoreID: store, Items: items}}, SingleStore: true}, nil
	}
	allocs, err := split(lines, avail)
	if err != nil {
		return Result{}, err
	}
	return Result{Allocations: allocs}, nil
}

func singleStore(lines []Line, avail inventory.Availability, candidates []types.ID) (types.ID, bool) {
	for _, store := range candidates {
		ok := true
		for _, l := range lines {
			if quantityAt(avail[l.ProductID], store) < l.Quantity {
				ok = false
				break
			}
		}
		if ok {
			return store, true
		}
	}
	return "", false
}

func quantityAt(list []inventory.StoreQuantity, store types.ID) int {
	for _, sq := range list {
		if sq.StoreID == store {
			return sq.Quantity
		}
	}
	return 0
}

// split is the greedy fallback: each line draws from the store holding the
// most remaining stock, ties going to the earlier discovered store.
func split(lines []Line, avail inventory.Availability) ([]Allocation, error) {
	working := make(map[types.ID][]inventory.StoreQuantity, len(avail))
	for pid, list := range avail {
		working[pid] = append([]inventory.StoreQuantity(nil), list...)
	}

	var allocs []Allocation
	pos := make(map[types.ID]int)
	assign := func(store, product types.ID, qty int) {
		i, ok := pos[store]
		if !ok {
			i = len(allocs)
			pos[store] = i
			allocs = append(allocs, Allocation{StoreID: store})
		}
		allocs[i].Items = append(allocs[i].Items, Item{ProductID: product, Quantity: qty})
	}

	for _, l := range lines {
		remaining := l.Quantity
		stores := working[l.ProductID]
		for remaining > 0 {
			sort.SliceStable(stores, func(i, j int) bool { return stores[i].Quantity > stores[j].Quantity })
			if len(stores) == 0 || stores[0].Quantity <= 0 {
				return nil, &inventory.InsufficientStockError{
					ProductID: l.ProductID,
					Requested: l.Quantity,
					Available: l.Quantity - remaining,
				}
			}
			take := min(remaining, stores[0].Quantity)
			assign(stores[0].StoreID, l.ProductID, take)
			stores[0].Quantity -= take
			remaining -= take
		}
	}
	return allocs, nil
}
