// README: Cart lines and store assignments produced by the allocation engine.
package allocation

import (
	"errors"

	"dropmart/internal/types"
)

var (
	ErrEmptyCart       = errors.New("allocation: cart is empty")
	ErrInvalidQuantity = errors.New("allocation: quantity must be positive")
)

// Line is one requested product and quantity.
type Line struct {
	ProductID types.ID `json:"productId"`
	Quantity  int      `json:"quantity"`
}

// Item is the share of a product a store will fulfil.
type Item struct {
	ProductID types.ID `json:"productId"`
	Quantity  int      `json:"quantity"`
}

// Allocation groups the items one store fulfils.
type Allocation struct {
	StoreID types.ID `json:"storeId"`
	Items   []Item   `json:"items"`
}

// Result is the outcome of planning. SingleStore is set when one store covers the whole cart.
type Result struct {
	Allocations []Allocation `json:"allocations"`
	SingleStore bool         `json:"singleStore"`
}

// StoreIDs lists participating stores in allocation order.
func (r Result) StoreIDs() []types.ID {
	ids := make([]types.ID, len(r.Allocations))
	for i, a := range r.Allocations {
		ids[i] = a.StoreID
	}
	return ids
}

// Quantity returns how much of productID is assigned to storeID.
func (r Result) Quantity(storeID, productID types.ID) int {
	total := 0
	for _, a := range r.Allocations {
		if a.StoreID != storeID {
			continue
		}
		for _, it := range a.Items {
			if it.ProductID == productID {
				total += it.Quantity
			}
		}
	}
	return total
}
