// README: Catalog entries referenced by inventory, allocation and route assembly.
package catalog

import (
	"dropmart/internal/types"
)

type VendorKind string

const (
	VendorGrocery    VendorKind = "grocery"
	VendorRestaurant VendorKind = "restaurant"
)

type Product struct {
	ID        types.ID    `json:"id"`
	Name      string      `json:"name"`
	Category  string      `json:"category"`
	UnitPrice types.Money `json:"price"`
	Unit      string      `json:"unit"`
}

// Vendor is a store or hotel that holds stock and hands orders to agents.
type Vendor struct {
	ID       types.ID    `json:"id"`
	Name     string      `json:"name"`
	Kind     VendorKind  `json:"kind"`
	Location types.Point `json:"location"`
	Address  string      `json:"address"`
}
