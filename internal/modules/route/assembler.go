// README: Route assembly: per-store pickup stops plus the customer drop-off.
package route

import (
	"slices"

	"dropmart/internal/modules/catalog"
	"dropmart/internal/modules/order"
	"dropmart/internal/types"
)

// Assembler is pure: the same order and vendors always give the same route.
type Assembler struct{}

// Build groups line items by store in first-appearance order. Product ids are
// listed once per stop even when a product appears on several lines.
func (Assembler) Build(o *order.Order, stores map[types.ID]catalog.Vendor) *order.Route {
	r := &order.Route{
		StorePickups: []order.StorePickup{},
		CustomerDropoff: order.Dropoff{
			Location: o.DeliveryAddress.Coordinates,
			Address:  o.DeliveryAddress.AddressLine,
		},
	}
	pos := make(map[types.ID]int)
	for _, it := range o.Items {
		i, ok := pos[it.StoreID]
		if !ok {
			v := stores[it.StoreID]
			name := v.Name
			if name == "" {
				name = it.StoreName
			}
			i = len(r.StorePickups)
			pos[it.StoreID] = i
			r.StorePickups = append(r.StorePickups, order.StorePickup{
				StoreID:   it.StoreID,
				StoreName: name,
				Location:  v.Location,
			})
		}
		if !slices.Contains(r.StorePickups[i].Items, it.ProductID) {
			r.StorePickups[i].Items = append(r.StorePickups[i].Items, it.ProductID)
		}
	}
	return r
}
