// README: Ledger entries and the stock records projected from them.
package inventory

import (
	"errors"
	"fmt"
	"time"

	"dropmart/internal/types"
)

// Kind enumerates stock-affecting events.
type Kind string

const (
	KindRestock    Kind = "restock"
	KindSale       Kind = "sale"
	KindReturn     Kind = "return"
	KindAdjustment Kind = "adjustment"
	KindTransfer   Kind = "transfer"
)

// Defaults applied when a stock record is first created by the ledger.
const (
	DefaultMinStockLevel = 5
	DefaultMaxStockLevel = 100
	DefaultReorderPoint  = 10
)

// StockRecord is the materialized balance for one (store, product) key.
type StockRecord struct {
	StoreID       types.ID  `json:"storeId"`
	ProductID     types.ID  `json:"productId"`
	Quantity      int       `json:"quantity"`
	MinStockLevel int       `json:"minStockLevel"`
	MaxStockLevel int       `json:"maxStockLevel"`
	ReorderPoint  int       `json:"reorderPoint"`
	LowStock      bool      `json:"lowStock"`
	Version       int       `json:"version"`
	UpdatedAt     time.Time `json:"lastUpdated"`
}

// Transaction is an immutable ledger row. Corrections are new offsetting rows.
type Transaction struct {
	ID           types.ID  `json:"id"`
	StoreID      types.ID  `json:"storeId"`
	ProductID    types.ID  `json:"productId"`
	Delta        int       `json:"quantity"`
	Kind         Kind      `json:"type"`
	ReferenceID  string    `json:"referenceId,omitempty"`
	Actor        types.ID  `json:"actor"`
	Notes        string    `json:"notes,omitempty"`
	BalanceAfter int       `json:"balanceAfter"`
	CreatedAt    time.Time `json:"timestamp"`
}

// Entry is a ledger append request.
type Entry struct {
	StoreID     types.ID
	ProductID   types.ID
	Delta       int
	Kind        Kind
	ReferenceID string
	Actor       types.ID
	Notes       string
}

// StoreQuantity is one store's on-hand quantity of a product.
type StoreQuantity struct {
	StoreID  types.ID `json:"storeId"`
	Quantity int      `json:"quantity"`
}

// Availability maps productID to stores holding it, in discovery order.
type Availability map[types.ID][]StoreQuantity

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidEntry      = errors.New("inventory: invalid ledger entry")
)

// InsufficientStockError names the product (and store when known) that could not cover the request.
type InsufficientStockError struct {
	ProductID types.ID
	StoreID   types.ID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.StoreID == "" {
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for product %s at store %s: requested %d, available %d", e.ProductID, e.StoreID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func newRecord(storeID, productID types.ID) *StockRecord {
	return &StockRecord{
		StoreID:       storeID,
		ProductID:     productID,
		MinStockLevel: DefaultMinStockLevel,
		MaxStockLevel: DefaultMaxStockLevel,
		ReorderPoint:  DefaultReorderPoint,
	}
}
