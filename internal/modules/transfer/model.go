// README: Stock transfers between two stores of the same vendor network.
package transfer

import (
	"errors"
	"fmt"
	"time"

	"dropmart/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusInTransit Status = "in_transit"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Item struct {
	ProductID types.ID `json:"productId"`
	Quantity  int      `json:"quantity"`
}

type Transfer struct {
	ID            types.ID   `json:"id"`
	FromStoreID   types.ID   `json:"fromStoreId"`
	ToStoreID     types.ID   `json:"toStoreId"`
	Status        Status     `json:"status"`
	StatusVersion int        `json:"statusVersion"`
	Items         []Item     `json:"items"`
	InitiatedBy   types.ID   `json:"initiatedBy"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	DispatchedAt  *time.Time `json:"dispatchedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
}

func (t *Transfer) clone() *Transfer {
	c := *t
	c.Items = append([]Item(nil), t.Items...)
	return &c
}

var (
	ErrInvalidTransfer = fmt.Errorf("invalid transfer: %w", types.ErrBadRequest)
	ErrIllegalStatus   = errors.New("illegal transfer status change")
)

// next lists the statuses reachable from each status.
var next = map[Status][]Status{
	StatusPending:   {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusCompleted, StatusCancelled},
}

func canMove(from, to Status) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
