// README: Domain events emitted by the engine for the notification channel.
package notify

import (
	"time"

	"dropmart/internal/types"
)

type EventType string

const (
	EventOrderCreated  EventType = "order.created"
	EventStatusChanged EventType = "order.status_changed"
	EventStorePickedUp EventType = "order.store_picked_up"
	EventLowStock      EventType = "inventory.low_stock"
	EventTransferDone  EventType = "transfer.completed"
)

// Event is the wire payload; Data carries event-specific string fields so the
// same body can be routed through AMQP and FCM data messages.
type Event struct {
	Type       EventType         `json:"type"`
	OrderID    types.ID          `json:"orderId,omitempty"`
	StoreID    types.ID          `json:"storeId,omitempty"`
	ProductID  types.ID          `json:"productId,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}
