// README: Order aggregate, status definitions and the role-keyed transition table.
package order

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"dropmart/internal/types"
)

type Status string

const (
	StatusNone             Status = ""
	StatusPlaced           Status = "PLACED"
	StatusAcceptedByVendor Status = "ACCEPTED_BY_VENDOR"
	StatusPreparing        Status = "PREPARING"
	StatusReadyForPickup   Status = "READY_FOR_PICKUP"
	StatusAcceptedByAgent  Status = "ACCEPTED_BY_AGENT"
	StatusPickedUp         Status = "PICKED_UP"
	StatusOutForDelivery   Status = "OUT_FOR_DELIVERY"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
	StatusRejected         Status = "REJECTED"
)

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []Status{
	StatusPlaced, StatusAcceptedByVendor, StatusPreparing, StatusReadyForPickup,
	StatusAcceptedByAgent, StatusPickedUp, StatusOutForDelivery,
	StatusDelivered, StatusCancelled, StatusRejected,
}

func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRejected
}

// Role is the acting party's role as asserted by the auth collaborator.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

var AllRoles = []Role{RoleCustomer, RoleVendor, RoleAgent, RoleAdmin}

func (r Role) Valid() bool {
	return slices.Contains(AllRoles, r)
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type LineItem struct {
	ProductID types.ID    `json:"productId"`
	Name      string      `json:"name"`
	Price     types.Money `json:"price"`
	Quantity  int         `json:"quantity"`
	StoreID   types.ID    `json:"storeId"`
	StoreName string      `json:"storeName"`
}

type Address struct {
	AddressLine string      `json:"addressLine"`
	Coordinates types.Point `json:"coordinates"`
}

// StorePickup is one collection stop.
type StorePickup struct {
	StoreID   types.ID    `json:"storeId"`
	StoreName string      `json:"storeName"`
	Location  types.Point `json:"location"`
	Items     []types.ID  `json:"items"`
}

type Dropoff struct {
	Location types.Point `json:"location"`
	Address  string      `json:"address"`
}

// Route lists pickups then the drop-off. Sequenced is set once a directions
// provider has reordered StorePickups.
type Route struct {
	StorePickups    []StorePickup `json:"storePickups"`
	CustomerDropoff Dropoff       `json:"customerDropoff"`
	Sequenced       bool          `json:"sequenced,omitempty"`
	DistanceMeters  int           `json:"distanceMeters,omitempty"`
	DurationSeconds int           `json:"durationSeconds,omitempty"`
}

type Order struct {
	ID                   types.ID            `json:"id"`
	CustomerID           types.ID            `json:"customerId"`
	AgentID              types.ID            `json:"agentId,omitempty"`
	Status               Status              `json:"status"`
	StatusVersion        int                 `json:"statusVersion"`
	Items                []LineItem          `json:"items"`
	Total                types.Money         `json:"total"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
	DeliveryAddress      Address             `json:"deliveryAddress"`
	PaymentMethod        PaymentMethod       `json:"paymentMethod"`
	PaymentStatus        PaymentStatus       `json:"paymentStatus"`
	DeliveryInstructions string              `json:"deliveryInstructions,omitempty"`
	VerificationPIN      string              `json:"verificationPin,omitempty"`
	StorePins            map[types.ID]string `json:"storePins,omitempty"`
	CollectedStores      []types.ID          `json:"collectedStores,omitempty"`
	OptimizedRoute       *Route              `json:"optimizedRoute,omitempty"`
}

// StoreIDs lists participating stores in first-appearance order.
func (o *Order) StoreIDs() []types.ID {
	var out []types.ID
	for _, it := range o.Items {
		if !slices.Contains(out, it.StoreID) {
			out = append(out, it.StoreID)
		}
	}
	return out
}

func (o *Order) HasStore(storeID types.ID) bool {
	_, ok := o.StorePins[storeID]
	return ok
}

func (o *Order) Collected(storeID types.ID) bool {
	return slices.Contains(o.CollectedStores, storeID)
}

// AllCollected reports whether every participating store has handed over.
func (o *Order) AllCollected() bool {
	for id := range o.StorePins {
		if !o.Collected(id) {
			return false
		}
	}
	return true
}

func (o *Order) clone() *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.CollectedStores = slices.Clone(o.CollectedStores)
	c.StorePins = make(map[types.ID]string, len(o.StorePins))
	for k, v := range o.StorePins {
		c.StorePins[k] = v
	}
	if o.OptimizedRoute != nil {
		r := *o.OptimizedRoute
		r.StorePickups = slices.Clone(r.StorePickups)
		c.OptimizedRoute = &r
	}
	return &c
}

// Event is one row of the append-only status history. StoreID is set for
// per-store pickup records.
type Event struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"orderId"`
	FromStatus Status    `json:"from"`
	ToStatus   Status    `json:"to"`
	ActorRole  Role      `json:"actorRole"`
	ActorID    types.ID  `json:"actorId,omitempty"`
	StoreID    types.ID  `json:"storeId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// transitions is the order state flow as code: from -> to -> acting role.
var transitions = map[Status]map[Status]Role{
	StatusPlaced: {
		StatusAcceptedByVendor: RoleVendor,
		StatusRejected:         RoleVendor,
		StatusCancelled:        RoleCustomer,
	},
	StatusAcceptedByVendor: {StatusPreparing: RoleVendor},
	StatusPreparing:        {StatusReadyForPickup: RoleVendor},
	StatusReadyForPickup:   {StatusAcceptedByAgent: RoleAgent},
	StatusAcceptedByAgent:  {StatusPickedUp: RoleAgent},
	StatusPickedUp:         {StatusOutForDelivery: RoleAgent},
	StatusOutForDelivery:   {StatusDelivered: RoleAgent},
}

// Allowed reports whether role may move an order from -> to.
func Allowed(from, to Status, role Role) bool {
	r, ok := transitions[from][to]
	return ok && r == role
}

// enteredBy reports whether role is the one that moves orders into to.
func enteredBy(to Status, role Role) bool {
	for _, next := range transitions {
		if r, ok := next[to]; ok && r == role {
			return true
		}
	}
	return false
}

var (
	ErrIllegalTransition          = errors.New("illegal transition")
	ErrPickupRequiresVerification = errors.New("order: pickup requires PIN and location verification")
	ErrPickupIncomplete           = errors.New("order: not every store has handed over")
	ErrForbidden                  = errors.New("order: actor may not act on this order")
	ErrInvalidPayment             = errors.New("order: invalid payment status change")
	ErrBadRequest                 = fmt.Errorf("order: %w", types.ErrBadRequest)
)

// IllegalTransitionError names the current state, requested state and role.
type IllegalTransitionError struct {
	From Status
	To   Status
	Role Role
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s by %s", e.From, e.To, e.Role)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
