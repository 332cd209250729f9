// README: Order handlers: placement, transitions, pickup verification, payment and route.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmart/internal/logger"
	"dropmart/internal/modules/allocation"
	"dropmart/internal/modules/order"
	"dropmart/internal/modules/pickup"
	"dropmart/internal/types"
)

type OrderHandler struct {
	orders *order.Service
	pickup *pickup.Service
	log    *zap.Logger
}

func NewOrderHandler(orders *order.Service, pickupSvc *pickup.Service, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, pickup: pickupSvc, log: logger.OrNop(log)}
}

type placeOrderReq struct {
	Items []struct {
		ProductID string `json:"productId" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required,gt=0"`
	} `json:"items" binding:"required,min=1,dive"`
	DeliveryAddress struct {
		AddressLine string  `json:"addressLine" binding:"required"`
		Lat         float64 `json:"lat" binding:"latitude"`
		Lng         float64 `json:"lng" binding:"longitude"`
	} `json:"deliveryAddress" binding:"required"`
	PaymentMethod        string `json:"paymentMethod" binding:"required,oneof=cash online"`
	DeliveryInstructions string `json:"deliveryInstructions" binding:"max=500"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req placeOrderReq
	if !bindJSON(c, &req) {
		return
	}
	uid, _ := caller(c)
	lines := make([]allocation.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = allocation.Line{ProductID: types.ID(it.ProductID), Quantity: it.Quantity}
	}
	o, err := h.orders.Place(c.Request.Context(), order.PlaceCommand{
		CustomerID: uid,
		Items:      lines,
		DeliveryAddress: order.Address{
			AddressLine: req.DeliveryAddress.AddressLine,
			Coordinates: types.Point{Lat: req.DeliveryAddress.Lat, Lng: req.DeliveryAddress.Lng},
		},
		PaymentMethod:        order.PaymentMethod(req.PaymentMethod),
		DeliveryInstructions: req.DeliveryInstructions,
	})
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, present(c, o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	if !canView(c, o) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(c, http.StatusOK, present(c, o))
}

type transitionReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *OrderHandler) Transition(c *gin.Context) {
	var req transitionReq
	if !bindJSON(c, &req) {
		return
	}
	uid, role := caller(c)
	o, err := h.orders.Transition(c.Request.Context(), order.TransitionCommand{
		OrderID: types.ID(c.Param("id")),
		To:      order.Status(req.Status),
		Role:    role,
		ActorID: uid,
	})
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, present(c, o))
}

type pickupReq struct {
	StoreID string  `json:"storeId" binding:"required"`
	PIN     string  `json:"pin" binding:"required,pin"`
	Lat     float64 `json:"lat" binding:"latitude"`
	Lng     float64 `json:"lng" binding:"longitude"`
}

func (h *OrderHandler) Pickup(c *gin.Context) {
	var req pickupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		// Malformed PINs count as failed verification, not as bad input.
		writeError(c, http.StatusForbidden, "verification failed")
		return
	}
	uid, _ := caller(c)
	o, err := h.pickup.Verify(c.Request.Context(), pickup.Request{
		OrderID:  types.ID(c.Param("id")),
		StoreID:  types.ID(req.StoreID),
		AgentID:  uid,
		PIN:      req.PIN,
		Position: types.Point{Lat: req.Lat, Lng: req.Lng},
	})
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, present(c, o))
}

type paymentReq struct {
	PaymentStatus string `json:"paymentStatus" binding:"required,oneof=completed failed"`
}

func (h *OrderHandler) Payment(c *gin.Context) {
	var req paymentReq
	if !bindJSON(c, &req) {
		return
	}
	uid, role := caller(c)
	o, err := h.orders.UpdatePayment(c.Request.Context(), order.PaymentCommand{
		OrderID: types.ID(c.Param("id")),
		Status:  order.PaymentStatus(req.PaymentStatus),
		Role:    role,
		ActorID: uid,
	})
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, present(c, o))
}

func (h *OrderHandler) Route(c *gin.Context) {
	ctx := c.Request.Context()
	id := types.ID(c.Param("id"))
	o, err := h.orders.Get(ctx, id)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	if !canView(c, o) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	r, err := h.orders.Route(ctx, id)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *OrderHandler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	id := types.ID(c.Param("id"))
	o, err := h.orders.Get(ctx, id)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	if !canView(c, o) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	events, err := h.orders.Events(ctx, id)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

// canView lets participants and admins read an order. Unassigned orders are
// visible to every agent so they can decide to accept.
func canView(c *gin.Context, o *order.Order) bool {
	uid, role := caller(c)
	switch role {
	case order.RoleAdmin:
		return true
	case order.RoleCustomer:
		return o.CustomerID == uid
	case order.RoleVendor:
		return o.HasStore(uid)
	case order.RoleAgent:
		return o.AgentID == "" || o.AgentID == uid
	}
	return false
}

// present strips PINs the caller must not see. Customers hold every PIN; a
// vendor sees only its own store's PIN; agents see none.
func present(c *gin.Context, o *order.Order) *order.Order {
	uid, role := caller(c)
	out := *o
	switch role {
	case order.RoleAdmin:
	case order.RoleCustomer:
		if o.CustomerID != uid {
			out.VerificationPIN, out.StorePins = "", nil
		}
	case order.RoleVendor:
		out.VerificationPIN, out.StorePins = "", nil
		if pin, ok := o.StorePins[uid]; ok {
			out.StorePins = map[types.ID]string{uid: pin}
		}
	default:
		out.VerificationPIN, out.StorePins = "", nil
	}
	return &out
}
