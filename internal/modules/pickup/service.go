// README: Pickup verification gates ACCEPTED_BY_AGENT -> PICKED_UP behind PIN and geofence checks.
package pickup

import (
	"context"
	"crypto/subtle"
	"errors"

	"go.uber.org/zap"

	"dropmart/internal/logger"
	"dropmart/internal/modules/catalog"
	"dropmart/internal/modules/location"
	"dropmart/internal/modules/order"
	"dropmart/internal/types"
)

// ErrVerificationFailed is deliberately opaque: callers never learn which check failed.
var ErrVerificationFailed = errors.New("pickup verification failed")

// DefaultGeofenceKm is the maximum agent-to-store distance accepted for a handover.
const DefaultGeofenceKm = 0.1

type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	CheckPickup(o *order.Order, storeID, agentID types.ID) error
	MarkPickedUp(ctx context.Context, cmd order.PickupCommand) (*order.Order, error)
}

type Vendors interface {
	Vendor(ctx context.Context, id types.ID) (catalog.Vendor, error)
}

// PositionSource supplies a trusted agent position instead of the client-reported one.
type PositionSource interface {
	AgentPosition(ctx context.Context, agentID types.ID) (location.Fix, error)
}

type Request struct {
	OrderID  types.ID
	StoreID  types.ID
	AgentID  types.ID
	PIN      string
	Position types.Point
}

type Service struct {
	orders     Orders
	vendors    Vendors
	limiter    AttemptLimiter
	positions  PositionSource
	geofenceKm float64
	log        *zap.Logger
}

type Option func(*Service)

// WithTrustedPositions makes the verifier ignore client coordinates.
func WithTrustedPositions(src PositionSource) Option {
	return func(s *Service) { s.positions = src }
}

func WithGeofence(km float64) Option {
	return func(s *Service) {
		if km > 0 {
			s.geofenceKm = km
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(log) }
}

func NewService(orders Orders, vendors Vendors, limiter AttemptLimiter, opts ...Option) *Service {
	s := &Service{
		orders:     orders,
		vendors:    vendors,
		limiter:    limiter,
		geofenceKm: DefaultGeofenceKm,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify checks PIN and proximity for one store of the order and, when both
// hold, records the handover. Failures never mutate the order.
func (s *Service) Verify(ctx context.Context, req Request) (*order.Order, error) {
	o, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Collected(req.StoreID) && o.AgentID == req.AgentID {
		return o, nil
	}
	if err := s.orders.CheckPickup(o, req.StoreID, req.AgentID); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		blocked, err := s.limiter.Blocked(ctx, req.OrderID, req.StoreID)
		if err != nil {
			return nil, err
		}
		if blocked {
			s.log.Warn("[Verify] attempts exhausted",
				zap.String("order_id", string(req.OrderID)),
				zap.String("store_id", string(req.StoreID)),
				zap.String("agent_id", string(req.AgentID)))
			return nil, ErrVerificationFailed
		}
	}

	pos := req.Position
	if s.positions != nil {
		fix, err := s.positions.AgentPosition(ctx, req.AgentID)
		if err != nil {
			return nil, s.fail(ctx, req, "position", err)
		}
		pos = fix.Position
	}

	vendor, err := s.vendors.Vendor(ctx, req.StoreID)
	if err != nil {
		return nil, err
	}

	pinOK := subtle.ConstantTimeCompare([]byte(o.StorePins[req.StoreID]), []byte(req.PIN)) == 1
	inside := location.Within(vendor.Location, pos, s.geofenceKm)
	if !pinOK || !inside {
		reason := "pin"
		if pinOK {
			reason = "geofence"
		}
		return nil, s.fail(ctx, req, reason, nil)
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, req.OrderID, req.StoreID); err != nil {
			s.log.Warn("[Verify] reset attempts", zap.String("order_id", string(req.OrderID)), zap.Error(err))
		}
	}
	return s.orders.MarkPickedUp(ctx, order.PickupCommand{
		OrderID: req.OrderID,
		StoreID: req.StoreID,
		AgentID: req.AgentID,
	})
}

// fail counts the attempt and logs the concrete reason server-side only.
func (s *Service) fail(ctx context.Context, req Request, reason string, cause error) error {
	if s.limiter != nil {
		if err := s.limiter.Fail(ctx, req.OrderID, req.StoreID); err != nil {
			s.log.Warn("[Verify] count attempt", zap.String("order_id", string(req.OrderID)), zap.Error(err))
		}
	}
	fields := []zap.Field{
		zap.String("order_id", string(req.OrderID)),
		zap.String("store_id", string(req.StoreID)),
		zap.String("agent_id", string(req.AgentID)),
		zap.String("reason", reason),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.log.Info("[Verify] rejected", fields...)
	return ErrVerificationFailed
}
