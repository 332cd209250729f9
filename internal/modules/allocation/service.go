// README: Allocation service; plans against live availability and debits the ledger.
package allocation

import (
	"context"

	"go.uber.org/zap"

	"dropmart/internal/logger"
	"dropmart/internal/modules/inventory"
	"dropmart/internal/types"
)

// StockLedger is the subset of inventory.Ledger the engine needs.
type StockLedger interface {
	GetAvailability(ctx context.Context, productIDs []types.ID) (inventory.Availability, error)
	ApplyBatch(ctx context.Context, entries []inventory.Entry) ([]inventory.Transaction, error)
}

// Ranker reorders candidate stores by proximity to a point. Unknown stores keep
// their relative position after the ranked ones.
type Ranker interface {
	RankStores(ctx context.Context, candidates []types.ID, near types.Point) ([]types.ID, error)
}

// Request carries what allocation needs from the order being placed.
type Request struct {
	OrderID types.ID
	Actor   types.ID
	Lines   []Line
	Near    types.Point
}

type Service struct {
	ledger StockLedger
	ranker Ranker
	log    *zap.Logger
}

// NewService builds the engine; ranker may be nil to keep discovery order.
func NewService(ledger StockLedger, ranker Ranker, log *zap.Logger) *Service {
	return &Service{ledger: ledger, ranker: ranker, log: logger.OrNop(log)}
}

// Allocate plans req.Lines and appends one sale entry per (store, product)
// referencing req.OrderID. Call it inside the unit of work that persists the
// order so debits and order creation commit together.
func (s *Service) Allocate(ctx context.Context, req Request) (Result, error) {
	lines, err := Normalize(req.Lines)
	if err != nil {
		return Result{}, err
	}
	ids := make([]types.ID, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	avail, err := s.ledger.GetAvailability(ctx, ids)
	if err != nil {
		return Result{}, err
	}

	candidates := DiscoveryOrder(lines, avail)
	if s.ranker != nil && !req.Near.IsZero() && len(candidates) > 1 {
		ranked, err := s.ranker.RankStores(ctx, candidates, req.Near)
		if err != nil {
			s.log.Warn("[Allocate] proximity ranking unavailable, using discovery order",
				zap.String("order_id", string(req.OrderID)), zap.Error(err))
		} else {
			candidates = ranked
		}
	}

	res, err := Plan(lines, avail, candidates)
	if err != nil {
		return Result{}, err
	}

	entries := make([]inventory.Entry, 0, len(lines))
	for _, a := range res.Allocations {
		for _, it := range a.Items {
			entries = append(entries, inventory.Entry{
				StoreID:     a.StoreID,
				ProductID:   it.ProductID,
				Delta:       -it.Quantity,
				Kind:        inventory.KindSale,
				ReferenceID: string(req.OrderID),
				Actor:       req.Actor,
			})
		}
	}
	if _, err := s.ledger.ApplyBatch(ctx, entries); err != nil {
		return Result{}, err
	}
	s.log.Debug("[Allocate] debited",
		zap.String("order_id", string(req.OrderID)),
		zap.Int("stores", len(res.Allocations)),
		zap.Bool("single_store", res.SingleStore))
	return res, nil
}
