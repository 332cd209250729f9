// README: Pickup sequencing delegated to the directions provider.
package route

import (
	"context"
	"time"

	"dropmart/internal/maps"
	"dropmart/internal/modules/order"
	"dropmart/internal/types"
)

type StopOptimizer interface {
	OptimizeStops(ctx context.Context, origin types.Point, stops []types.Point, destination types.Point) (maps.Plan, error)
}

// Sequencer reorders pickups using the provider's waypoint optimisation. The
// first assembled pickup stays the origin; the drop-off is the destination.
type Sequencer struct {
	provider StopOptimizer
}

func NewSequencer(provider StopOptimizer) *Sequencer {
	return &Sequencer{provider: provider}
}

func (s *Sequencer) Sequence(ctx context.Context, r *order.Route) (*order.Route, error) {
	if len(r.StorePickups) == 0 {
		return r, nil
	}
	first := r.StorePickups[0]
	rest := r.StorePickups[1:]
	stops := make([]types.Point, len(rest))
	for i, p := range rest {
		stops[i] = p.Location
	}

	plan, err := s.provider.OptimizeStops(ctx, first.Location, stops, r.CustomerDropoff.Location)
	if err != nil {
		return nil, err
	}

	out := *r
	out.StorePickups = make([]order.StorePickup, 0, len(r.StorePickups))
	out.StorePickups = append(out.StorePickups, first)
	for _, idx := range plan.Order {
		out.StorePickups = append(out.StorePickups, rest[idx])
	}
	out.Sequenced = true
	out.DistanceMeters = plan.Meters
	out.DurationSeconds = int(plan.Duration / time.Second)
	return &out, nil
}
