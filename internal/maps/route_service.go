package maps

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"dropmart/internal/types"
)

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with the Google Directions API.
type RouteService struct {
	client directionsClient
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Plan is the provider's answer for a multi-stop trip.
type Plan struct {
	// Order holds indexes into the requested stops in visiting order.
	Order    []int
	Meters   int
	Duration time.Duration
}

// OptimizeStops asks Directions to reorder stops between origin and
// destination. Driving mode is assumed.
func (s *RouteService) OptimizeStops(ctx context.Context, origin types.Point, stops []types.Point, destination types.Point) (Plan, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
		Optimize:    len(stops) > 1,
	}
	for _, p := range stops {
		r.Waypoints = append(r.Waypoints, latLng(p))
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Plan{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Plan{}, fmt.Errorf("no route found")
	}

	best := routes[0]
	plan := Plan{Order: best.WaypointOrder}
	if len(plan.Order) != len(stops) {
		plan.Order = make([]int, len(stops))
		for i := range plan.Order {
			plan.Order[i] = i
		}
	}
	for _, leg := range best.Legs {
		plan.Meters += leg.Distance.Meters
		plan.Duration += leg.Duration
	}
	return plan, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
