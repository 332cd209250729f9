// README: Vendor proximity index backed by Redis GEO.
package location

import (
	"context"
	"math"

	"github.com/redis/go-redis/v9"

	"dropmart/internal/types"
)

const vendorGeoKey = "dropmart:vendors:geo"

// Nearby is a vendor with its distance from the queried point.
type Nearby struct {
	VendorID   types.ID `json:"vendorId"`
	DistanceKm float64  `json:"distanceKm"`
}

type VendorIndex struct {
	redis *redis.Client
}

func NewVendorIndex(redis *redis.Client) *VendorIndex {
	return &VendorIndex{redis: redis}
}

func (x *VendorIndex) IndexVendor(ctx context.Context, id types.ID, at types.Point) error {
	return x.redis.GeoAdd(ctx, vendorGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: at.Lng,
		Latitude:  at.Lat,
	}).Err()
}

// RankStores orders candidates by distance from near. Stores missing from the
// index keep their relative order after every indexed store.
func (x *VendorIndex) RankStores(ctx context.Context, candidates []types.ID, near types.Point) ([]types.ID, error) {
	if len(candidates) < 2 {
		return candidates, nil
	}
	names := make([]string, len(candidates))
	for i, id := range candidates {
		names[i] = string(id)
	}
	positions, err := x.redis.GeoPos(ctx, vendorGeoKey, names...).Result()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		id   types.ID
		dist float64
	}
	ranked := make([]candidate, len(candidates))
	for i, id := range candidates {
		ranked[i] = candidate{id: id, dist: math.Inf(1)}
		if i < len(positions) && positions[i] != nil {
			ranked[i].dist = HaversineKm(near, types.Point{Lat: positions[i].Latitude, Lng: positions[i].Longitude})
		}
	}
	sortByDistance(ranked, func(c candidate) float64 { return c.dist })

	out := make([]types.ID, len(ranked))
	for i, c := range ranked {
		out[i] = c.id
	}
	return out, nil
}

// NearbyVendors lists indexed vendors within radiusKm of p, closest first.
func (x *VendorIndex) NearbyVendors(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error) {
	results, err := x.redis.GeoRadius(ctx, vendorGeoKey, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{VendorID: types.ID(r.Name), DistanceKm: r.Dist}
	}
	return out, nil
}
