package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dropmart/internal/maps"
	"dropmart/internal/modules/catalog"
	"dropmart/internal/modules/order"
	"dropmart/internal/types"
)

var (
	locA = types.Point{Lat: 12.9716, Lng: 77.5946}
	locB = types.Point{Lat: 12.9352, Lng: 77.6245}
	locC = types.Point{Lat: 12.9279, Lng: 77.6271}
	home = types.Point{Lat: 12.9500, Lng: 77.6000}
)

func twoStoreOrder() *order.Order {
	return &order.Order{
		ID: "o-1",
		Items: []order.LineItem{
			{ProductID: "P1", Quantity: 5, StoreID: "B", StoreName: "Store B"},
			{ProductID: "P2", Quantity: 1, StoreID: "A", StoreName: "Store A"},
			{ProductID: "P3", Quantity: 2, StoreID: "B", StoreName: "Store B"},
		},
		DeliveryAddress: order.Address{AddressLine: "9 Church St", Coordinates: home},
	}
}

func vendors() map[types.ID]catalog.Vendor {
	return map[types.ID]catalog.Vendor{
		"A": {ID: "A", Name: "Store A", Location: locA},
		"B": {ID: "B", Name: "Store B", Location: locB},
		"C": {ID: "C", Name: "Hotel C", Location: locC},
	}
}

func TestBuildTwoStoreRoute(t *testing.T) {
	r := Assembler{}.Build(twoStoreOrder(), vendors())

	require.Equal(t, []order.StorePickup{
		{StoreID: "B", StoreName: "Store B", Location: locB, Items: []types.ID{"P1", "P3"}},
		{StoreID: "A", StoreName: "Store A", Location: locA, Items: []types.ID{"P2"}},
	}, r.StorePickups)
	require.Equal(t, order.Dropoff{Location: home, Address: "9 Church St"}, r.CustomerDropoff)
	require.False(t, r.Sequenced)
}

func TestBuildIsDeterministic(t *testing.T) {
	o := twoStoreOrder()
	require.Equal(t, Assembler{}.Build(o, vendors()), Assembler{}.Build(o, vendors()))
}

type fakeOptimizer struct {
	plan    maps.Plan
	err     error
	origin  types.Point
	stops   []types.Point
	destArg types.Point
}

func (f *fakeOptimizer) OptimizeStops(_ context.Context, origin types.Point, stops []types.Point, dest types.Point) (maps.Plan, error) {
	f.origin, f.stops, f.destArg = origin, stops, dest
	return f.plan, f.err
}

func TestSequencerAppliesWaypointOrder(t *testing.T) {
	o := twoStoreOrder()
	o.Items = append(o.Items, order.LineItem{ProductID: "P4", Quantity: 1, StoreID: "C", StoreName: "Hotel C"})
	assembled := Assembler{}.Build(o, vendors())

	fake := &fakeOptimizer{plan: maps.Plan{Order: []int{1, 0}, Meters: 5400, Duration: 17 * time.Minute}}
	got, err := NewSequencer(fake).Sequence(context.Background(), assembled)
	require.NoError(t, err)

	require.Equal(t, locB, fake.origin)
	require.Equal(t, []types.Point{locA, locC}, fake.stops)
	require.Equal(t, home, fake.destArg)

	ids := []types.ID{}
	for _, p := range got.StorePickups {
		ids = append(ids, p.StoreID)
	}
	require.Equal(t, []types.ID{"B", "C", "A"}, ids)
	require.True(t, got.Sequenced)
	require.Equal(t, 5400, got.DistanceMeters)
	require.Equal(t, 17*60, got.DurationSeconds)
	require.False(t, assembled.Sequenced)
}

func TestSequencerPropagatesProviderFailure(t *testing.T) {
	assembled := Assembler{}.Build(twoStoreOrder(), vendors())
	_, err := NewSequencer(&fakeOptimizer{err: errors.New("timeout")}).Sequence(context.Background(), assembled)
	require.Error(t, err)
}
