package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"dropmart/internal/types"
)

type recordingIndex struct {
	indexed map[types.ID]types.Point
}

func (r *recordingIndex) IndexVendor(_ context.Context, id types.ID, at types.Point) error {
	r.indexed[id] = at
	return nil
}

func TestProductsReportsMissingID(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil)
	require.NoError(t, svc.RegisterProduct(ctx, Product{ID: "p1", Name: "Milk", UnitPrice: types.Money{Amount: 250}}))

	got, err := svc.Products(ctx, []types.ID{"p1"})
	require.NoError(t, err)
	require.Equal(t, types.DefaultCurrency, got["p1"].UnitPrice.Currency)

	_, err = svc.Products(ctx, []types.ID{"p1", "p2"})
	require.True(t, errors.Is(err, types.ErrNotFound))
	require.Contains(t, err.Error(), "p2")
}

func TestRegisterVendorIndexesLocation(t *testing.T) {
	ctx := context.Background()
	idx := &recordingIndex{indexed: map[types.ID]types.Point{}}
	svc := NewService(NewMemoryStore(), idx)

	err := svc.RegisterVendor(ctx, Vendor{ID: "s1", Name: "Corner Grocer", Kind: VendorGrocery, Location: types.Point{Lat: 1, Lng: 2}})
	require.NoError(t, err)
	require.Equal(t, types.Point{Lat: 1, Lng: 2}, idx.indexed["s1"])

	v, err := svc.Vendor(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "Corner Grocer", v.Name)
}

func TestRegisterVendorRejectsUnknownKind(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	err := svc.RegisterVendor(context.Background(), Vendor{ID: "s1", Name: "x", Kind: "warehouse"})
	require.True(t, errors.Is(err, types.ErrBadRequest))
}
