package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"dropmart/internal/infra"
	"dropmart/internal/modules/inventory"
	"dropmart/internal/types"
)

func avail(pairs ...any) []inventory.StoreQuantity {
	var out []inventory.StoreQuantity
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, inventory.StoreQuantity{StoreID: types.ID(pairs[i].(string)), Quantity: pairs[i+1].(int)})
	}
	return out
}

func TestNormalizeMergesDuplicates(t *testing.T) {
	lines, err := Normalize([]Line{{"p1", 2}, {"p2", 1}, {"p1", 3}})
	require.NoError(t, err)
	require.Equal(t, []Line{{"p1", 5}, {"p2", 1}}, lines)
}

func TestNormalizeRejectsBadCarts(t *testing.T) {
	_, err := Normalize(nil)
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = Normalize([]Line{{"p1", 0}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = Normalize([]Line{{"p1", -2}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlanPrefersSingleStore(t *testing.T) {
	a := inventory.Availability{"P1": avail("A", 2, "B", 5)}
	res, err := Plan([]Line{{"P1", 3}}, a, nil)
	require.NoError(t, err)
	require.True(t, res.SingleStore)
	require.Equal(t, []Allocation{{StoreID: "B", Items: []Item{{"P1", 3}}}}, res.Allocations)
}

func TestPlanSingleStoreUsesDiscoveryOrder(t *testing.T) {
	a := inventory.Availability{
		"P1": avail("A", 9, "B", 9),
		"P2": avail("B", 1, "A", 1),
	}
	res, err := Plan([]Line{{"P1", 1}, {"P2", 1}}, a, nil)
	require.NoError(t, err)
	require.Equal(t, types.ID("A"), res.Allocations[0].StoreID)

	res, err = Plan([]Line{{"P1", 1}, {"P2", 1}}, a, []types.ID{"B", "A"})
	require.NoError(t, err)
	require.Equal(t, types.ID("B"), res.Allocations[0].StoreID)
}

func TestPlanSplitsMostStockFirst(t *testing.T) {
	a := inventory.Availability{"P1": avail("A", 4, "B", 5)}
	res, err := Plan([]Line{{"P1", 7}}, a, nil)
	require.NoError(t, err)
	require.False(t, res.SingleStore)
	require.Equal(t, []Allocation{
		{StoreID: "B", Items: []Item{{"P1", 5}}},
		{StoreID: "A", Items: []Item{{"P1", 2}}},
	}, res.Allocations)
}

func TestPlanSplitCoversCartWithinStoreCaps(t *testing.T) {
	a := inventory.Availability{
		"P1": avail("A", 3, "B", 3, "C", 1),
		"P2": avail("C", 4, "A", 2),
		"P3": avail("B", 6),
	}
	lines := []Line{{"P1", 6}, {"P2", 5}, {"P3", 2}}
	res, err := Plan(lines, a, nil)
	require.NoError(t, err)
	require.False(t, res.SingleStore)

	for _, l := range lines {
		total := 0
		for _, sq := range a[l.ProductID] {
			got := res.Quantity(sq.StoreID, l.ProductID)
			require.LessOrEqual(t, got, sq.Quantity)
			total += got
		}
		require.Equal(t, l.Quantity, total, "product %s", l.ProductID)
	}
	// Equal stock ties go to the store discovered first.
	require.Equal(t, 3, res.Quantity("A", "P1"))
	require.Equal(t, 3, res.Quantity("B", "P1"))
	require.Equal(t, 0, res.Quantity("C", "P1"))
}

func TestPlanFailsNamingProduct(t *testing.T) {
	a := inventory.Availability{"P1": avail("A", 4, "B", 5)}
	_, err := Plan([]Line{{"P1", 10}}, a, nil)
	var ise *inventory.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	require.Equal(t, types.ID("P1"), ise.ProductID)
	require.Equal(t, 9, ise.Available)

	_, err = Plan([]Line{{"P9", 1}}, a, nil)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Contains(t, err.Error(), "P9")
}

type fixedRanker struct {
	order []types.ID
	err   error
}

func (f fixedRanker) RankStores(context.Context, []types.ID, types.Point) ([]types.ID, error) {
	return f.order, f.err
}

func seedLedger(t *testing.T, stock map[types.ID]map[types.ID]int, order []types.ID) *inventory.Ledger {
	t.Helper()
	l := inventory.NewLedger(inventory.NewMemoryStore(), infra.NewMemoryTxManager(), inventory.Policy{})
	for _, store := range order {
		for pid, qty := range stock[store] {
			_, err := l.ApplyTransaction(context.Background(), inventory.Entry{StoreID: store, ProductID: pid, Delta: qty, Kind: inventory.KindRestock})
			require.NoError(t, err)
		}
	}
	return l
}

func TestAllocateDebitsLedgerWithOrderReference(t *testing.T) {
	ctx := context.Background()
	ledger := seedLedger(t, map[types.ID]map[types.ID]int{
		"A": {"P1": 4},
		"B": {"P1": 5},
	}, []types.ID{"A", "B"})
	svc := NewService(ledger, nil, nil)

	res, err := svc.Allocate(ctx, Request{OrderID: "o-1", Actor: "c-1", Lines: []Line{{"P1", 7}}})
	require.NoError(t, err)
	require.Equal(t, []types.ID{"B", "A"}, res.StoreIDs())

	recA, err := ledger.GetStock(ctx, "A", "P1")
	require.NoError(t, err)
	require.Equal(t, 2, recA.Quantity)
	recB, err := ledger.GetStock(ctx, "B", "P1")
	require.NoError(t, err)
	require.Equal(t, 0, recB.Quantity)

	hist, err := ledger.History(ctx, "A", "P1", 10)
	require.NoError(t, err)
	require.Equal(t, inventory.KindSale, hist[0].Kind)
	require.Equal(t, "o-1", hist[0].ReferenceID)
	require.Equal(t, -2, hist[0].Delta)
}

func TestAllocateFailureLeavesStockUntouched(t *testing.T) {
	ctx := context.Background()
	ledger := seedLedger(t, map[types.ID]map[types.ID]int{
		"A": {"P1": 4, "P2": 1},
	}, []types.ID{"A"})
	svc := NewService(ledger, nil, nil)

	_, err := svc.Allocate(ctx, Request{OrderID: "o-1", Lines: []Line{{"P1", 2}, {"P2", 3}}})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	rec, err := ledger.GetStock(ctx, "A", "P1")
	require.NoError(t, err)
	require.Equal(t, 4, rec.Quantity)
}

func TestAllocateUsesRankerForSingleStorePass(t *testing.T) {
	ctx := context.Background()
	ledger := seedLedger(t, map[types.ID]map[types.ID]int{
		"A": {"P1": 5},
		"B": {"P1": 5},
	}, []types.ID{"A", "B"})

	ranked := NewService(ledger, fixedRanker{order: []types.ID{"B", "A"}}, nil)
	res, err := ranked.Allocate(ctx, Request{OrderID: "o-1", Lines: []Line{{"P1", 1}}, Near: types.Point{Lat: 1, Lng: 1}})
	require.NoError(t, err)
	require.Equal(t, []types.ID{"B"}, res.StoreIDs())

	broken := NewService(ledger, fixedRanker{err: errors.New("redis down")}, nil)
	res, err = broken.Allocate(ctx, Request{OrderID: "o-2", Lines: []Line{{"P1", 1}}, Near: types.Point{Lat: 1, Lng: 1}})
	require.NoError(t, err)
	require.Equal(t, []types.ID{"A"}, res.StoreIDs())
}
