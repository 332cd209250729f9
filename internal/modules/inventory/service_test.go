package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dropmart/internal/infra"
	"dropmart/internal/notify"
	"dropmart/internal/types"
)

type captureSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Publish(_ context.Context, ev notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func newTestLedger(policy Policy, opts ...Option) (*Ledger, *MemoryStore) {
	repo := NewMemoryStore()
	return NewLedger(repo, infra.NewMemoryTxManager(), policy, opts...), repo
}

func restock(t *testing.T, l *Ledger, store, product types.ID, qty int) {
	t.Helper()
	_, err := l.ApplyTransaction(context.Background(), Entry{StoreID: store, ProductID: product, Delta: qty, Kind: KindRestock, Actor: "vendor-1"})
	require.NoError(t, err)
}

func TestApplyTransactionCreatesRecordWithDefaults(t *testing.T) {
	l, _ := newTestLedger(Policy{})
	restock(t, l, "s1", "p1", 40)

	rec, err := l.GetStock(context.Background(), "s1", "p1")
	require.NoError(t, err)
	require.Equal(t, 40, rec.Quantity)
	require.Equal(t, DefaultMinStockLevel, rec.MinStockLevel)
	require.Equal(t, DefaultMaxStockLevel, rec.MaxStockLevel)
	require.Equal(t, DefaultReorderPoint, rec.ReorderPoint)
	require.False(t, rec.LowStock)
}

func TestLedgerBalanceEqualsInitialPlusDeltas(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(Policy{AllowNegativeAdjustments: true})
	restock(t, l, "s1", "p1", 20)

	deltas := []Entry{
		{Delta: -3, Kind: KindSale},
		{Delta: 2, Kind: KindReturn},
		{Delta: -7, Kind: KindTransfer},
		{Delta: 15, Kind: KindRestock},
		{Delta: -4, Kind: KindAdjustment},
	}
	sum := 0
	for _, e := range deltas {
		e.StoreID, e.ProductID, e.Actor = "s1", "p1", "vendor-1"
		txn, err := l.ApplyTransaction(ctx, e)
		require.NoError(t, err)
		sum += e.Delta
		require.Equal(t, 20+sum, txn.BalanceAfter)
	}

	rec, err := l.GetStock(ctx, "s1", "p1")
	require.NoError(t, err)
	require.Equal(t, 20+sum, rec.Quantity)

	hist, err := l.History(ctx, "s1", "p1", 0)
	require.NoError(t, err)
	require.Len(t, hist, len(deltas)+1)
	total := 0
	for _, h := range hist {
		total += h.Delta
	}
	require.Equal(t, rec.Quantity, total)
}

func TestSaleBeyondStockIsRejected(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(Policy{})
	restock(t, l, "s1", "p1", 2)

	_, err := l.ApplyTransaction(ctx, Entry{StoreID: "s1", ProductID: "p1", Delta: -3, Kind: KindSale})
	require.True(t, errors.Is(err, ErrInsufficientStock))
	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	require.Equal(t, types.ID("p1"), ise.ProductID)
	require.Equal(t, 2, ise.Available)

	rec, err := l.GetStock(ctx, "s1", "p1")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Quantity)
}

func TestNegativeAdjustmentFollowsPolicy(t *testing.T) {
	ctx := context.Background()
	entry := Entry{StoreID: "s1", ProductID: "p1", Delta: -5, Kind: KindAdjustment, Notes: "shrinkage"}

	strict, _ := newTestLedger(Policy{})
	restock(t, strict, "s1", "p1", 1)
	_, err := strict.ApplyTransaction(ctx, entry)
	require.True(t, errors.Is(err, ErrInsufficientStock))

	lenient, _ := newTestLedger(Policy{AllowNegativeAdjustments: true})
	restock(t, lenient, "s1", "p1", 1)
	txn, err := lenient.ApplyTransaction(ctx, entry)
	require.NoError(t, err)
	require.Equal(t, -4, txn.BalanceAfter)
}

func TestEntrySignValidation(t *testing.T) {
	l, _ := newTestLedger(Policy{})
	cases := []Entry{
		{StoreID: "s1", ProductID: "p1", Delta: 0, Kind: KindAdjustment},
		{StoreID: "s1", ProductID: "p1", Delta: -1, Kind: KindRestock},
		{StoreID: "s1", ProductID: "p1", Delta: -1, Kind: KindReturn},
		{StoreID: "s1", ProductID: "p1", Delta: 1, Kind: KindSale},
		{StoreID: "s1", ProductID: "p1", Delta: 1, Kind: "gift"},
		{ProductID: "p1", Delta: 1, Kind: KindRestock},
	}
	for _, e := range cases {
		_, err := l.ApplyTransaction(context.Background(), e)
		require.True(t, errors.Is(err, ErrInvalidEntry), "entry %+v", e)
	}
}

func TestApplyBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLedger(Policy{})
	restock(t, l, "s1", "p1", 5)
	restock(t, l, "s2", "p1", 1)

	_, err := l.ApplyBatch(ctx, []Entry{
		{StoreID: "s1", ProductID: "p1", Delta: -5, Kind: KindSale, ReferenceID: "o1"},
		{StoreID: "s3", ProductID: "p2", Delta: 4, Kind: KindReturn, ReferenceID: "o1"},
		{StoreID: "s2", ProductID: "p1", Delta: -2, Kind: KindSale, ReferenceID: "o1"},
	})
	require.True(t, errors.Is(err, ErrInsufficientStock))

	rec, err := l.GetStock(ctx, "s1", "p1")
	require.NoError(t, err)
	require.Equal(t, 5, rec.Quantity)
	_, err = l.GetStock(ctx, "s3", "p2")
	require.True(t, errors.Is(err, types.ErrNotFound))

	hist, err := repo.History(ctx, "s1", "p1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestLowStockFlagAndEvent(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	events := notify.NewDispatcher(nil, time.Second, sink)
	l, _ := newTestLedger(Policy{}, WithEvents(events))
	restock(t, l, "s1", "p1", 12)
	restock(t, l, "s1", "p2", 50)

	_, err := l.ApplyTransaction(ctx, Entry{StoreID: "s1", ProductID: "p1", Delta: -2, Kind: KindSale})
	require.NoError(t, err)
	events.Wait()

	low, err := l.GetLowStock(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, types.ID("p1"), low[0].ProductID)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	require.Equal(t, notify.EventLowStock, sink.events[0].Type)
	require.Equal(t, "10", sink.events[0].Data["quantity"])
}

func TestAvailabilityKeepsDiscoveryOrderAndSkipsEmpty(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(Policy{})
	restock(t, l, "zeta", "p1", 3)
	restock(t, l, "alpha", "p1", 9)
	restock(t, l, "mid", "p1", 1)
	_, err := l.ApplyTransaction(ctx, Entry{StoreID: "mid", ProductID: "p1", Delta: -1, Kind: KindSale})
	require.NoError(t, err)

	avail, err := l.GetAvailability(ctx, []types.ID{"p1", "p9"})
	require.NoError(t, err)
	require.Equal(t, []StoreQuantity{{StoreID: "zeta", Quantity: 3}, {StoreID: "alpha", Quantity: 9}}, avail["p1"])
	require.Empty(t, avail["p9"])
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(Policy{})
	restock(t, l, "s1", "p1", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 20; attempt++ {
				_, err := l.ApplyTransaction(ctx, Entry{StoreID: "s1", ProductID: "p1", Delta: -1, Kind: KindSale})
				if errors.Is(err, types.ErrConflict) {
					continue
				}
				if err == nil {
					mu.Lock()
					sold++
					mu.Unlock()
				}
				return
			}
		}()
	}
	wg.Wait()

	rec, err := l.GetStock(ctx, "s1", "p1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, rec.Quantity, 0)
	require.Equal(t, 10-sold, rec.Quantity)
}

func TestSetThresholdsRecomputesLowStock(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(Policy{})
	restock(t, l, "s1", "p1", 30)

	rec, err := l.SetThresholds(ctx, "s1", "p1", 10, 200, 40)
	require.NoError(t, err)
	require.True(t, rec.LowStock)
	require.Equal(t, 40, rec.ReorderPoint)

	_, err = l.SetThresholds(ctx, "s1", "p1", 10, 5, 1)
	require.True(t, errors.Is(err, ErrInvalidEntry))
}

func TestRolledBackCreditIsNeverSold(t *testing.T) {
	ctx := context.Background()
	tx := infra.NewMemoryTxManager()
	l := NewLedger(NewMemoryStore(), tx, Policy{})
	restock(t, l, "s1", "p1", 1)
	_, err := l.ApplyTransaction(ctx, Entry{StoreID: "s1", ProductID: "p1", Delta: -1, Kind: KindSale, Actor: "cust-1"})
	require.NoError(t, err)

	credited := make(chan struct{})
	release := make(chan struct{})
	unit := make(chan error, 1)
	go func() {
		unit <- tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := l.ApplyTransaction(ctx, Entry{StoreID: "s1", ProductID: "p1", Delta: 1, Kind: KindReturn, Actor: "cust-1"}); err != nil {
				return err
			}
			close(credited)
			<-release
			return errors.New("release failed")
		})
	}()
	<-credited

	sale := make(chan error, 1)
	go func() {
		_, err := l.ApplyTransaction(ctx, Entry{StoreID: "s1", ProductID: "p1", Delta: -1, Kind: KindSale, Actor: "cust-2"})
		sale <- err
	}()
	select {
	case err := <-sale:
		t.Fatalf("sale finished against an uncommitted credit: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.EqualError(t, <-unit, "release failed")
	require.ErrorIs(t, <-sale, ErrInsufficientStock)

	rec, err := l.GetStock(ctx, "s1", "p1")
	require.NoError(t, err)
	require.Equal(t, 0, rec.Quantity)
}
