// README: Order service tests (placement, transition table, pickup bookkeeping) on memory stores.
package order

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"dropmart/internal/infra"
	"dropmart/internal/modules/allocation"
	"dropmart/internal/modules/catalog"
	"dropmart/internal/modules/inventory"
	"dropmart/internal/types"
)

type stubRoutes struct{}

func (stubRoutes) Build(o *Order, stores map[types.ID]catalog.Vendor) *Route {
	r := &Route{CustomerDropoff: Dropoff{Location: o.DeliveryAddress.Coordinates, Address: o.DeliveryAddress.AddressLine}}
	for _, id := range o.StoreIDs() {
		r.StorePickups = append(r.StorePickups, StorePickup{StoreID: id, StoreName: stores[id].Name, Location: stores[id].Location})
	}
	return r
}

type fixture struct {
	svc    *Service
	repo   *MemoryStore
	ledger *inventory.Ledger
}

func newFixture(t *testing.T, stock map[types.ID]int) *fixture {
	t.Helper()
	return newFixtureWith(t, map[types.ID]map[types.ID]int{"P1": stock})
}

// newFixtureWith seeds product -> store -> quantity. Stores are restocked A, B, C order.
func newFixtureWith(t *testing.T, stock map[types.ID]map[types.ID]int) *fixture {
	t.Helper()
	ctx := context.Background()
	tx := infra.NewMemoryTxManager()

	cat := catalog.NewService(catalog.NewMemoryStore(), nil)
	for _, v := range []catalog.Vendor{
		{ID: "A", Name: "Store A", Kind: catalog.VendorGrocery, Location: types.Point{Lat: 12.9716, Lng: 77.5946}},
		{ID: "B", Name: "Store B", Kind: catalog.VendorGrocery, Location: types.Point{Lat: 12.9352, Lng: 77.6245}},
		{ID: "C", Name: "Hotel C", Kind: catalog.VendorRestaurant, Location: types.Point{Lat: 12.9279, Lng: 77.6271}},
	} {
		require.NoError(t, cat.RegisterVendor(ctx, v))
	}
	for pid := range stock {
		require.NoError(t, cat.RegisterProduct(ctx, catalog.Product{ID: pid, Name: "Product " + string(pid), UnitPrice: types.Money{Amount: 150}}))
	}

	ledger := inventory.NewLedger(inventory.NewMemoryStore(), tx, inventory.Policy{})
	for _, store := range []types.ID{"A", "B", "C"} {
		for pid, byStore := range stock {
			if q, ok := byStore[store]; ok && q > 0 {
				_, err := ledger.ApplyTransaction(ctx, inventory.Entry{StoreID: store, ProductID: pid, Delta: q, Kind: inventory.KindRestock})
				require.NoError(t, err)
			}
		}
	}

	repo := NewMemoryStore()
	svc := NewService(repo, tx, Deps{
		Allocator: allocation.NewService(ledger, nil, nil),
		Catalog:   cat,
		Stock:     ledger,
		Routes:    stubRoutes{},
		PINs:      RandomPINs{Digits: 4},
	})
	return &fixture{svc: svc, repo: repo, ledger: ledger}
}

func (f *fixture) place(t *testing.T, customer types.ID, lines ...allocation.Line) *Order {
	t.Helper()
	o, err := f.svc.Place(context.Background(), PlaceCommand{
		CustomerID:      customer,
		Items:           lines,
		DeliveryAddress: Address{AddressLine: "221 MG Road", Coordinates: types.Point{Lat: 12.97, Lng: 77.60}},
		PaymentMethod:   PaymentCash,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) stock(t *testing.T, store, product types.ID) int {
	t.Helper()
	rec, err := f.ledger.GetStock(context.Background(), store, product)
	require.NoError(t, err)
	return rec.Quantity
}

func (f *fixture) step(t *testing.T, id types.ID, to Status, role Role, actor types.ID) *Order {
	t.Helper()
	o, err := f.svc.Transition(context.Background(), TransitionCommand{OrderID: id, To: to, Role: role, ActorID: actor})
	require.NoError(t, err, "%s by %s", to, role)
	require.Equal(t, to, o.Status)
	return o
}

// seed stores an order directly in status with one store A line.
func (f *fixture) seed(t *testing.T, status Status) *Order {
	t.Helper()
	o := &Order{
		ID:              types.ID(fmt.Sprintf("seed-%s", status)),
		CustomerID:      "cust-1",
		AgentID:         "agent-1",
		Status:          status,
		Items:           []LineItem{{ProductID: "P1", Quantity: 1, StoreID: "A"}},
		StorePins:       map[types.ID]string{"A": "4821"},
		CollectedStores: []types.ID{"A"},
		PaymentMethod:   PaymentOnline,
		PaymentStatus:   PaymentPending,
	}
	if status == StatusReadyForPickup || status == StatusPlaced || status == StatusAcceptedByVendor || status == StatusPreparing {
		o.AgentID = ""
		o.CollectedStores = nil
	}
	require.NoError(t, f.repo.Create(context.Background(), o))
	return o
}

func TestPlaceSingleStoreWhenOneStoreCoversCart(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 2, "B": 5})
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 3})

	require.Equal(t, StatusPlaced, o.Status)
	require.Len(t, o.Items, 1)
	require.Equal(t, types.ID("B"), o.Items[0].StoreID)
	require.Equal(t, "Store B", o.Items[0].StoreName)
	require.Equal(t, int64(450), o.Total.Amount)
	require.Len(t, o.StorePins, 1)
	require.Equal(t, o.StorePins["B"], o.VerificationPIN)
	require.Regexp(t, regexp.MustCompile(`^\d{4}$`), o.VerificationPIN)
	require.Equal(t, PaymentPending, o.PaymentStatus)
	require.NotNil(t, o.OptimizedRoute)

	require.Equal(t, 2, f.stock(t, "A", "P1"))
	require.Equal(t, 2, f.stock(t, "B", "P1"))

	hist, err := f.ledger.History(context.Background(), "B", "P1", 1)
	require.NoError(t, err)
	require.Equal(t, string(o.ID), hist[0].ReferenceID)
	require.Equal(t, inventory.KindSale, hist[0].Kind)
}

func TestPlaceSplitsAcrossStores(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 4, "B": 5})
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 7})

	require.Equal(t, []LineItem{
		{ProductID: "P1", Name: "Product P1", Price: types.Money{Amount: 150, Currency: types.DefaultCurrency}, Quantity: 5, StoreID: "B", StoreName: "Store B"},
		{ProductID: "P1", Name: "Product P1", Price: types.Money{Amount: 150, Currency: types.DefaultCurrency}, Quantity: 2, StoreID: "A", StoreName: "Store A"},
	}, o.Items)
	require.Len(t, o.StorePins, 2)
	require.Equal(t, o.StorePins["B"], o.VerificationPIN)
	require.Equal(t, 2, f.stock(t, "A", "P1"))
	require.Equal(t, 0, f.stock(t, "B", "P1"))
}

func TestPlaceFailureCreatesNothing(t *testing.T) {
	f := newFixtureWith(t, map[types.ID]map[types.ID]int{
		"P1": {"A": 5},
		"P2": {"B": 1},
	})
	_, err := f.svc.Place(context.Background(), PlaceCommand{
		CustomerID:      "cust-1",
		Items:           []allocation.Line{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 2}},
		DeliveryAddress: Address{AddressLine: "x"},
		PaymentMethod:   PaymentOnline,
	})
	var ise *inventory.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	require.Equal(t, types.ID("P2"), ise.ProductID)
	require.Equal(t, 5, f.stock(t, "A", "P1"))
	require.Empty(t, f.repo.orders)
}

func TestPlaceRejectsBadInput(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 5})
	ctx := context.Background()
	base := PlaceCommand{CustomerID: "c", DeliveryAddress: Address{AddressLine: "x"}, PaymentMethod: PaymentCash}

	cmd := base
	_, err := f.svc.Place(ctx, cmd)
	require.ErrorIs(t, err, types.ErrBadRequest)

	cmd.Items = []allocation.Line{{ProductID: "P1", Quantity: 0}}
	_, err = f.svc.Place(ctx, cmd)
	require.ErrorIs(t, err, types.ErrBadRequest)

	cmd.Items = []allocation.Line{{ProductID: "P1", Quantity: 1}}
	cmd.PaymentMethod = "card"
	_, err = f.svc.Place(ctx, cmd)
	require.ErrorIs(t, err, types.ErrBadRequest)

	cmd = base
	cmd.Items = []allocation.Line{{ProductID: "nope", Quantity: 1}}
	_, err = f.svc.Place(ctx, cmd)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestHappyPathToDelivered(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 5})
	ctx := context.Background()
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 1})

	f.step(t, o.ID, StatusAcceptedByVendor, RoleVendor, "A")
	f.step(t, o.ID, StatusPreparing, RoleVendor, "A")
	f.step(t, o.ID, StatusReadyForPickup, RoleVendor, "A")
	got := f.step(t, o.ID, StatusAcceptedByAgent, RoleAgent, "agent-1")
	require.Equal(t, types.ID("agent-1"), got.AgentID)

	_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusPickedUp, Role: RoleAgent, ActorID: "agent-1"})
	require.ErrorIs(t, err, ErrPickupRequiresVerification)

	got, err = f.svc.MarkPickedUp(ctx, PickupCommand{OrderID: o.ID, StoreID: "A", AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, StatusPickedUp, got.Status)

	f.step(t, o.ID, StatusOutForDelivery, RoleAgent, "agent-1")
	got = f.step(t, o.ID, StatusDelivered, RoleAgent, "agent-1")
	require.Equal(t, PaymentCompleted, got.PaymentStatus)
	require.True(t, got.UpdatedAt.After(o.CreatedAt) || got.UpdatedAt.Equal(o.CreatedAt))

	events, err := f.svc.Events(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 8)
	require.Equal(t, StatusNone, events[0].FromStatus)
	require.Equal(t, types.ID("A"), events[5].StoreID)
	require.Equal(t, StatusDelivered, events[7].ToStatus)
}

func TestEveryTransitionOutsideTableIsIllegal(t *testing.T) {
	roles := []Role{RoleCustomer, RoleVendor, RoleAgent, RoleAdmin}
	actors := map[Role]types.ID{RoleCustomer: "cust-1", RoleVendor: "A", RoleAgent: "agent-1", RoleAdmin: "admin-1"}
	ctx := context.Background()

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			for _, role := range roles {
				if Allowed(from, to, role) {
					continue
				}
				if from == to && enteredBy(to, role) {
					continue
				}
				f := newFixture(t, map[types.ID]int{"A": 1})
				o := f.seed(t, from)
				_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: to, Role: role, ActorID: actors[role]})
				var ite *IllegalTransitionError
				require.True(t, errors.As(err, &ite), "%s -> %s by %s: %v", from, to, role, err)
				require.Equal(t, IllegalTransitionError{From: from, To: to, Role: role}, *ite)
				require.ErrorIs(t, err, ErrIllegalTransition)

				cur, err := f.svc.Get(ctx, o.ID)
				require.NoError(t, err)
				require.Equal(t, from, cur.Status)
			}
		}
	}
}

func TestPickedUpOnlyFromAcceptedByAgent(t *testing.T) {
	ctx := context.Background()
	for _, from := range []Status{StatusPlaced, StatusReadyForPickup, StatusDelivered, StatusCancelled} {
		f := newFixture(t, map[types.ID]int{"A": 1})
		o := f.seed(t, from)
		_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusPickedUp, Role: RoleAgent, ActorID: "agent-1"})
		var ite *IllegalTransitionError
		require.True(t, errors.As(err, &ite), "from %s: %v", from, err)
		require.Equal(t, IllegalTransitionError{From: from, To: StatusPickedUp, Role: RoleAgent}, *ite)
		require.NotErrorIs(t, err, ErrPickupRequiresVerification)
	}

	f := newFixture(t, map[types.ID]int{"A": 1})
	o := f.seed(t, StatusAcceptedByAgent)
	_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusPickedUp, Role: RoleAgent, ActorID: "agent-1"})
	require.ErrorIs(t, err, ErrPickupRequiresVerification)
}

func TestTransitionRejectsUnknownRole(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 1})
	o := f.seed(t, StatusPlaced)
	_, err := f.svc.Transition(context.Background(), TransitionCommand{OrderID: o.ID, To: StatusCancelled, Role: Role("courier"), ActorID: "x"})
	require.ErrorIs(t, err, types.ErrBadRequest)
}

func TestTransitionTableMatchesLifecycle(t *testing.T) {
	legal := 0
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			for _, role := range AllRoles {
				if Allowed(from, to, role) {
					legal++
				}
			}
		}
		if from.Terminal() {
			require.Empty(t, transitions[from], "terminal %s has exits", from)
		}
	}
	require.Equal(t, 9, legal)
	require.True(t, Allowed(StatusPlaced, StatusCancelled, RoleCustomer))
	require.False(t, Allowed(StatusAcceptedByVendor, StatusCancelled, RoleCustomer))
	require.False(t, Allowed(StatusPlaced, StatusAcceptedByVendor, RoleAgent))
}

func TestRetryingTransitionIsNoop(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 5})
	ctx := context.Background()
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 1})

	first := f.step(t, o.ID, StatusAcceptedByVendor, RoleVendor, "A")
	again := f.step(t, o.ID, StatusAcceptedByVendor, RoleVendor, "A")
	require.Equal(t, first.StatusVersion, again.StatusVersion)

	events, err := f.svc.Events(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestVendorMustOwnAStoreOnTheOrder(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 5})
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 1})

	_, err := f.svc.Transition(context.Background(), TransitionCommand{OrderID: o.ID, To: StatusAcceptedByVendor, Role: RoleVendor, ActorID: "B"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Transition(context.Background(), TransitionCommand{OrderID: o.ID, To: StatusCancelled, Role: RoleCustomer, ActorID: "someone-else"})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestConcurrentAgentsRaceToAccept(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 5})
	ctx := context.Background()
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 1})
	f.step(t, o.ID, StatusAcceptedByVendor, RoleVendor, "A")
	f.step(t, o.ID, StatusPreparing, RoleVendor, "A")
	f.step(t, o.ID, StatusReadyForPickup, RoleVendor, "A")

	const agents = 8
	errs := make(chan error, agents)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(agent types.ID) {
			defer wg.Done()
			<-start
			_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusAcceptedByAgent, Role: RoleAgent, ActorID: agent})
			errs <- err
		}(types.ID(fmt.Sprintf("agent-%d", i)))
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrIllegalTransition) && !errors.Is(err, types.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, success)

	cur, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAcceptedByAgent, cur.Status)
	require.NotEmpty(t, cur.AgentID)
}

func TestSecondAgentCannotTakeAcceptedOrder(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 5})
	o := f.seed(t, StatusReadyForPickup)
	f.step(t, o.ID, StatusAcceptedByAgent, RoleAgent, "agent-1")

	_, err := f.svc.Transition(context.Background(), TransitionCommand{OrderID: o.ID, To: StatusAcceptedByAgent, Role: RoleAgent, ActorID: "agent-2"})
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCancelReleasesStock(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 4, "B": 5})
	ctx := context.Background()
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 7})
	require.Equal(t, 2, f.stock(t, "A", "P1"))

	f.step(t, o.ID, StatusCancelled, RoleCustomer, "cust-1")
	require.Equal(t, 4, f.stock(t, "A", "P1"))
	require.Equal(t, 5, f.stock(t, "B", "P1"))

	hist, err := f.ledger.History(ctx, "B", "P1", 1)
	require.NoError(t, err)
	require.Equal(t, inventory.KindReturn, hist[0].Kind)
	require.Equal(t, string(o.ID), hist[0].ReferenceID)

	_, err = f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusAcceptedByVendor, Role: RoleVendor, ActorID: "A"})
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestMultiStorePickupNeedsEveryStore(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 4, "B": 5})
	ctx := context.Background()
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 7})
	f.step(t, o.ID, StatusAcceptedByVendor, RoleVendor, "B")
	f.step(t, o.ID, StatusPreparing, RoleVendor, "A")
	f.step(t, o.ID, StatusReadyForPickup, RoleVendor, "B")
	f.step(t, o.ID, StatusAcceptedByAgent, RoleAgent, "agent-1")

	got, err := f.svc.MarkPickedUp(ctx, PickupCommand{OrderID: o.ID, StoreID: "B", AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, StatusPickedUp, got.Status)

	_, err = f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusOutForDelivery, Role: RoleAgent, ActorID: "agent-1"})
	require.ErrorIs(t, err, ErrPickupIncomplete)

	_, err = f.svc.MarkPickedUp(ctx, PickupCommand{OrderID: o.ID, StoreID: "A", AgentID: "agent-2"})
	require.ErrorIs(t, err, ErrForbidden)

	got, err = f.svc.MarkPickedUp(ctx, PickupCommand{OrderID: o.ID, StoreID: "A", AgentID: "agent-1"})
	require.NoError(t, err)
	require.ElementsMatch(t, []types.ID{"A", "B"}, got.CollectedStores)

	again, err := f.svc.MarkPickedUp(ctx, PickupCommand{OrderID: o.ID, StoreID: "A", AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, got.StatusVersion, again.StatusVersion)

	f.step(t, o.ID, StatusOutForDelivery, RoleAgent, "agent-1")
}

func TestUpdatePaymentBookkeeping(t *testing.T) {
	f := newFixture(t, map[types.ID]int{"A": 5})
	ctx := context.Background()
	o := f.place(t, "cust-1", allocation.Line{ProductID: "P1", Quantity: 1})

	got, err := f.svc.UpdatePayment(ctx, PaymentCommand{OrderID: o.ID, Status: PaymentFailed, Role: RoleCustomer, ActorID: "cust-1"})
	require.NoError(t, err)
	require.Equal(t, PaymentFailed, got.PaymentStatus)

	got, err = f.svc.UpdatePayment(ctx, PaymentCommand{OrderID: o.ID, Status: PaymentCompleted, Role: RoleAdmin, ActorID: "ops"})
	require.NoError(t, err)
	require.Equal(t, PaymentCompleted, got.PaymentStatus)

	_, err = f.svc.UpdatePayment(ctx, PaymentCommand{OrderID: o.ID, Status: PaymentPending, Role: RoleAdmin, ActorID: "ops"})
	require.ErrorIs(t, err, ErrInvalidPayment)

	_, err = f.svc.UpdatePayment(ctx, PaymentCommand{OrderID: o.ID, Status: PaymentFailed, Role: RoleAgent, ActorID: "agent-9"})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestRandomPINsAreNumericWithConfiguredLength(t *testing.T) {
	for _, digits := range []int{4, 5, 6} {
		pin, err := RandomPINs{Digits: digits}.NewPIN()
		require.NoError(t, err)
		require.Regexp(t, fmt.Sprintf(`^\d{%d}$`, digits), pin)
	}
}
