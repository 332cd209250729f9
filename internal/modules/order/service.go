// README: Order service implements placement, role-driven state transitions and persistence.
package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dropmart/internal/infra"
	"dropmart/internal/logger"
	"dropmart/internal/modules/allocation"
	"dropmart/internal/modules/catalog"
	"dropmart/internal/modules/inventory"
	"dropmart/internal/notify"
	"dropmart/internal/types"
)

// Repository is implemented by Store and MemoryStore.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	Update(ctx context.Context, o *Order, from Status, version int) (bool, error)
	SetRoute(ctx context.Context, id types.ID, r *Route) error
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, orderID types.ID) ([]Event, error)
}

type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (allocation.Result, error)
}

type Catalog interface {
	Products(ctx context.Context, ids []types.ID) (map[types.ID]catalog.Product, error)
	Vendors(ctx context.Context, ids []types.ID) (map[types.ID]catalog.Vendor, error)
}

// StockReleaser appends compensating ledger entries.
type StockReleaser interface {
	ApplyBatch(ctx context.Context, entries []inventory.Entry) ([]inventory.Transaction, error)
}

// RouteAssembler groups line items into pickup stops plus the drop-off.
type RouteAssembler interface {
	Build(o *Order, stores map[types.ID]catalog.Vendor) *Route
}

// RouteSequencer asks a directions provider to order the pickups.
type RouteSequencer interface {
	Sequence(ctx context.Context, r *Route) (*Route, error)
}

// Deps are the collaborators every Service needs.
type Deps struct {
	Allocator Allocator
	Catalog   Catalog
	Stock     StockReleaser
	Routes    RouteAssembler
	PINs      PINSource
}

type Service struct {
	repo       Repository
	tx         infra.TxManager
	deps       Deps
	events     *notify.Dispatcher
	sequencer  RouteSequencer
	seqTimeout time.Duration
	maxRetries int
	now        func() time.Time
	log        *zap.Logger
	wg         sync.WaitGroup
}

type Option func(*Service)

func WithEvents(d *notify.Dispatcher) Option {
	return func(s *Service) { s.events = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(log) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxRetries bounds how often placement and pickup are retried on a version conflict.
func WithMaxRetries(n int) Option {
	return func(s *Service) { s.maxRetries = n }
}

// WithSequencer enables asynchronous route sequencing after placement.
func WithSequencer(seq RouteSequencer, timeout time.Duration) Option {
	return func(s *Service) {
		s.sequencer = seq
		s.seqTimeout = timeout
	}
}

func NewService(repo Repository, tx infra.TxManager, deps Deps, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		tx:         tx,
		deps:       deps,
		maxRetries: 3,
		seqTimeout: 3 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deps.PINs == nil {
		s.deps.PINs = RandomPINs{Digits: 4}
	}
	return s
}

type PlaceCommand struct {
	CustomerID           types.ID
	Items                []allocation.Line
	DeliveryAddress      Address
	PaymentMethod        PaymentMethod
	DeliveryInstructions string
}

type TransitionCommand struct {
	OrderID types.ID
	To      Status
	Role    Role
	ActorID types.ID
}

type PickupCommand struct {
	OrderID types.ID
	StoreID types.ID
	AgentID types.ID
}

type PaymentCommand struct {
	OrderID types.ID
	Status  PaymentStatus
	Role    Role
	ActorID types.ID
}

// Place allocates the cart, debits stock and creates the order in one unit of
// work. A lost stock race retries the whole placement.
func (s *Service) Place(ctx context.Context, cmd PlaceCommand) (*Order, error) {
	if cmd.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer required", ErrBadRequest)
	}
	if cmd.PaymentMethod != PaymentCash && cmd.PaymentMethod != PaymentOnline {
		return nil, fmt.Errorf("%w: payment method must be cash or online", ErrBadRequest)
	}
	if cmd.DeliveryAddress.AddressLine == "" {
		return nil, fmt.Errorf("%w: delivery address required", ErrBadRequest)
	}
	lines, err := allocation.Normalize(cmd.Items)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrBadRequest, err)
	}
	ids := make([]types.ID, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.deps.Catalog.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	cmd.Items = lines

	for attempt := 0; ; attempt++ {
		o, err := s.placeOnce(ctx, cmd, products)
		if errors.Is(err, types.ErrConflict) && attempt < s.maxRetries {
			s.log.Debug("[Place] stock conflict, retrying",
				zap.String("customer_id", string(cmd.CustomerID)), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		return o, nil
	}
}

func (s *Service) placeOnce(ctx context.Context, cmd PlaceCommand, products map[types.ID]catalog.Product) (*Order, error) {
	id := types.ID(uuid.NewString())
	var o *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := s.deps.Allocator.Allocate(ctx, allocation.Request{
			OrderID: id,
			Actor:   cmd.CustomerID,
			Lines:   cmd.Items,
			Near:    cmd.DeliveryAddress.Coordinates,
		})
		if err != nil {
			return err
		}
		vendors, err := s.deps.Catalog.Vendors(ctx, res.StoreIDs())
		if err != nil {
			return err
		}
		o, err = s.newOrder(id, cmd, res, products, vendors)
		if err != nil {
			return err
		}
		if s.deps.Routes != nil {
			o.OptimizedRoute = s.deps.Routes.Build(o, vendors)
		}
		if err := s.repo.Create(ctx, o); err != nil {
			return err
		}
		if err := s.repo.AppendEvent(ctx, &Event{
			OrderID:    id,
			FromStatus: StatusNone,
			ToStatus:   StatusPlaced,
			ActorRole:  RoleCustomer,
			ActorID:    cmd.CustomerID,
			CreatedAt:  o.CreatedAt,
		}); err != nil {
			return err
		}
		placed := o.clone()
		infra.AfterCommit(ctx, func() {
			s.emitCreated(placed)
			s.sequenceAsync(placed)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("[Place] order placed",
		zap.String("order_id", string(o.ID)),
		zap.Int("stores", len(o.StorePins)),
		zap.Int64("total", o.Total.Amount))
	return o, nil
}

func (s *Service) newOrder(id types.ID, cmd PlaceCommand, res allocation.Result, products map[types.ID]catalog.Product, vendors map[types.ID]catalog.Vendor) (*Order, error) {
	now := s.now()
	o := &Order{
		ID:                   id,
		CustomerID:           cmd.CustomerID,
		Status:               StatusPlaced,
		CreatedAt:            now,
		UpdatedAt:            now,
		DeliveryAddress:      cmd.DeliveryAddress,
		PaymentMethod:        cmd.PaymentMethod,
		PaymentStatus:        PaymentPending,
		DeliveryInstructions: cmd.DeliveryInstructions,
		StorePins:            make(map[types.ID]string, len(res.Allocations)),
	}
	for _, a := range res.Allocations {
		pin, err := s.deps.PINs.NewPIN()
		if err != nil {
			return nil, err
		}
		o.StorePins[a.StoreID] = pin
		if o.VerificationPIN == "" {
			o.VerificationPIN = pin
		}
		for _, it := range a.Items {
			p := products[it.ProductID]
			o.Items = append(o.Items, LineItem{
				ProductID: it.ProductID,
				Name:      p.Name,
				Price:     p.UnitPrice,
				Quantity:  it.Quantity,
				StoreID:   a.StoreID,
				StoreName: vendors[a.StoreID].Name,
			})
			o.Total = o.Total.Add(p.UnitPrice.Mul(it.Quantity))
		}
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, id)
}

// Transition applies a role-driven status change. Repeating a transition that
// already produced the current state by the same actor is a no-op success.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	if !cmd.To.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, cmd.To)
	}
	if !cmd.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrBadRequest, cmd.Role)
	}
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if alreadyApplied(o, cmd) {
		return o, nil
	}
	// PICKED_UP is only reachable through pickup verification.
	if cmd.To == StatusPickedUp && Allowed(o.Status, cmd.To, cmd.Role) {
		return nil, ErrPickupRequiresVerification
	}
	if !Allowed(o.Status, cmd.To, cmd.Role) {
		return nil, &IllegalTransitionError{From: o.Status, To: cmd.To, Role: cmd.Role}
	}
	if !actorOwns(o, cmd.Role, cmd.ActorID) {
		return nil, ErrForbidden
	}
	if cmd.To == StatusOutForDelivery && !o.AllCollected() {
		return nil, ErrPickupIncomplete
	}

	from, version := o.Status, o.StatusVersion
	next := o.clone()
	next.Status = cmd.To
	next.UpdatedAt = s.now()
	switch cmd.To {
	case StatusAcceptedByAgent:
		next.AgentID = cmd.ActorID
	case StatusDelivered:
		if next.PaymentMethod == PaymentCash && next.PaymentStatus == PaymentPending {
			next.PaymentStatus = PaymentCompleted
		}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Update(ctx, next, from, version)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrConflict
		}
		if err := s.repo.AppendEvent(ctx, &Event{
			OrderID:    next.ID,
			FromStatus: from,
			ToStatus:   next.Status,
			ActorRole:  cmd.Role,
			ActorID:    cmd.ActorID,
			CreatedAt:  next.UpdatedAt,
		}); err != nil {
			return err
		}
		if next.Status == StatusCancelled || next.Status == StatusRejected {
			if err := s.releaseStock(ctx, next, cmd.ActorID); err != nil {
				return err
			}
		}
		infra.AfterCommit(ctx, func() { s.emitStatus(next, from, "") })
		return nil
	})
	if errors.Is(err, types.ErrConflict) {
		return s.resolveConflict(ctx, cmd)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("[Transition] status changed",
		zap.String("order_id", string(next.ID)),
		zap.String("from", string(from)),
		zap.String("to", string(next.Status)),
		zap.String("role", string(cmd.Role)))
	return next, nil
}

// resolveConflict decides the outcome for a caller that lost the version race.
func (s *Service) resolveConflict(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	cur, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if alreadyApplied(cur, cmd) {
		return cur, nil
	}
	if !Allowed(cur.Status, cmd.To, cmd.Role) {
		return nil, &IllegalTransitionError{From: cur.Status, To: cmd.To, Role: cmd.Role}
	}
	return nil, fmt.Errorf("order %s: %w", cmd.OrderID, types.ErrConflict)
}

// MarkPickedUp records a verified store handover. The first verified store
// moves the order to PICKED_UP; later stores of a multi-store order are
// recorded without a status change. Only the pickup verifier calls this.
func (s *Service) MarkPickedUp(ctx context.Context, cmd PickupCommand) (*Order, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.collect(ctx, cmd)
		if errors.Is(err, types.ErrConflict) && attempt < s.maxRetries {
			continue
		}
		return o, err
	}
}

// CheckPickup reports whether agentID may currently collect at storeID.
func (s *Service) CheckPickup(o *Order, storeID, agentID types.ID) error {
	if o.Status != StatusAcceptedByAgent && o.Status != StatusPickedUp {
		return &IllegalTransitionError{From: o.Status, To: StatusPickedUp, Role: RoleAgent}
	}
	if o.AgentID != agentID {
		return ErrForbidden
	}
	if !o.HasStore(storeID) {
		return fmt.Errorf("%w: store %s is not part of order %s", ErrBadRequest, storeID, o.ID)
	}
	return nil
}

func (s *Service) collect(ctx context.Context, cmd PickupCommand) (*Order, error) {
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Collected(cmd.StoreID) && o.AgentID == cmd.AgentID {
		return o, nil
	}
	if err := s.CheckPickup(o, cmd.StoreID, cmd.AgentID); err != nil {
		return nil, err
	}

	from, version := o.Status, o.StatusVersion
	next := o.clone()
	next.Status = StatusPickedUp
	next.CollectedStores = append(next.CollectedStores, cmd.StoreID)
	next.UpdatedAt = s.now()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Update(ctx, next, from, version)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrConflict
		}
		if err := s.repo.AppendEvent(ctx, &Event{
			OrderID:    next.ID,
			FromStatus: from,
			ToStatus:   StatusPickedUp,
			ActorRole:  RoleAgent,
			ActorID:    cmd.AgentID,
			StoreID:    cmd.StoreID,
			CreatedAt:  next.UpdatedAt,
		}); err != nil {
			return err
		}
		infra.AfterCommit(ctx, func() { s.emitStatus(next, from, cmd.StoreID) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("[MarkPickedUp] store collected",
		zap.String("order_id", string(next.ID)),
		zap.String("store_id", string(cmd.StoreID)),
		zap.Int("collected", len(next.CollectedStores)),
		zap.Int("stores", len(next.StorePins)))
	return next, nil
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentCompleted, PaymentFailed},
	PaymentFailed:  {PaymentCompleted},
}

// UpdatePayment records payment bookkeeping; no funds are moved here.
func (s *Service) UpdatePayment(ctx context.Context, cmd PaymentCommand) (*Order, error) {
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	switch cmd.Role {
	case RoleCustomer:
		if o.CustomerID != cmd.ActorID {
			return nil, ErrForbidden
		}
	case RoleAgent:
		if o.AgentID == "" || o.AgentID != cmd.ActorID {
			return nil, ErrForbidden
		}
	case RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	if o.PaymentStatus == cmd.Status {
		return o, nil
	}
	if o.Status == StatusCancelled || o.Status == StatusRejected {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidPayment, o.Status)
	}
	if !slices.Contains(paymentTransitions[o.PaymentStatus], cmd.Status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidPayment, o.PaymentStatus, cmd.Status)
	}

	next := o.clone()
	next.PaymentStatus = cmd.Status
	next.UpdatedAt = s.now()
	ok, err := s.repo.Update(ctx, next, o.Status, o.StatusVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order %s: %w", o.ID, types.ErrConflict)
	}
	s.log.Info("[UpdatePayment] payment status changed",
		zap.String("order_id", string(o.ID)),
		zap.String("payment_status", string(cmd.Status)))
	return next, nil
}

// Route returns the stored route, assembling one when none was persisted.
func (s *Service) Route(ctx context.Context, id types.ID) (*Route, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OptimizedRoute != nil {
		return o.OptimizedRoute, nil
	}
	if s.deps.Routes == nil {
		return nil, fmt.Errorf("route for order %s: %w", id, types.ErrNotFound)
	}
	vendors, err := s.deps.Catalog.Vendors(ctx, o.StoreIDs())
	if err != nil {
		return nil, err
	}
	return s.deps.Routes.Build(o, vendors), nil
}

// Wait blocks until background route sequencing finishes.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) releaseStock(ctx context.Context, o *Order, actor types.ID) error {
	if s.deps.Stock == nil || len(o.Items) == 0 {
		return nil
	}
	entries := make([]inventory.Entry, 0, len(o.Items))
	for _, it := range o.Items {
		entries = append(entries, inventory.Entry{
			StoreID:     it.StoreID,
			ProductID:   it.ProductID,
			Delta:       it.Quantity,
			Kind:        inventory.KindReturn,
			ReferenceID: string(o.ID),
			Actor:       actor,
			Notes:       "order " + string(o.Status),
		})
	}
	_, err := s.deps.Stock.ApplyBatch(ctx, entries)
	return err
}

func (s *Service) sequenceAsync(o *Order) {
	if s.sequencer == nil || o.OptimizedRoute == nil || len(o.OptimizedRoute.StorePickups) < 2 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.seqTimeout)
		defer cancel()
		seq, err := s.sequencer.Sequence(ctx, o.OptimizedRoute)
		if err != nil {
			s.log.Warn("[Place] route sequencing failed, keeping assembled route",
				zap.String("order_id", string(o.ID)), zap.Error(err))
			return
		}
		if err := s.repo.SetRoute(ctx, o.ID, seq); err != nil {
			s.log.Warn("[Place] store sequenced route", zap.String("order_id", string(o.ID)), zap.Error(err))
		}
	}()
}

func (s *Service) emitCreated(o *Order) {
	for _, storeID := range o.StoreIDs() {
		s.events.Emit(notify.Event{
			Type:    notify.EventOrderCreated,
			OrderID: o.ID,
			StoreID: storeID,
			Data:    map[string]string{"status": string(o.Status), "customerId": string(o.CustomerID)},
		})
	}
}

func (s *Service) emitStatus(o *Order, from Status, storeID types.ID) {
	typ := notify.EventStatusChanged
	if storeID != "" && from == o.Status {
		typ = notify.EventStorePickedUp
	}
	s.events.Emit(notify.Event{
		Type:    typ,
		OrderID: o.ID,
		StoreID: storeID,
		Data:    map[string]string{"from": string(from), "to": string(o.Status)},
	})
}

// alreadyApplied reports whether cmd's target is the current state and the
// same actor is the one that produced it.
func alreadyApplied(o *Order, cmd TransitionCommand) bool {
	if o.Status != cmd.To || !enteredBy(cmd.To, cmd.Role) {
		return false
	}
	return actorOwns(o, cmd.Role, cmd.ActorID)
}

func actorOwns(o *Order, role Role, actor types.ID) bool {
	switch role {
	case RoleCustomer:
		return o.CustomerID == actor
	case RoleVendor:
		return o.HasStore(actor)
	case RoleAgent:
		return o.AgentID == "" || o.AgentID == actor
	}
	return false
}
