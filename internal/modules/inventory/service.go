// README: Ledger service; every stock change is an appended transaction plus a versioned record update.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dropmart/internal/infra"
	"dropmart/internal/logger"
	"dropmart/internal/notify"
	"dropmart/internal/types"
)

// Repository is implemented by Store and MemoryStore.
type Repository interface {
	GetStock(ctx context.Context, storeID, productID types.ID) (*StockRecord, error)
	ListLowStock(ctx context.Context, storeID types.ID) ([]StockRecord, error)
	Availability(ctx context.Context, productIDs []types.ID) (Availability, error)
	InsertStock(ctx context.Context, r *StockRecord) error
	UpdateStock(ctx context.Context, r *StockRecord, version int) (bool, error)
	AppendTransaction(ctx context.Context, t *Transaction) error
	History(ctx context.Context, storeID, productID types.ID, limit int) ([]Transaction, error)
}

// Policy holds ledger rules that vary per deployment.
type Policy struct {
	AllowNegativeAdjustments bool
}

const defaultHistoryLimit = 50

type Ledger struct {
	repo   Repository
	tx     infra.TxManager
	events *notify.Dispatcher
	policy Policy
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithEvents(d *notify.Dispatcher) Option {
	return func(l *Ledger) { l.events = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = logger.OrNop(log) }
}

func NewLedger(repo Repository, tx infra.TxManager, policy Policy, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		tx:     tx,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyTransaction appends one entry and moves the stock record in the same unit of work.
func (l *Ledger) ApplyTransaction(ctx context.Context, e Entry) (*Transaction, error) {
	out, err := l.ApplyBatch(ctx, []Entry{e})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// ApplyBatch applies entries in order, all or nothing. When ctx already carries
// a unit of work the entries join it.
func (l *Ledger) ApplyBatch(ctx context.Context, entries []Entry) ([]Transaction, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidEntry)
	}
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return nil, err
		}
	}

	var out []Transaction
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		out = make([]Transaction, 0, len(entries))
		for _, e := range entries {
			t, err := l.apply(ctx, e)
			if err != nil {
				return err
			}
			out = append(out, *t)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			l.log.Debug("[ApplyBatch] version conflict", zap.Int("entries", len(entries)))
		}
		return nil, err
	}
	return out, nil
}

func (l *Ledger) apply(ctx context.Context, e Entry) (*Transaction, error) {
	now := l.now()
	rec, err := l.repo.GetStock(ctx, e.StoreID, e.ProductID)
	created := false
	switch {
	case errors.Is(err, types.ErrNotFound):
		rec = newRecord(e.StoreID, e.ProductID)
		created = true
	case err != nil:
		return nil, err
	}

	next := rec.Quantity + e.Delta
	if next < 0 && !l.mayGoNegative(e.Kind) {
		return nil, &InsufficientStockError{
			ProductID: e.ProductID,
			StoreID:   e.StoreID,
			Requested: -e.Delta,
			Available: rec.Quantity,
		}
	}

	version := rec.Version
	rec.Quantity = next
	rec.LowStock = next <= rec.ReorderPoint
	rec.UpdatedAt = now
	if created {
		if err := l.repo.InsertStock(ctx, rec); err != nil {
			return nil, err
		}
	} else {
		ok, err := l.repo.UpdateStock(ctx, rec, version)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("stock %s/%s: %w", e.StoreID, e.ProductID, types.ErrConflict)
		}
	}

	t := &Transaction{
		ID:           types.ID(uuid.NewString()),
		StoreID:      e.StoreID,
		ProductID:    e.ProductID,
		Delta:        e.Delta,
		Kind:         e.Kind,
		ReferenceID:  e.ReferenceID,
		Actor:        e.Actor,
		Notes:        e.Notes,
		BalanceAfter: next,
		CreatedAt:    now,
	}
	if err := l.repo.AppendTransaction(ctx, t); err != nil {
		return nil, err
	}

	if rec.LowStock {
		snapshot := *rec
		infra.AfterCommit(ctx, func() { l.emitLowStock(snapshot) })
	}
	return t, nil
}

func (l *Ledger) mayGoNegative(k Kind) bool {
	return k == KindAdjustment && l.policy.AllowNegativeAdjustments
}

func (l *Ledger) emitLowStock(r StockRecord) {
	l.log.Info("[ApplyTransaction] low stock",
		zap.String("store_id", string(r.StoreID)),
		zap.String("product_id", string(r.ProductID)),
		zap.Int("quantity", r.Quantity))
	l.events.Emit(notify.Event{
		Type:      notify.EventLowStock,
		StoreID:   r.StoreID,
		ProductID: r.ProductID,
		Data: map[string]string{
			"quantity":     strconv.Itoa(r.Quantity),
			"reorderPoint": strconv.Itoa(r.ReorderPoint),
		},
	})
}

func validateEntry(e Entry) error {
	if e.StoreID == "" || e.ProductID == "" {
		return fmt.Errorf("%w: store and product required", ErrInvalidEntry)
	}
	if e.Delta == 0 {
		return fmt.Errorf("%w: zero delta", ErrInvalidEntry)
	}
	switch e.Kind {
	case KindRestock, KindReturn:
		if e.Delta < 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidEntry, e.Kind)
		}
	case KindSale:
		if e.Delta > 0 {
			return fmt.Errorf("%w: sale must be negative", ErrInvalidEntry)
		}
	case KindAdjustment, KindTransfer:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	}
	return nil
}

// SetThresholds edits the reorder policy of a record, creating it with zero quantity if absent.
func (l *Ledger) SetThresholds(ctx context.Context, storeID, productID types.ID, minLevel, maxLevel, reorder int) (*StockRecord, error) {
	if minLevel < 0 || maxLevel < minLevel || reorder < 0 {
		return nil, fmt.Errorf("%w: thresholds must satisfy 0 <= min <= max and reorder >= 0", ErrInvalidEntry)
	}
	var out *StockRecord
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		rec, err := l.repo.GetStock(ctx, storeID, productID)
		created := errors.Is(err, types.ErrNotFound)
		if created {
			rec = newRecord(storeID, productID)
		} else if err != nil {
			return err
		}
		version := rec.Version
		rec.MinStockLevel, rec.MaxStockLevel, rec.ReorderPoint = minLevel, maxLevel, reorder
		rec.LowStock = rec.Quantity <= reorder
		rec.UpdatedAt = l.now()
		if created {
			err = l.repo.InsertStock(ctx, rec)
		} else {
			var ok bool
			ok, err = l.repo.UpdateStock(ctx, rec, version)
			if err == nil && !ok {
				err = types.ErrConflict
			}
		}
		out = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) GetStock(ctx context.Context, storeID, productID types.ID) (*StockRecord, error) {
	return l.repo.GetStock(ctx, storeID, productID)
}

func (l *Ledger) GetLowStock(ctx context.Context, storeID types.ID) ([]StockRecord, error) {
	return l.repo.ListLowStock(ctx, storeID)
}

// GetAvailability lists stores with positive quantity per product, in discovery order.
func (l *Ledger) GetAvailability(ctx context.Context, productIDs []types.ID) (Availability, error) {
	if len(productIDs) == 0 {
		return Availability{}, nil
	}
	return l.repo.Availability(ctx, productIDs)
}

func (l *Ledger) History(ctx context.Context, storeID, productID types.ID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}
	return l.repo.History(ctx, storeID, productID, limit)
}
