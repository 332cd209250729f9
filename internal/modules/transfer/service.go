// README: Transfer lifecycle; completion moves stock with paired ledger entries in one unit of work.
package transfer

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
	"dropmart/internal/modules/inventory"
	"dropmart/internal/notify"
	"dropmart/internal/types"
)

type Repository interface {
	Create(ctx context.Context, t *Transfer) error
	Get(ctx context.Context, id types.ID) (*Transfer, error)
	Update(ctx context.Context, t *Transfer, from Status, version int) (bool, error)
}

type StockLedger interface {
	ApplyBatch(ctx context.Context, entries []inventory.Entry) ([]inventory.Transaction, error)
}

type Service struct {
	repo   Repository
	tx     infra.TxManager
	ledger StockLedger
	events *notify.Dispatcher
	now    func() time.Time
	log    *zap.Logger
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

func NewService(repo Repository, tx infra.TxManager, ledger StockLedger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		tx:     tx,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateCommand struct {
	FromStoreID types.ID
	ToStoreID   types.ID
	Items       []Item
	InitiatedBy types.ID
	Notes       string
}

// Create records a pending transfer. Stock is not reserved; availability is
// enforced when the transfer completes.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Transfer, error) {
	if cmd.FromStoreID == "" || cmd.ToStoreID == "" {
		return nil, fmt.Errorf("%w: both stores required", ErrInvalidTransfer)
	}
	if cmd.FromStoreID == cmd.ToStoreID {
		return nil, fmt.Errorf("%w: source and destination are the same store", ErrInvalidTransfer)
	}
	items, err := mergeItems(cmd.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &Transfer{
		ID:          types.ID(uuid.NewString()),
		FromStoreID: cmd.FromStoreID,
		ToStoreID:   cmd.ToStoreID,
		Status:      StatusPending,
		Items:       items,
		InitiatedBy: cmd.InitiatedBy,
		Notes:       cmd.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("[Create] transfer created",
		zap.String("transfer_id", string(t.ID)),
		zap.String("from", string(t.FromStoreID)),
		zap.String("to", string(t.ToStoreID)),
		zap.Int("items", len(t.Items)))
	return t, nil
}

func mergeItems(in []Item) ([]Item, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidTransfer)
	}
	pos := make(map[types.ID]int)
	out := make([]Item, 0, len(in))
	for _, it := range in {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: each item needs a product and a positive quantity", ErrInvalidTransfer)
		}
		if i, ok := pos[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		pos[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Transfer, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Dispatch(ctx context.Context, id, actor types.ID) (*Transfer, error) {
	return s.move(ctx, id, actor, StatusInTransit)
}

// Complete debits the source and credits the destination for every item. Any
// insufficient source quantity fails the whole transfer and leaves it in transit.
func (s *Service) Complete(ctx context.Context, id, actor types.ID) (*Transfer, error) {
	return s.move(ctx, id, actor, StatusCompleted)
}

// Cancel is allowed from pending or in_transit and has no ledger effect.
func (s *Service) Cancel(ctx context.Context, id, actor types.ID) (*Transfer, error) {
	return s.move(ctx, id, actor, StatusCancelled)
}

func (s *Service) move(ctx context.Context, id, actor types.ID, to Status) (*Transfer, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == to {
		return t, nil
	}
	if !canMove(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalStatus, t.Status, to)
	}

	from, version := t.Status, t.StatusVersion
	nt := t.clone()
	now := s.now()
	nt.Status = to
	nt.UpdatedAt = now
	switch to {
	case StatusInTransit:
		nt.DispatchedAt = &now
	case StatusCompleted:
		nt.CompletedAt = &now
	case StatusCancelled:
		nt.CancelledAt = &now
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Update(ctx, nt, from, version)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrConflict
		}
		if to != StatusCompleted {
			return nil
		}
		if _, err := s.ledger.ApplyBatch(ctx, ledgerEntries(nt, actor)); err != nil {
			return err
		}
		infra.AfterCommit(ctx, func() { s.emitCompleted(nt) })
		return nil
	})
	if errors.Is(err, types.ErrConflict) {
		cur, gerr := s.repo.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status == to {
			return cur, nil
		}
		return nil, fmt.Errorf("transfer %s: %w", id, types.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("[Transfer] status changed",
		zap.String("transfer_id", string(id)),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nt, nil
}

func ledgerEntries(t *Transfer, actor types.ID) []inventory.Entry {
	ref := string(t.ID)
	out := make([]inventory.Entry, 0, 2*len(t.Items))
	for _, it := range t.Items {
		out = append(out,
			inventory.Entry{
				StoreID: t.FromStoreID, ProductID: it.ProductID, Delta: -it.Quantity,
				Kind: inventory.KindTransfer, ReferenceID: ref, Actor: actor,
				Notes: "transfer to " + string(t.ToStoreID),
			},
			inventory.Entry{
				StoreID: t.ToStoreID, ProductID: it.ProductID, Delta: it.Quantity,
				Kind: inventory.KindTransfer, ReferenceID: ref, Actor: actor,
				Notes: "transfer from " + string(t.FromStoreID),
			},
		)
	}
	return out
}

func (s *Service) emitCompleted(t *Transfer) {
	s.events.Emit(notify.Event{
		Type:    notify.EventTransferDone,
		StoreID: t.ToStoreID,
		Data: map[string]string{
			"transferId": string(t.ID),
			"fromStore":  string(t.FromStoreID),
			"items":      strconv.Itoa(len(t.Items)),
		},
	})
}
