// README: Unit-of-work contract shared by Postgres and in-memory persistence.
package infra

import (
	"context"
	"sync"
)

// TxManager runs fn as one atomic unit of work. Nested calls join the outer unit.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type hooksKey struct{}

type commitHooks struct {
	mu          sync.Mutex
	afterCommit []func()
	undo        []func()
}

func (h *commitHooks) runAfterCommit() {
	h.mu.Lock()
	fns := h.afterCommit
	h.afterCommit = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *commitHooks) runUndo() {
	h.mu.Lock()
	fns := h.undo
	h.undo = nil
	h.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// AfterCommit schedules fn for when the outermost unit of work commits.
// Outside a unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	h, ok := ctx.Value(hooksKey{}).(*commitHooks)
	if !ok {
		fn()
		return
	}
	h.mu.Lock()
	h.afterCommit = append(h.afterCommit, fn)
	h.mu.Unlock()
}

// OnRollback registers a compensation used by in-memory stores. Postgres
// stores never call it; the database transaction discards their writes.
func OnRollback(ctx context.Context, fn func()) {
	h, ok := ctx.Value(hooksKey{}).(*commitHooks)
	if !ok {
		return
	}
	h.mu.Lock()
	h.undo = append(h.undo, fn)
	h.mu.Unlock()
}

// MemoryTxManager gives in-memory stores all-or-nothing semantics by replaying
// registered compensations in reverse order when fn fails. Units of work run
// one at a time so no unit observes another's uncommitted writes.
type MemoryTxManager struct {
	mu sync.Mutex
}

func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

func (m *MemoryTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(hooksKey{}).(*commitHooks); ok {
		return fn(ctx)
	}
	hooks := &commitHooks{}
	m.mu.Lock()
	if err := fn(context.WithValue(ctx, hooksKey{}, hooks)); err != nil {
		hooks.runUndo()
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	hooks.runAfterCommit()
	return nil
}
