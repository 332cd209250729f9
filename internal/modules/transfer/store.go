// README: Transfer store backed by PostgreSQL.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dropmart/internal/infra"
	"dropmart/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, t *Transfer) error {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return err
	}
	_, err = infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO store_transfers (
			id, from_store_id, to_store_id, status, status_version,
			items, initiated_by, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(t.ID), string(t.FromStoreID), string(t.ToStoreID), string(t.Status), t.StatusVersion,
		items, string(t.InitiatedBy), t.Notes, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Transfer, error) {
	row := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT id, from_store_id, to_store_id, status, status_version,
		       items, initiated_by, notes, created_at, updated_at,
		       dispatched_at, completed_at, cancelled_at
		FROM store_transfers
		WHERE id = $1`, string(id),
	)
	var t Transfer
	var items []byte
	err := row.Scan(
		&t.ID, &t.FromStoreID, &t.ToStoreID, &t.Status, &t.StatusVersion,
		&items, &t.InitiatedBy, &t.Notes, &t.CreatedAt, &t.UpdatedAt,
		&t.DispatchedAt, &t.CompletedAt, &t.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transfer %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &t.Items); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update writes status and timestamps when the row still has (from, version).
func (s *Store) Update(ctx context.Context, t *Transfer, from Status, version int) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE store_transfers
		SET status = $1, status_version = status_version + 1, updated_at = $2,
		    dispatched_at = $3, completed_at = $4, cancelled_at = $5
		WHERE id = $6 AND status = $7 AND status_version = $8`,
		string(t.Status), t.UpdatedAt, t.DispatchedAt, t.CompletedAt, t.CancelledAt,
		string(t.ID), string(from), version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	t.StatusVersion = version + 1
	return true, nil
}
