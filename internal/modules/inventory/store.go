// README: Inventory ledger and stock directory backed by PostgreSQL.
package inventory

import (
	"context"
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

const stockColumns = `store_id, product_id, quantity, min_stock_level, max_stock_level,
	reorder_point, low_stock, version, updated_at`

func scanRecord(row pgx.Row) (*StockRecord, error) {
	var r StockRecord
	err := row.Scan(
		&r.StoreID, &r.ProductID, &r.Quantity, &r.MinStockLevel, &r.MaxStockLevel,
		&r.ReorderPoint, &r.LowStock, &r.Version, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetStock(ctx context.Context, storeID, productID types.ID) (*StockRecord, error) {
	row := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT `+stockColumns+`
		FROM store_stock
		WHERE store_id = $1 AND product_id = $2`, string(storeID), string(productID),
	)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("stock %s/%s: %w", storeID, productID, types.ErrNotFound)
	}
	return r, err
}

func (s *Store) ListLowStock(ctx context.Context, storeID types.ID) ([]StockRecord, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT `+stockColumns+`
		FROM store_stock
		WHERE store_id = $1 AND low_stock
		ORDER BY seq`, string(storeID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) Availability(ctx context.Context, productIDs []types.ID) (Availability, error) {
	ids := make([]string, len(productIDs))
	for i, id := range productIDs {
		ids[i] = string(id)
	}
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT product_id, store_id, quantity
		FROM store_stock
		WHERE product_id = ANY($1) AND quantity > 0
		ORDER BY seq`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(Availability, len(productIDs))
	for rows.Next() {
		var productID types.ID
		var sq StoreQuantity
		if err := rows.Scan(&productID, &sq.StoreID, &sq.Quantity); err != nil {
			return nil, err
		}
		out[productID] = append(out[productID], sq)
	}
	return out, rows.Err()
}

// InsertStock creates the record at version 0. A concurrent creator wins and
// this call reports types.ErrConflict.
func (s *Store) InsertStock(ctx context.Context, r *StockRecord) error {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO store_stock (`+stockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		ON CONFLICT (store_id, product_id) DO NOTHING`,
		string(r.StoreID), string(r.ProductID), r.Quantity, r.MinStockLevel, r.MaxStockLevel,
		r.ReorderPoint, r.LowStock, r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return types.ErrConflict
	}
	r.Version = 0
	return nil
}

// UpdateStock writes r only if the stored version still equals version.
func (s *Store) UpdateStock(ctx context.Context, r *StockRecord, version int) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE store_stock
		SET quantity = $3,
		    min_stock_level = $4,
		    max_stock_level = $5,
		    reorder_point = $6,
		    low_stock = $7,
		    updated_at = $8,
		    version = version + 1
		WHERE store_id = $1 AND product_id = $2 AND version = $9`,
		string(r.StoreID), string(r.ProductID), r.Quantity, r.MinStockLevel, r.MaxStockLevel,
		r.ReorderPoint, r.LowStock, r.UpdatedAt, version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	r.Version = version + 1
	return true, nil
}

func (s *Store) AppendTransaction(ctx context.Context, t *Transaction) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO inventory_transactions (
			id, store_id, product_id, delta, kind, reference_id,
			actor, notes, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(t.ID), string(t.StoreID), string(t.ProductID), t.Delta, string(t.Kind), nullIfEmpty(t.ReferenceID),
		string(t.Actor), t.Notes, t.BalanceAfter, t.CreatedAt,
	)
	return err
}

func (s *Store) History(ctx context.Context, storeID, productID types.ID, limit int) ([]Transaction, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT id, store_id, product_id, delta, kind, COALESCE(reference_id, ''),
		       actor, notes, balance_after, created_at
		FROM inventory_transactions
		WHERE store_id = $1 AND product_id = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT $3`, string(storeID), string(productID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.StoreID, &t.ProductID, &t.Delta, &t.Kind, &t.ReferenceID,
			&t.Actor, &t.Notes, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
