// README: Catalog store backed by PostgreSQL.
package catalog

import (
	"context"

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

// Products returns the found subset keyed by id; callers decide whether a
// missing id is an error.
func (s *Store) Products(ctx context.Context, ids []types.ID) (map[types.ID]Product, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT id, name, category, unit_price, currency, unit
		FROM products
		WHERE id = ANY($1)`, idStrings(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice.Amount, &p.UnitPrice.Currency, &p.Unit); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) Vendors(ctx context.Context, ids []types.ID) (map[types.ID]Vendor, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT id, name, kind, lat, lng, address
		FROM vendors
		WHERE id = ANY($1)`, idStrings(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]Vendor, len(ids))
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.Kind, &v.Location.Lat, &v.Location.Lng, &v.Address); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

func (s *Store) UpsertProduct(ctx context.Context, p Product) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO products (id, name, category, unit_price, currency, unit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category,
		    unit_price = EXCLUDED.unit_price, currency = EXCLUDED.currency, unit = EXCLUDED.unit`,
		string(p.ID), p.Name, p.Category, p.UnitPrice.Amount, p.UnitPrice.Currency, p.Unit,
	)
	return err
}

func (s *Store) UpsertVendor(ctx context.Context, v Vendor) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO vendors (id, name, kind, lat, lng, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, kind = EXCLUDED.kind,
		    lat = EXCLUDED.lat, lng = EXCLUDED.lng, address = EXCLUDED.address`,
		string(v.ID), v.Name, string(v.Kind), v.Location.Lat, v.Location.Lng, v.Address,
	)
	return err
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
