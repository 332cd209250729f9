// README: Order store backed by PostgreSQL; status writes are conditional on (status, status_version).
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

func (s *Store) Create(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	pins, err := json.Marshal(o.StorePins)
	if err != nil {
		return err
	}
	route, err := marshalRoute(o.OptimizedRoute)
	if err != nil {
		return err
	}
	_, err = infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, agent_id, status, status_version,
			items, total_amount, currency,
			address_line, dropoff_lat, dropoff_lng,
			payment_method, payment_status, delivery_instructions,
			verification_pin, store_pins, collected_stores, route,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16, '[]', $17,
			$18, $19
		)`,
		string(o.ID), string(o.CustomerID), nullID(o.AgentID), string(o.Status), o.StatusVersion,
		items, o.Total.Amount, o.Total.Currency,
		o.DeliveryAddress.AddressLine, o.DeliveryAddress.Coordinates.Lat, o.DeliveryAddress.Coordinates.Lng,
		string(o.PaymentMethod), string(o.PaymentStatus), o.DeliveryInstructions,
		o.VerificationPIN, pins, route,
		o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := infra.Conn(ctx, s.db).QueryRow(ctx, `
		SELECT id, customer_id, COALESCE(agent_id, ''), status, status_version,
		       items, total_amount, currency,
		       address_line, dropoff_lat, dropoff_lng,
		       payment_method, payment_status, delivery_instructions,
		       verification_pin, store_pins, collected_stores, route,
		       created_at, updated_at
		FROM orders
		WHERE id = $1`, string(id),
	)

	var o Order
	var items, pins, collected, route []byte
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.AgentID, &o.Status, &o.StatusVersion,
		&items, &o.Total.Amount, &o.Total.Currency,
		&o.DeliveryAddress.AddressLine, &o.DeliveryAddress.Coordinates.Lat, &o.DeliveryAddress.Coordinates.Lng,
		&o.PaymentMethod, &o.PaymentStatus, &o.DeliveryInstructions,
		&o.VerificationPIN, &pins, &collected, &route,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("order %s: decode items: %w", id, err)
	}
	if err := json.Unmarshal(pins, &o.StorePins); err != nil {
		return nil, fmt.Errorf("order %s: decode store pins: %w", id, err)
	}
	if err := json.Unmarshal(collected, &o.CollectedStores); err != nil {
		return nil, fmt.Errorf("order %s: decode collected stores: %w", id, err)
	}
	if len(route) > 0 {
		o.OptimizedRoute = &Route{}
		if err := json.Unmarshal(route, o.OptimizedRoute); err != nil {
			return nil, fmt.Errorf("order %s: decode route: %w", id, err)
		}
	}
	return &o, nil
}

// Update writes the mutable fields of o only if the row still holds
// (from, version). On success o.StatusVersion is advanced.
func (s *Store) Update(ctx context.Context, o *Order, from Status, version int) (bool, error) {
	collected, err := json.Marshal(o.CollectedStores)
	if err != nil {
		return false, err
	}
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    agent_id = $2,
		    payment_status = $3,
		    collected_stores = $4,
		    updated_at = $5
		WHERE id = $6 AND status = $7 AND status_version = $8`,
		string(o.Status), nullID(o.AgentID), string(o.PaymentStatus), collected, o.UpdatedAt,
		string(o.ID), string(from), version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	o.StatusVersion = version + 1
	return true, nil
}

// SetRoute replaces the stored route. Routes are not lifecycle state, so no version check.
func (s *Store) SetRoute(ctx context.Context, id types.ID, r *Route) error {
	route, err := marshalRoute(r)
	if err != nil {
		return err
	}
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE orders SET route = $1, updated_at = $2 WHERE id = $3`,
		route, time.Now().UTC(), string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	return infra.Conn(ctx, s.db).QueryRow(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_role, actor_id, store_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorRole),
		nullID(e.ActorID),
		nullID(e.StoreID),
		e.CreatedAt,
	).Scan(&e.ID)
}

func (s *Store) Events(ctx context.Context, orderID types.ID) ([]Event, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_role,
		       COALESCE(actor_id, ''), COALESCE(store_id, ''), created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorRole,
			&e.ActorID, &e.StoreID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalRoute(r *Route) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func nullID(v types.ID) *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}
