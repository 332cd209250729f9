// README: Catalog lookups with not-found handling for the engine.
package catalog

import (
	"context"
	"fmt"

	"dropmart/internal/types"
)

// Repository is implemented by Store and MemoryStore.
type Repository interface {
	Products(ctx context.Context, ids []types.ID) (map[types.ID]Product, error)
	Vendors(ctx context.Context, ids []types.ID) (map[types.ID]Vendor, error)
	UpsertProduct(ctx context.Context, p Product) error
	UpsertVendor(ctx context.Context, v Vendor) error
}

// VendorIndexer mirrors vendor coordinates into the proximity index.
type VendorIndexer interface {
	IndexVendor(ctx context.Context, id types.ID, at types.Point) error
}

type Service struct {
	repo  Repository
	index VendorIndexer
}

// NewService builds the catalog service; index may be nil.
func NewService(repo Repository, index VendorIndexer) *Service {
	return &Service{repo: repo, index: index}
}

// Products resolves every id or fails naming the first missing one.
func (s *Service) Products(ctx context.Context, ids []types.ID) (map[types.ID]Product, error) {
	found, err := s.repo.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", id, types.ErrNotFound)
		}
		if p.UnitPrice.Currency == "" {
			p.UnitPrice.Currency = types.DefaultCurrency
			found[id] = p
		}
	}
	return found, nil
}

// Vendors resolves every id or fails naming the first missing one.
func (s *Service) Vendors(ctx context.Context, ids []types.ID) (map[types.ID]Vendor, error) {
	found, err := s.repo.Vendors(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, fmt.Errorf("store %s: %w", id, types.ErrNotFound)
		}
	}
	return found, nil
}

func (s *Service) Vendor(ctx context.Context, id types.ID) (Vendor, error) {
	found, err := s.Vendors(ctx, []types.ID{id})
	if err != nil {
		return Vendor{}, err
	}
	return found[id], nil
}

func (s *Service) RegisterProduct(ctx context.Context, p Product) error {
	if p.ID == "" || p.Name == "" || p.UnitPrice.Amount < 0 {
		return fmt.Errorf("product: id, name and non-negative price required: %w", types.ErrBadRequest)
	}
	return s.repo.UpsertProduct(ctx, p)
}

func (s *Service) RegisterVendor(ctx context.Context, v Vendor) error {
	if v.ID == "" || v.Name == "" {
		return fmt.Errorf("vendor: id and name required: %w", types.ErrBadRequest)
	}
	if v.Kind != VendorGrocery && v.Kind != VendorRestaurant {
		return fmt.Errorf("vendor: unknown kind %q: %w", v.Kind, types.ErrBadRequest)
	}
	if err := s.repo.UpsertVendor(ctx, v); err != nil {
		return err
	}
	if s.index != nil {
		return s.index.IndexVendor(ctx, v.ID, v.Location)
	}
	return nil
}
