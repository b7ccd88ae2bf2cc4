package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

// Registry bundles all Firestore-backed repositories behind the
// repositories.Registry contract so wiring code deals with one handle.
type Registry struct {
	provider *pfirestore.Provider

	products  *ProductRepository
	carts     *CartRepository
	coupons   *CouponRepository
	inventory *InventoryRepository
	orders    *OrderRepository
	reviews   *ReviewRepository
	users     *UserRepository
	addresses *AddressRepository
	wishlists *WishlistRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// NewRegistry constructs every repository against the shared provider. The
// health repository is supplied by the caller because its dependency probes
// reach beyond Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	reg := &Registry{provider: provider, health: health}

	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: products: %w", err)
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: carts: %w", err)
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: coupons: %w", err)
	}
	if reg.inventory, err = NewInventoryRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: inventory: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: orders: %w", err)
	}
	if reg.reviews, err = NewReviewRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: reviews: %w", err)
	}
	if reg.users, err = NewUserRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: users: %w", err)
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: addresses: %w", err)
	}
	if reg.wishlists, err = NewWishlistRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: wishlists: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: counters: %w", err)
	}

	return reg, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn inside a Firestore transaction. Repositories invoked
// within fn still issue their own document transactions; this boundary exists
// for callers composing several reads that must observe one snapshot.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Coupons() repositories.CouponRepository       { return r.coupons }
func (r *Registry) Inventory() repositories.InventoryRepository  { return r.inventory }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Reviews() repositories.ReviewRepository       { return r.reviews }
func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Addresses() repositories.AddressRepository    { return r.addresses }
func (r *Registry) Wishlists() repositories.WishlistRepository   { return r.wishlists }
func (r *Registry) Counters() repositories.CounterRepository     { return r.counters }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

var _ repositories.Registry = (*Registry)(nil)
