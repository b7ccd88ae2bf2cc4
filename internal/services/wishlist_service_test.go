package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
)

type stubWishlistRepo struct {
	getFn    func(ctx context.Context, userID string) (domain.Wishlist, error)
	putFn    func(ctx context.Context, userID, productID string, addedAt time.Time, limit int) (bool, error)
	deleteFn func(ctx context.Context, userID, productID string) error
}

func (s *stubWishlistRepo) Get(ctx context.Context, userID string) (domain.Wishlist, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Wishlist{}, stubNotFoundError{}
}

func (s *stubWishlistRepo) Put(ctx context.Context, userID, productID string, addedAt time.Time, limit int) (bool, error) {
	if s.putFn != nil {
		return s.putFn(ctx, userID, productID, addedAt, limit)
	}
	return true, nil
}

func (s *stubWishlistRepo) Delete(ctx context.Context, userID, productID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID, productID)
	}
	return nil
}

type stubWishlistCart struct {
	getFn func(ctx context.Context, userID string) (Cart, error)
	addFn func(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
}

func (s *stubWishlistCart) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return Cart{UserID: userID}, nil
}

func (s *stubWishlistCart) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return Cart{UserID: cmd.UserID}, nil
}

func newTestWishlistService(t *testing.T, repo *stubWishlistRepo, products productFinder, cart wishlistCartMover) WishlistService {
	t.Helper()
	if products == nil {
		products = &stubProductFinder{
			findFn: func(_ context.Context, _ string) (domain.Product, error) {
				return activeTestProduct(), nil
			},
		}
	}
	if cart == nil {
		cart = &stubWishlistCart{}
	}
	svc, err := NewWishlistService(WishlistServiceDeps{
		Repository: repo,
		Products:   products,
		Cart:       cart,
		Clock:      func() time.Time { return cartTestNow },
	})
	if err != nil {
		t.Fatalf("new wishlist service: %v", err)
	}
	return svc
}

func TestWishlistGetReturnsEmptyWhenMissing(t *testing.T) {
	svc := newTestWishlistService(t, &stubWishlistRepo{}, nil, nil)

	wishlist, err := svc.GetWishlist(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if wishlist.UserID != "user-1" || len(wishlist.Items) != 0 {
		t.Fatalf("expected empty wishlist, got %+v", wishlist)
	}
}

func TestWishlistAddProductStoresReference(t *testing.T) {
	var putProduct string
	var putLimit int
	repo := &stubWishlistRepo{
		putFn: func(_ context.Context, _, productID string, addedAt time.Time, limit int) (bool, error) {
			putProduct = productID
			putLimit = limit
			if !addedAt.Equal(cartTestNow) {
				return false, errors.New("unexpected addedAt")
			}
			return true, nil
		},
		getFn: func(_ context.Context, userID string) (domain.Wishlist, error) {
			return domain.Wishlist{
				UserID: userID,
				Items:  []domain.WishlistItem{{ProductID: "prod-1", AddedAt: cartTestNow}},
			}, nil
		},
	}
	svc := newTestWishlistService(t, repo, nil, nil)

	wishlist, err := svc.AddProduct(context.Background(), WishlistCommand{UserID: "user-1", ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if putProduct != "prod-1" {
		t.Fatalf("expected prod-1 stored, got %s", putProduct)
	}
	if putLimit != defaultWishlistLimit {
		t.Fatalf("expected default limit, got %d", putLimit)
	}
	if len(wishlist.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(wishlist.Items))
	}
}

func TestWishlistAddRejectsArchivedProduct(t *testing.T) {
	products := &stubProductFinder{
		findFn: func(_ context.Context, productID string) (domain.Product, error) {
			return domain.Product{ID: productID, Status: domain.ProductStatusArchived}, nil
		},
	}
	svc := newTestWishlistService(t, &stubWishlistRepo{}, products, nil)

	_, err := svc.AddProduct(context.Background(), WishlistCommand{UserID: "user-1", ProductID: "prod-1"})
	if !errors.Is(err, ErrWishlistInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestWishlistAddMapsLimitConflict(t *testing.T) {
	repo := &stubWishlistRepo{
		putFn: func(_ context.Context, _, _ string, _ time.Time, _ int) (bool, error) {
			return false, stubConflictError{}
		},
	}
	svc := newTestWishlistService(t, repo, nil, nil)

	_, err := svc.AddProduct(context.Background(), WishlistCommand{UserID: "user-1", ProductID: "prod-1"})
	if !errors.Is(err, ErrWishlistLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}
}

func TestWishlistRemoveMissingProductIsNoop(t *testing.T) {
	repo := &stubWishlistRepo{
		deleteFn: func(_ context.Context, _, _ string) error {
			return stubNotFoundError{}
		},
	}
	svc := newTestWishlistService(t, repo, nil, nil)

	if _, err := svc.RemoveProduct(context.Background(), WishlistCommand{UserID: "user-1", ProductID: "prod-1"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestWishlistMoveToCartStacksQuantityAndRemoves(t *testing.T) {
	deleted := false
	repo := &stubWishlistRepo{
		getFn: func(_ context.Context, userID string) (domain.Wishlist, error) {
			return domain.Wishlist{
				UserID: userID,
				Items:  []domain.WishlistItem{{ProductID: "prod-1"}},
			}, nil
		},
		deleteFn: func(_ context.Context, _, productID string) error {
			if productID != "prod-1" {
				return errors.New("unexpected product")
			}
			deleted = true
			return nil
		},
	}
	var added UpsertCartItemCommand
	cart := &stubWishlistCart{
		getFn: func(_ context.Context, userID string) (Cart, error) {
			return Cart{
				UserID: userID,
				Items:  []domain.CartItem{{ProductID: "prod-1", Quantity: 2}},
			}, nil
		},
		addFn: func(_ context.Context, cmd UpsertCartItemCommand) (Cart, error) {
			added = cmd
			return Cart{UserID: cmd.UserID, Items: []domain.CartItem{{ProductID: cmd.ProductID, Quantity: cmd.Quantity}}}, nil
		},
	}
	svc := newTestWishlistService(t, repo, nil, cart)

	result, err := svc.MoveToCart(context.Background(), WishlistCommand{UserID: "user-1", ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if added.Quantity != 3 {
		t.Fatalf("expected quantity stacked to 3, got %d", added.Quantity)
	}
	if !deleted {
		t.Fatalf("expected wishlist entry removed")
	}
	if len(result.Items) != 1 || result.Items[0].Quantity != 3 {
		t.Fatalf("unexpected cart %+v", result)
	}
}

func TestWishlistMoveToCartRequiresSavedProduct(t *testing.T) {
	repo := &stubWishlistRepo{
		getFn: func(_ context.Context, userID string) (domain.Wishlist, error) {
			return domain.Wishlist{UserID: userID}, nil
		},
	}
	svc := newTestWishlistService(t, repo, nil, nil)

	_, err := svc.MoveToCart(context.Background(), WishlistCommand{UserID: "user-1", ProductID: "prod-9"})
	if !errors.Is(err, ErrWishlistNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
