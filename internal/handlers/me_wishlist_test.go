package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/services"
)

type stubWishlistService struct {
	getWishlistFunc   func(ctx context.Context, userID string) (services.Wishlist, error)
	addProductFunc    func(ctx context.Context, cmd services.WishlistCommand) (services.Wishlist, error)
	removeProductFunc func(ctx context.Context, cmd services.WishlistCommand) (services.Wishlist, error)
	moveToCartFunc    func(ctx context.Context, cmd services.WishlistCommand) (services.Cart, error)
}

func (s *stubWishlistService) GetWishlist(ctx context.Context, userID string) (services.Wishlist, error) {
	if s.getWishlistFunc == nil {
		return services.Wishlist{}, fmt.Errorf("unexpected GetWishlist call")
	}
	return s.getWishlistFunc(ctx, userID)
}

func (s *stubWishlistService) AddProduct(ctx context.Context, cmd services.WishlistCommand) (services.Wishlist, error) {
	if s.addProductFunc == nil {
		return services.Wishlist{}, fmt.Errorf("unexpected AddProduct call")
	}
	return s.addProductFunc(ctx, cmd)
}

func (s *stubWishlistService) RemoveProduct(ctx context.Context, cmd services.WishlistCommand) (services.Wishlist, error) {
	if s.removeProductFunc == nil {
		return services.Wishlist{}, fmt.Errorf("unexpected RemoveProduct call")
	}
	return s.removeProductFunc(ctx, cmd)
}

func (s *stubWishlistService) MoveToCart(ctx context.Context, cmd services.WishlistCommand) (services.Cart, error) {
	if s.moveToCartFunc == nil {
		return services.Cart{}, fmt.Errorf("unexpected MoveToCart call")
	}
	return s.moveToCartFunc(ctx, cmd)
}

var _ services.WishlistService = (*stubWishlistService)(nil)

func TestMeHandlersGetWishlist(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	wishlists := &stubWishlistService{
		getWishlistFunc: func(ctx context.Context, userID string) (services.Wishlist, error) {
			if userID != "user-7" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return services.Wishlist{
				UserID: "user-7",
				Items: []services.WishlistItem{
					{ProductID: "prod-1", AddedAt: now},
					{ProductID: "prod-2", AddedAt: now},
				},
				UpdatedAt: now,
			}, nil
		},
	}

	router := newMeRouter(nil, wishlists)
	req := httptest.NewRequest(http.MethodGet, "/me/wishlist", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp wishlistResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if len(resp.Wishlist.Items) != 2 || resp.Wishlist.Items[0].ProductID != "prod-1" {
		t.Fatalf("unexpected wishlist %#v", resp.Wishlist)
	}
}

func TestMeHandlersAddWishlistProduct(t *testing.T) {
	wishlists := &stubWishlistService{
		addProductFunc: func(ctx context.Context, cmd services.WishlistCommand) (services.Wishlist, error) {
			if cmd.UserID != "user-7" || cmd.ProductID != "prod-3" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.Wishlist{
				UserID: "user-7",
				Items:  []services.WishlistItem{{ProductID: "prod-3"}},
			}, nil
		},
	}

	router := newMeRouter(nil, wishlists)
	req := httptest.NewRequest(http.MethodPut, "/me/wishlist/prod-3", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMeHandlersAddWishlistProductLimitExceeded(t *testing.T) {
	wishlists := &stubWishlistService{
		addProductFunc: func(ctx context.Context, cmd services.WishlistCommand) (services.Wishlist, error) {
			return services.Wishlist{}, fmt.Errorf("%w: 100 items max", services.ErrWishlistLimitExceeded)
		},
	}

	router := newMeRouter(nil, wishlists)
	req := httptest.NewRequest(http.MethodPut, "/me/wishlist/prod-3", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	envelope := decodeErrorEnvelope(t, rr.Body.Bytes())
	if envelope.Error != "wishlist_limit_exceeded" {
		t.Fatalf("expected wishlist_limit_exceeded code, got %q", envelope.Error)
	}
}

func TestMeHandlersMoveWishlistProductToCart(t *testing.T) {
	wishlists := &stubWishlistService{
		moveToCartFunc: func(ctx context.Context, cmd services.WishlistCommand) (services.Cart, error) {
			if cmd.ProductID != "prod-2" {
				t.Fatalf("unexpected product id %q", cmd.ProductID)
			}
			return services.Cart{
				ID:       "cart-1",
				UserID:   "user-7",
				Currency: "USD",
				Items: []services.CartItem{
					{ID: "item-1", ProductID: "prod-2", Quantity: 1, UnitPrice: 2500, Currency: "USD"},
				},
			}, nil
		},
	}

	router := newMeRouter(nil, wishlists)
	req := httptest.NewRequest(http.MethodPost, "/me/wishlist/prod-2/move-to-cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].ProductID != "prod-2" {
		t.Fatalf("unexpected cart %#v", resp.Cart)
	}
}

func TestMeHandlersRemoveWishlistProductMissing(t *testing.T) {
	wishlists := &stubWishlistService{
		removeProductFunc: func(ctx context.Context, cmd services.WishlistCommand) (services.Wishlist, error) {
			return services.Wishlist{}, fmt.Errorf("%w: prod-9", services.ErrWishlistNotFound)
		},
	}

	router := newMeRouter(nil, wishlists)
	req := httptest.NewRequest(http.MethodDelete, "/me/wishlist/prod-9", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
