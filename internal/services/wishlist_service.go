package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

const defaultWishlistLimit = 100

var (
	// ErrWishlistInvalidInput indicates validation failures for wishlist operations.
	ErrWishlistInvalidInput = errors.New("wishlist: invalid input")
	// ErrWishlistNotFound indicates the product is not on the wishlist.
	ErrWishlistNotFound = errors.New("wishlist: not found")
	// ErrWishlistLimitExceeded indicates the wishlist is full.
	ErrWishlistLimitExceeded = errors.New("wishlist: item limit exceeded")
)

// wishlistCartMover is the slice of CartService needed to move a saved product
// into the cart.
type wishlistCartMover interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
}

// WishlistServiceDeps bundles collaborators required to construct a WishlistService.
type WishlistServiceDeps struct {
	Repository repositories.WishlistRepository
	Products   productFinder
	Cart       wishlistCartMover
	Clock      func() time.Time
	Limit      int
	Logger     func(context.Context, string, map[string]any)
}

type wishlistService struct {
	repo     repositories.WishlistRepository
	products productFinder
	cart     wishlistCartMover
	now      func() time.Time
	limit    int
	logger   func(context.Context, string, map[string]any)
}

// NewWishlistService wires dependencies into a concrete WishlistService implementation.
func NewWishlistService(deps WishlistServiceDeps) (WishlistService, error) {
	if deps.Repository == nil {
		return nil, errors.New("wishlist service: repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("wishlist service: catalog is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("wishlist service: cart is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	limit := deps.Limit
	if limit <= 0 {
		limit = defaultWishlistLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &wishlistService{
		repo:     deps.Repository,
		products: deps.Products,
		cart:     deps.Cart,
		now:      func() time.Time { return clock().UTC() },
		limit:    limit,
		logger:   logger,
	}, nil
}

// GetWishlist returns the user's wishlist, empty when none has been stored yet.
func (s *wishlistService) GetWishlist(ctx context.Context, userID string) (Wishlist, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Wishlist{}, fmt.Errorf("%w: user id is required", ErrWishlistInvalidInput)
	}

	wishlist, err := s.repo.Get(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Wishlist{UserID: uid}, nil
		}
		return Wishlist{}, err
	}
	return wishlist, nil
}

// AddProduct saves a product reference. Adding a product that is already saved
// is a no-op.
func (s *wishlistService) AddProduct(ctx context.Context, cmd WishlistCommand) (Wishlist, error) {
	uid, productID, err := wishlistCommandIDs(cmd)
	if err != nil {
		return Wishlist{}, err
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Wishlist{}, fmt.Errorf("%w: product not found", ErrWishlistInvalidInput)
		}
		return Wishlist{}, err
	}
	if product.Status == domain.ProductStatusArchived {
		return Wishlist{}, fmt.Errorf("%w: product is archived", ErrWishlistInvalidInput)
	}

	added, err := s.repo.Put(ctx, uid, productID, s.now(), s.limit)
	if err != nil {
		if isRepoConflict(err) {
			return Wishlist{}, fmt.Errorf("%w: at most %d items", ErrWishlistLimitExceeded, s.limit)
		}
		return Wishlist{}, err
	}
	if added {
		s.logger(ctx, "wishlist.product_added", map[string]any{
			"userId":    uid,
			"productId": productID,
		})
	}

	return s.GetWishlist(ctx, uid)
}

// RemoveProduct drops a saved product. Removing a product that is not saved is
// a no-op.
func (s *wishlistService) RemoveProduct(ctx context.Context, cmd WishlistCommand) (Wishlist, error) {
	uid, productID, err := wishlistCommandIDs(cmd)
	if err != nil {
		return Wishlist{}, err
	}

	if err := s.repo.Delete(ctx, uid, productID); err != nil && !isRepoNotFound(err) {
		return Wishlist{}, err
	}
	return s.GetWishlist(ctx, uid)
}

// MoveToCart adds one unit of a saved product to the cart and removes it from
// the wishlist. The product must currently be on the wishlist.
func (s *wishlistService) MoveToCart(ctx context.Context, cmd WishlistCommand) (Cart, error) {
	uid, productID, err := wishlistCommandIDs(cmd)
	if err != nil {
		return Cart{}, err
	}

	wishlist, err := s.GetWishlist(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !wishlistContains(wishlist, productID) {
		return Cart{}, fmt.Errorf("%w: product is not on the wishlist", ErrWishlistNotFound)
	}

	// Cart quantities are set, not incremented, so stack the moved unit on top
	// of whatever is already in the cart.
	quantity := 1
	cart, err := s.cart.GetOrCreateCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	for _, item := range cart.Items {
		if item.ProductID == productID && item.VariantSKU == "" {
			quantity = item.Quantity + 1
			break
		}
	}

	cart, err = s.cart.AddOrUpdateItem(ctx, UpsertCartItemCommand{
		UserID:    uid,
		ProductID: productID,
		Quantity:  quantity,
	})
	if err != nil {
		return Cart{}, err
	}

	if err := s.repo.Delete(ctx, uid, productID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "wishlist.move_cleanup_failed", map[string]any{
			"userId":    uid,
			"productId": productID,
			"error":     err.Error(),
		})
	}
	return cart, nil
}

func wishlistCommandIDs(cmd WishlistCommand) (string, string, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return "", "", fmt.Errorf("%w: user id is required", ErrWishlistInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return "", "", fmt.Errorf("%w: product id is required", ErrWishlistInvalidInput)
	}
	return uid, productID, nil
}

func wishlistContains(wishlist Wishlist, productID string) bool {
	for _, item := range wishlist.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}
