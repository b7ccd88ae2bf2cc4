package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

type stubCartRepo struct {
	upsertFn func(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	getFn    func(ctx context.Context, userID string) (domain.Cart, error)
	deleteFn func(ctx context.Context, userID string) error
}

func (s *stubCartRepo) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cart)
	}
	return cart, nil
}

func (s *stubCartRepo) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Cart{}, stubNotFoundError{}
}

func (s *stubCartRepo) Delete(ctx context.Context, userID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID)
	}
	return nil
}

type stubProductFinder struct {
	findFn func(ctx context.Context, productID string) (domain.Product, error)
}

func (s *stubProductFinder) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, stubNotFoundError{}
}

type stubCouponEvaluator struct {
	evaluateFn func(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error)
}

func (s *stubCouponEvaluator) Evaluate(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error) {
	if s.evaluateFn != nil {
		return s.evaluateFn(ctx, cmd)
	}
	return CouponEvaluation{Code: cmd.Code, Eligible: false, Reason: CouponReasonNotFound}, nil
}

var cartTestNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCartService(t *testing.T, repo repositories.CartRepository, products productFinder, coupons couponEvaluator) CartService {
	t.Helper()
	pricer, err := NewPricingEngine(PricingConfig{
		Currency:              "USD",
		TaxRateBps:            800,
		FreeShippingThreshold: 5000,
		FlatShippingFee:       500,
	})
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}
	svc, err := NewCartService(CartServiceDeps{
		Repository:  repo,
		Products:    products,
		Coupons:     coupons,
		Pricer:      pricer,
		Clock:       func() time.Time { return cartTestNow },
		IDGenerator: func() string { return "item-1" },
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func activeTestProduct() domain.Product {
	return domain.Product{
		ID:     "prod-1",
		Name:   "Canvas Tote",
		Status: domain.ProductStatusActive,
		Price:  domain.Price{Amount: 10000, Currency: "USD"},
		Variants: []domain.Variant{
			{SKU: "SKU-1-L", Name: "Large", Price: &domain.Price{Amount: 12000, Currency: "USD"}},
		},
	}
}

func TestCartGetOrCreateReturnsEmptyCart(t *testing.T) {
	var upserted *domain.Cart
	repo := &stubCartRepo{
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			upserted = &cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, repo, &stubProductFinder{}, nil)

	cart, err := svc.GetOrCreateCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if upserted == nil {
		t.Fatalf("expected new cart to be persisted")
	}
	if cart.UserID != "user-1" || cart.Currency != "USD" {
		t.Fatalf("unexpected cart %+v", cart)
	}
	if cart.Estimate == nil || cart.Estimate.Total != 0 {
		t.Fatalf("expected zero estimate for empty cart, got %+v", cart.Estimate)
	}
}

func TestCartAddItemCapturesSalePrice(t *testing.T) {
	product := activeTestProduct()
	sale := domain.Sale{Type: domain.SaleTypePercentage, Value: 20}
	product.Price.Sale = &sale

	repo := &stubCartRepo{}
	svc := newTestCartService(t, repo, &stubProductFinder{
		findFn: func(_ context.Context, _ string) (domain.Product, error) {
			return product, nil
		},
	}, nil)

	cart, err := svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(cart.Items))
	}
	item := cart.Items[0]
	// 20% off 100.00 captures 80.00 per unit.
	if item.UnitPrice != 8000 {
		t.Fatalf("expected captured unit price 8000, got %d", item.UnitPrice)
	}
	if cart.Estimate == nil {
		t.Fatalf("expected estimate")
	}
	// 2 x 80.00 = 160.00 subtotal, 8% tax 12.80, free shipping over 50.00.
	if cart.Estimate.Total != 17280 {
		t.Fatalf("expected estimate total 17280, got %d", cart.Estimate.Total)
	}
}

func TestCartAddItemResolvesVariantPrice(t *testing.T) {
	repo := &stubCartRepo{}
	svc := newTestCartService(t, repo, &stubProductFinder{
		findFn: func(_ context.Context, _ string) (domain.Product, error) {
			return activeTestProduct(), nil
		},
	}, nil)

	cart, err := svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:     "user-1",
		ProductID:  "prod-1",
		VariantSKU: "SKU-1-L",
		Quantity:   1,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	item := cart.Items[0]
	if item.UnitPrice != 12000 {
		t.Fatalf("expected variant price 12000, got %d", item.UnitPrice)
	}
	if item.Name != "Canvas Tote (Large)" {
		t.Fatalf("unexpected item name %q", item.Name)
	}

	_, err = svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:     "user-1",
		ProductID:  "prod-1",
		VariantSKU: "SKU-MISSING",
		Quantity:   1,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for unknown variant, got %v", err)
	}
}

func TestCartAddItemUpdatesExistingLineKeepingPrice(t *testing.T) {
	existing := domain.Cart{
		ID:       "user-1",
		UserID:   "user-1",
		Currency: "USD",
		Items: []domain.CartItem{
			{ID: "line-1", ProductID: "prod-1", Name: "Canvas Tote", Quantity: 1, UnitPrice: 9000, Currency: "USD", AddedAt: cartTestNow},
		},
		CreatedAt: cartTestNow,
		UpdatedAt: cartTestNow,
	}
	repo := &stubCartRepo{
		getFn: func(_ context.Context, _ string) (domain.Cart, error) {
			return existing, nil
		},
	}
	svc := newTestCartService(t, repo, &stubProductFinder{
		findFn: func(_ context.Context, _ string) (domain.Product, error) {
			return activeTestProduct(), nil
		},
	}, nil)

	cart, err := svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  3,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected merged line, got %d items", len(cart.Items))
	}
	if cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity set to 3, got %d", cart.Items[0].Quantity)
	}
	// The captured price survives the quantity update.
	if cart.Items[0].UnitPrice != 9000 {
		t.Fatalf("expected captured price 9000, got %d", cart.Items[0].UnitPrice)
	}
}

func TestCartAddItemRejectsInactiveProduct(t *testing.T) {
	product := activeTestProduct()
	product.Status = domain.ProductStatusArchived

	svc := newTestCartService(t, &stubCartRepo{}, &stubProductFinder{
		findFn: func(_ context.Context, _ string) (domain.Product, error) {
			return product, nil
		},
	}, nil)

	_, err := svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  1,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for archived product, got %v", err)
	}
}

func TestCartRemoveItem(t *testing.T) {
	repo := &stubCartRepo{
		getFn: func(_ context.Context, _ string) (domain.Cart, error) {
			return domain.Cart{
				ID:       "user-1",
				UserID:   "user-1",
				Currency: "USD",
				Items: []domain.CartItem{
					{ID: "line-1", ProductID: "prod-1", Quantity: 1, UnitPrice: 3000},
					{ID: "line-2", ProductID: "prod-2", Quantity: 2, UnitPrice: 1000},
				},
			}, nil
		},
	}
	svc := newTestCartService(t, repo, &stubProductFinder{}, nil)

	cart, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user-1", ItemID: "line-1"})
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ID != "line-2" {
		t.Fatalf("unexpected items %+v", cart.Items)
	}

	if _, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user-1", ItemID: "line-9"}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found for unknown line, got %v", err)
	}
}

func TestCartApplyCouponAttachesSnapshot(t *testing.T) {
	repo := &stubCartRepo{
		getFn: func(_ context.Context, _ string) (domain.Cart, error) {
			return domain.Cart{
				ID:       "user-1",
				UserID:   "user-1",
				Currency: "USD",
				Items: []domain.CartItem{
					{ID: "line-1", ProductID: "prod-1", Quantity: 2, UnitPrice: 8000},
				},
			}, nil
		},
	}
	coupons := &stubCouponEvaluator{
		evaluateFn: func(_ context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error) {
			if cmd.Code != "TEN" {
				return CouponEvaluation{}, errors.New("unexpected code")
			}
			if cmd.Subtotal != 16000 {
				return CouponEvaluation{}, errors.New("unexpected subtotal")
			}
			return CouponEvaluation{
				Code:     "TEN",
				Type:     domain.CouponTypePercentage,
				Value:    10,
				Target:   domain.DiscountTargetSubtotal,
				Discount: 1600,
				Eligible: true,
			}, nil
		},
	}
	svc := newTestCartService(t, repo, &stubProductFinder{}, coupons)

	cart, err := svc.ApplyCoupon(context.Background(), ApplyCartCouponCommand{UserID: "user-1", Code: " ten "})
	if err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
	if cart.Coupon == nil || !cart.Coupon.Applied {
		t.Fatalf("expected applied coupon, got %+v", cart.Coupon)
	}
	if cart.Coupon.Discount != 1600 {
		t.Fatalf("expected discount 1600, got %d", cart.Coupon.Discount)
	}
	if cart.Estimate == nil {
		t.Fatalf("expected estimate")
	}
	// 160.00 - 16.00 discount + 12.80 tax, free shipping.
	if cart.Estimate.Total != 15680 {
		t.Fatalf("expected total 15680, got %d", cart.Estimate.Total)
	}
}

func TestCartApplyCouponRejectsIneligible(t *testing.T) {
	repo := &stubCartRepo{
		getFn: func(_ context.Context, _ string) (domain.Cart, error) {
			return domain.Cart{
				ID:       "user-1",
				UserID:   "user-1",
				Currency: "USD",
				Items:    []domain.CartItem{{ID: "line-1", ProductID: "prod-1", Quantity: 1, UnitPrice: 3000}},
			}, nil
		},
	}
	coupons := &stubCouponEvaluator{
		evaluateFn: func(_ context.Context, _ EvaluateCouponCommand) (CouponEvaluation, error) {
			return CouponEvaluation{Eligible: false, Reason: CouponReasonExpired}, nil
		},
	}
	svc := newTestCartService(t, repo, &stubProductFinder{}, coupons)

	_, err := svc.ApplyCoupon(context.Background(), ApplyCartCouponCommand{UserID: "user-1", Code: "OLD"})
	if !errors.Is(err, ErrCartCouponRejected) {
		t.Fatalf("expected coupon rejection, got %v", err)
	}
}

func TestCartEstimateDemotesExpiredCoupon(t *testing.T) {
	repo := &stubCartRepo{
		getFn: func(_ context.Context, _ string) (domain.Cart, error) {
			return domain.Cart{
				ID:       "user-1",
				UserID:   "user-1",
				Currency: "USD",
				Items:    []domain.CartItem{{ID: "line-1", ProductID: "prod-1", Quantity: 1, UnitPrice: 6000}},
				Coupon: &domain.CartCoupon{
					Code:     "OLD",
					Type:     domain.CouponTypeFixed,
					Value:    1000,
					Discount: 1000,
					Applied:  true,
				},
			}, nil
		},
	}
	coupons := &stubCouponEvaluator{
		evaluateFn: func(_ context.Context, _ EvaluateCouponCommand) (CouponEvaluation, error) {
			return CouponEvaluation{Code: "OLD", Eligible: false, Reason: CouponReasonExpired}, nil
		},
	}
	svc := newTestCartService(t, repo, &stubProductFinder{}, coupons)

	cart, err := svc.GetOrCreateCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if cart.Coupon == nil || cart.Coupon.Applied {
		t.Fatalf("expected demoted coupon, got %+v", cart.Coupon)
	}
	// 60.00 + 4.80 tax, free shipping, no discount.
	if cart.Estimate == nil || cart.Estimate.Total != 6480 {
		t.Fatalf("expected total 6480 without the coupon, got %+v", cart.Estimate)
	}
}

func TestCartClearIsIdempotent(t *testing.T) {
	repo := &stubCartRepo{
		deleteFn: func(_ context.Context, _ string) error {
			return stubNotFoundError{}
		},
	}
	svc := newTestCartService(t, repo, &stubProductFinder{}, nil)

	if err := svc.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("expected clear of missing cart to succeed, got %v", err)
	}
}
