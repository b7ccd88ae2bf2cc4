package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog is required")
	errCartPricerRequired     = errors.New("cart service: pricer is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const maxCartLineQuantity = 99

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or cart item does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartCouponRejected indicates the coupon did not pass eligibility checks.
var ErrCartCouponRejected = errors.New("cart service: coupon rejected")

type productFinder interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

type couponEvaluator interface {
	Evaluate(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error)
}

// CartServiceDeps wires the repository, catalog, coupon, and pricing
// dependencies for cart operations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Products    productFinder
	Coupons     couponEvaluator
	Pricer      *PricingEngine
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type cartService struct {
	repo     repositories.CartRepository
	products productFinder
	coupons  couponEvaluator
	pricer   *PricingEngine
	newID    func() string
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Pricer == nil {
		return nil, errCartPricerRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &cartService{
		repo:     deps.Repository,
		products: deps.Products,
		coupons:  deps.Coupons,
		pricer:   deps.Pricer,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		logger:   logger,
	}
	return service, nil
}

// GetOrCreateCart loads the active cart for the user, creating an empty cart
// when absent. The estimate and any applied coupon are refreshed on every
// read so an expired coupon never lingers in the totals.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.Get(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			saved, err := s.repo.Upsert(ctx, s.newCart(uid))
			if err != nil {
				return Cart{}, translateCartRepoError(err)
			}
			cart = saved
		} else {
			return Cart{}, translateCartRepoError(err)
		}
	}

	cart = s.normaliseCart(cart, uid)
	if err := s.refreshEstimate(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// AddOrUpdateItem sets the quantity for a product line, capturing the unit
// price in effect right now. An existing line for the same product and
// variant is updated in place; its captured price is left alone.
func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product_id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxCartLineQuantity)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: product not found", ErrCartInvalidInput)
		}
		return Cart{}, ErrCartUnavailable
	}
	if product.Status != domain.ProductStatusActive {
		return Cart{}, fmt.Errorf("%w: product is not purchasable", ErrCartInvalidInput)
	}

	now := s.now()
	variantSKU := strings.TrimSpace(cmd.VariantSKU)
	name := product.Name
	price := product.Price
	if variantSKU != "" {
		variant := product.VariantBySKU(variantSKU)
		if variant == nil {
			return Cart{}, fmt.Errorf("%w: unknown variant sku", ErrCartInvalidInput)
		}
		if variant.Name != "" {
			name = fmt.Sprintf("%s (%s)", product.Name, variant.Name)
		}
		if variant.Price != nil {
			price = *variant.Price
		}
	}
	unitPrice := domain.EffectiveUnitPrice(price, now)

	cart, err := s.loadOrNewCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	idx := indexOfCartLine(cart.Items, productID, variantSKU)
	if idx >= 0 {
		cart.Items[idx].Quantity = cmd.Quantity
		ts := now
		cart.Items[idx].UpdatedAt = &ts
	} else {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:         strings.TrimSpace(s.newID()),
			ProductID:  productID,
			VariantSKU: variantSKU,
			Name:       name,
			Quantity:   cmd.Quantity,
			UnitPrice:  unitPrice,
			Currency:   price.Currency,
			AddedAt:    now,
		})
	}
	cart.UpdatedAt = now

	return s.saveAndEstimate(ctx, cart)
}

// RemoveItem drops a line from the cart by item ID.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, translateCartRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)

	idx := -1
	for i, item := range cart.Items {
		if strings.EqualFold(strings.TrimSpace(item.ID), itemID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}

	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	cart.UpdatedAt = s.now()

	return s.saveAndEstimate(ctx, cart)
}

// ApplyCoupon evaluates the code against the current cart and attaches the
// snapshot when eligible. Usage counters do not move here; they move when the
// cart converts to an order.
func (s *cartService) ApplyCoupon(ctx context.Context, cmd ApplyCartCouponCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	if s.coupons == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if userID == "" || code == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, translateCartRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)
	if len(cart.Items) == 0 {
		return Cart{}, fmt.Errorf("%w: cart is empty", ErrCartInvalidInput)
	}

	baseline, err := s.priceItems(cart.Items, nil)
	if err != nil {
		return Cart{}, err
	}

	evaluation, err := s.coupons.Evaluate(ctx, EvaluateCouponCommand{
		Code:     code,
		UserID:   userID,
		Subtotal: baseline.Totals.Subtotal,
		Shipping: baseline.Totals.Shipping,
		Now:      s.now(),
	})
	if err != nil {
		return Cart{}, ErrCartUnavailable
	}
	if !evaluation.Eligible {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartCouponRejected, evaluation.Reason)
	}

	cart.Coupon = &domain.CartCoupon{
		Code:     evaluation.Code,
		Type:     evaluation.Type,
		Value:    evaluation.Value,
		Discount: evaluation.Discount,
		Applied:  true,
	}
	cart.UpdatedAt = s.now()

	return s.saveAndEstimate(ctx, cart)
}

// RemoveCoupon detaches the applied coupon, if any.
func (s *cartService) RemoveCoupon(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.Get(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, translateCartRepoError(err)
	}
	cart = s.normaliseCart(cart, uid)
	cart.Coupon = nil
	cart.UpdatedAt = s.now()

	return s.saveAndEstimate(ctx, cart)
}

// ClearCart removes the cart document entirely. Order conversion calls this
// after the order is persisted.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return ErrCartInvalidInput
	}
	if err := s.repo.Delete(ctx, uid); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return translateCartRepoError(err)
	}
	return nil
}

func (s *cartService) newCart(userID string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.pricer.Currency(),
		Items:     []domain.CartItem{},
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) loadOrNewCart(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(userID), nil
		}
		return domain.Cart{}, translateCartRepoError(err)
	}
	return s.normaliseCart(cart, userID), nil
}

func (s *cartService) normaliseCart(cart domain.Cart, userID string) domain.Cart {
	if cart.ID = strings.TrimSpace(cart.ID); cart.ID == "" {
		cart.ID = userID
	}
	if cart.UserID = strings.TrimSpace(cart.UserID); cart.UserID == "" {
		cart.UserID = userID
	}
	if cart.Currency = strings.ToUpper(strings.TrimSpace(cart.Currency)); cart.Currency == "" {
		cart.Currency = s.pricer.Currency()
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if cart.Metadata == nil {
		cart.Metadata = map[string]any{}
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = s.now()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

// saveAndEstimate recomputes the estimate, persists the cart, and returns the
// stored state with the fresh estimate attached.
func (s *cartService) saveAndEstimate(ctx context.Context, cart domain.Cart) (Cart, error) {
	if err := s.refreshEstimate(ctx, &cart); err != nil {
		return Cart{}, err
	}
	saved, err := s.repo.Upsert(ctx, cart)
	if err != nil {
		return Cart{}, translateCartRepoError(err)
	}
	saved = s.normaliseCart(saved, cart.UserID)
	saved.Estimate = cart.Estimate
	saved.Coupon = cart.Coupon
	return saved, nil
}

// refreshEstimate re-evaluates any applied coupon and recomputes totals. A
// coupon that no longer passes its checks is demoted in place rather than
// silently kept in the totals.
func (s *cartService) refreshEstimate(ctx context.Context, cart *domain.Cart) error {
	if len(cart.Items) == 0 {
		cart.Estimate = &domain.CartEstimate{}
		return nil
	}

	var evaluation *CouponEvaluation
	if cart.Coupon != nil && s.coupons != nil {
		baseline, err := s.priceItems(cart.Items, nil)
		if err != nil {
			return err
		}
		result, err := s.coupons.Evaluate(ctx, EvaluateCouponCommand{
			Code:     cart.Coupon.Code,
			UserID:   cart.UserID,
			Subtotal: baseline.Totals.Subtotal,
			Shipping: baseline.Totals.Shipping,
			Now:      s.now(),
		})
		if err != nil {
			return ErrCartUnavailable
		}
		if result.Eligible {
			evaluation = &result
			cart.Coupon.Discount = result.Discount
			cart.Coupon.Applied = true
		} else {
			s.logger(ctx, "cart.coupon_demoted", map[string]any{
				"userID": cart.UserID,
				"code":   cart.Coupon.Code,
				"reason": result.Reason,
			})
			cart.Coupon.Discount = 0
			cart.Coupon.Applied = false
		}
	}

	result, err := s.priceItems(cart.Items, evaluation)
	if err != nil {
		return err
	}
	estimate := estimateFromTotals(result.Totals)
	cart.Estimate = &estimate
	return nil
}

func (s *cartService) priceItems(items []domain.CartItem, coupon *CouponEvaluation) (PriceOrderResult, error) {
	lines := make([]OrderItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderItem{
			ProductID:  item.ProductID,
			VariantSKU: item.VariantSKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}
	result, err := s.pricer.Price(PriceOrderCommand{Items: lines, Coupon: coupon})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return PriceOrderResult{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		}
		return PriceOrderResult{}, ErrCartUnavailable
	}
	return result, nil
}

func indexOfCartLine(items []domain.CartItem, productID, variantSKU string) int {
	for i, item := range items {
		if !strings.EqualFold(strings.TrimSpace(item.ProductID), productID) {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(item.VariantSKU), variantSKU) {
			continue
		}
		return i
	}
	return -1
}

func translateCartRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrCartNotFound
		}
	}
	return ErrCartUnavailable
}
