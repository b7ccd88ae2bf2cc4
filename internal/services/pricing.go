package services

import (
	"errors"
	"fmt"
	"math"
	"sort"

	domain "github.com/maplecart/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad request data such as non-positive quantities or negative prices.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingNotConfigured indicates the engine was constructed without a usable config.
	ErrPricingNotConfigured = errors.New("pricing: engine not configured")
)

// PricingConfig carries the flat storefront pricing policy. Amounts are minor
// currency units; the tax rate is in basis points.
type PricingConfig struct {
	Currency              string
	TaxRateBps            int64
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// PricingEngine turns line items plus an optional coupon evaluation into
// order totals. It is a pure calculator: no repositories, no clock.
type PricingEngine struct {
	cfg PricingConfig
}

// NewPricingEngine validates the policy and returns the calculator.
func NewPricingEngine(cfg PricingConfig) (*PricingEngine, error) {
	if cfg.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrPricingNotConfigured)
	}
	if cfg.TaxRateBps < 0 || cfg.TaxRateBps > 10000 {
		return nil, fmt.Errorf("%w: tax rate must be within [0,10000] bps", ErrPricingNotConfigured)
	}
	if cfg.FreeShippingThreshold < 0 || cfg.FlatShippingFee < 0 {
		return nil, fmt.Errorf("%w: shipping policy cannot be negative", ErrPricingNotConfigured)
	}
	return &PricingEngine{cfg: cfg}, nil
}

// Currency reports the configured storefront currency.
func (e *PricingEngine) Currency() string {
	return e.cfg.Currency
}

// PriceOrderCommand carries the snapshot lines to price. UnitPrice must
// already reflect any active sale.
type PriceOrderCommand struct {
	Items  []OrderItem
	Coupon *CouponEvaluation
}

// PriceOrderResult returns the priced lines with allocated discount and tax
// plus the rolled-up totals.
type PriceOrderResult struct {
	Items  []OrderItem
	Totals OrderTotals
}

// Price computes subtotal, discount, shipping, and tax per the storefront
// policy. Tax applies to the item subtotal; rounding happens once, where the
// rate is applied. The coupon is trusted to be pre-evaluated: an ineligible
// evaluation contributes nothing.
func (e *PricingEngine) Price(cmd PriceOrderCommand) (PriceOrderResult, error) {
	if e == nil {
		return PriceOrderResult{}, ErrPricingNotConfigured
	}
	if len(cmd.Items) == 0 {
		return PriceOrderResult{}, fmt.Errorf("%w: at least one item is required", ErrPricingInvalidInput)
	}

	items := make([]OrderItem, len(cmd.Items))
	copy(items, cmd.Items)

	var subtotal int64
	weights := make([]int64, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return PriceOrderResult{}, fmt.Errorf("%w: item %s quantity must be positive", ErrPricingInvalidInput, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return PriceOrderResult{}, fmt.Errorf("%w: item %s unit price cannot be negative", ErrPricingInvalidInput, item.ProductID)
		}
		quantity := int64(item.Quantity)
		if item.UnitPrice > 0 && item.UnitPrice > math.MaxInt64/quantity {
			return PriceOrderResult{}, fmt.Errorf("%w: item %s subtotal overflow", ErrPricingInvalidInput, item.ProductID)
		}
		lineSubtotal := item.UnitPrice * quantity
		if subtotal > math.MaxInt64-lineSubtotal {
			return PriceOrderResult{}, fmt.Errorf("%w: subtotal overflow", ErrPricingInvalidInput)
		}
		subtotal += lineSubtotal
		weights[i] = lineSubtotal
	}

	var itemDiscount, shippingDiscount int64
	if cmd.Coupon != nil && cmd.Coupon.Eligible {
		switch cmd.Coupon.Target {
		case domain.DiscountTargetShipping:
			shippingDiscount = cmd.Coupon.Discount
		default:
			itemDiscount = cmd.Coupon.Discount
		}
	}
	if itemDiscount > subtotal {
		itemDiscount = subtotal
	}

	shipping := int64(0)
	if subtotal < e.cfg.FreeShippingThreshold {
		shipping = e.cfg.FlatShippingFee
	}
	shipping -= shippingDiscount
	if shipping < 0 {
		shipping = 0
	}

	tax := domain.ApplyRate(subtotal, e.cfg.TaxRateBps)

	discountAlloc := allocateByWeight(itemDiscount, weights)
	taxAlloc := allocateByWeight(tax, weights)
	for i := range items {
		items[i].Discount = discountAlloc[i]
		items[i].Tax = taxAlloc[i]
		total := weights[i] - discountAlloc[i] + taxAlloc[i]
		if total < 0 {
			total = 0
		}
		items[i].Total = total
	}

	// A shipping coupon shows up as reduced shipping, not in the discount
	// column, so the grand total identity holds on the stored totals.
	totals := OrderTotals{
		Subtotal: subtotal,
		Discount: itemDiscount,
		Shipping: shipping,
		Tax:      tax,
	}
	totals.Total = totals.GrandTotal()

	return PriceOrderResult{Items: items, Totals: totals}, nil
}

// estimateFromTotals maps priced totals onto the cart estimate shape.
func estimateFromTotals(t OrderTotals) CartEstimate {
	return CartEstimate{
		Subtotal: t.Subtotal,
		Discount: t.Discount,
		Shipping: t.Shipping,
		Tax:      t.Tax,
		Total:    t.Total,
	}
}

// allocateByWeight splits an amount across positions proportionally to their
// weights, assigning leftover minor units to the largest remainders first so
// the parts always sum to the whole.
func allocateByWeight(amount int64, weights []int64) []int64 {
	if len(weights) == 0 {
		return nil
	}
	allocations := make([]int64, len(weights))
	if amount == 0 {
		return allocations
	}
	totalWeight := int64(0)
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		// distribute evenly if all zero
		base := amount / int64(len(weights))
		remainder := amount % int64(len(weights))
		for i := range weights {
			allocations[i] = base
			if remainder > 0 {
				allocations[i]++
				remainder--
			}
		}
		return allocations
	}

	remainderPairs := make([]struct {
		idx       int
		remainder int64
	}, len(weights))

	distributed := int64(0)
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		share := (amount * w) / totalWeight
		allocations[i] = share
		distributed += share
		remainderPairs[i] = struct {
			idx       int
			remainder int64
		}{idx: i, remainder: (amount * w) % totalWeight}
	}

	remainder := amount - distributed
	if remainder <= 0 {
		return allocations
	}

	sort.SliceStable(remainderPairs, func(i, j int) bool {
		if remainderPairs[i].remainder == remainderPairs[j].remainder {
			return remainderPairs[i].idx < remainderPairs[j].idx
		}
		return remainderPairs[i].remainder > remainderPairs[j].remainder
	})

	for _, entry := range remainderPairs {
		if remainder == 0 {
			break
		}
		allocations[entry.idx]++
		remainder--
	}

	return allocations
}
