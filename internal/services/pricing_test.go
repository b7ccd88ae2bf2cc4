package services

import (
	"testing"

	domain "github.com/maplecart/api/internal/domain"
)

func newTestPricingEngine(t *testing.T, cfg PricingConfig) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(cfg)
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}
	return engine
}

func TestPricingSaleUnitPriceWithFreeShipping(t *testing.T) {
	engine := newTestPricingEngine(t, PricingConfig{
		Currency:              "USD",
		TaxRateBps:            800,
		FreeShippingThreshold: 5000,
		FlatShippingFee:       500,
	})

	// Base price 100.00 with an active 20% sale prices the unit at 80.00;
	// two units subtotal 160.00, tax 8% = 12.80, free shipping over 50.00.
	result, err := engine.Price(PriceOrderCommand{
		Items: []OrderItem{
			{ProductID: "prod-1", Quantity: 2, UnitPrice: 8000, OriginalPrice: 10000},
		},
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	if result.Totals.Subtotal != 16000 {
		t.Fatalf("expected subtotal 16000, got %d", result.Totals.Subtotal)
	}
	if result.Totals.Tax != 1280 {
		t.Fatalf("expected tax 1280, got %d", result.Totals.Tax)
	}
	if result.Totals.Shipping != 0 {
		t.Fatalf("expected free shipping, got %d", result.Totals.Shipping)
	}
	if result.Totals.Total != 17280 {
		t.Fatalf("expected grand total 17280, got %d", result.Totals.Total)
	}
}

func TestPricingFlatShippingBelowThreshold(t *testing.T) {
	engine := newTestPricingEngine(t, PricingConfig{
		Currency:              "USD",
		TaxRateBps:            0,
		FreeShippingThreshold: 5000,
		FlatShippingFee:       500,
	})

	result, err := engine.Price(PriceOrderCommand{
		Items: []OrderItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 3000}},
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if result.Totals.Shipping != 500 {
		t.Fatalf("expected flat shipping 500, got %d", result.Totals.Shipping)
	}
	if result.Totals.Total != 3500 {
		t.Fatalf("expected total 3500, got %d", result.Totals.Total)
	}
}

func TestPricingShippingCouponFloorsAtZero(t *testing.T) {
	engine := newTestPricingEngine(t, PricingConfig{
		Currency:              "USD",
		TaxRateBps:            0,
		FreeShippingThreshold: 10000,
		FlatShippingFee:       500,
	})

	result, err := engine.Price(PriceOrderCommand{
		Items: []OrderItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 3000}},
		Coupon: &CouponEvaluation{
			Code:     "FREESHIP",
			Type:     domain.CouponTypeShipping,
			Target:   domain.DiscountTargetShipping,
			Discount: 900,
			Eligible: true,
		},
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if result.Totals.Shipping != 0 {
		t.Fatalf("expected shipping floored at 0, got %d", result.Totals.Shipping)
	}
	// The shipping coupon reduces shipping rather than the discount column.
	if result.Totals.Discount != 0 {
		t.Fatalf("expected zero subtotal discount, got %d", result.Totals.Discount)
	}
	if result.Totals.Total != 3000 {
		t.Fatalf("expected total 3000, got %d", result.Totals.Total)
	}
}

func TestPricingGrandTotalIdentityAndAllocation(t *testing.T) {
	engine := newTestPricingEngine(t, PricingConfig{
		Currency:              "USD",
		TaxRateBps:            1000,
		FreeShippingThreshold: 100000,
		FlatShippingFee:       700,
	})

	result, err := engine.Price(PriceOrderCommand{
		Items: []OrderItem{
			{ProductID: "prod-1", Quantity: 3, UnitPrice: 1999},
			{ProductID: "prod-2", Quantity: 1, UnitPrice: 4350},
		},
		Coupon: &CouponEvaluation{
			Code:     "TEN",
			Type:     domain.CouponTypePercentage,
			Target:   domain.DiscountTargetSubtotal,
			Discount: 1035,
			Eligible: true,
		},
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	totals := result.Totals
	want := totals.Subtotal + totals.Shipping + totals.Tax - totals.Discount
	if totals.Total != want {
		t.Fatalf("grand total identity broken: total %d, derived %d", totals.Total, want)
	}

	var allocatedDiscount, allocatedTax int64
	for _, item := range result.Items {
		allocatedDiscount += item.Discount
		allocatedTax += item.Tax
	}
	if allocatedDiscount != totals.Discount {
		t.Fatalf("item discounts %d do not sum to totals discount %d", allocatedDiscount, totals.Discount)
	}
	if allocatedTax != totals.Tax {
		t.Fatalf("item taxes %d do not sum to totals tax %d", allocatedTax, totals.Tax)
	}
}

func TestPricingRejectsBadInput(t *testing.T) {
	engine := newTestPricingEngine(t, PricingConfig{Currency: "USD"})

	if _, err := engine.Price(PriceOrderCommand{}); err == nil {
		t.Fatalf("expected error for empty items")
	}
	if _, err := engine.Price(PriceOrderCommand{
		Items: []OrderItem{{ProductID: "p", Quantity: 0, UnitPrice: 100}},
	}); err == nil {
		t.Fatalf("expected error for zero quantity")
	}
	if _, err := engine.Price(PriceOrderCommand{
		Items: []OrderItem{{ProductID: "p", Quantity: 1, UnitPrice: -1}},
	}); err == nil {
		t.Fatalf("expected error for negative unit price")
	}
}
