package domain

import "time"

// ApplyRate multiplies an amount by a basis-point rate, rounding half-up to
// the nearest minor unit. Rounding happens only here, at the point a rate is
// applied; sums of already-rounded amounts are exact and need no further
// rounding.
func ApplyRate(amount int64, basisPoints int64) int64 {
	if amount == 0 || basisPoints == 0 {
		return 0
	}
	product := amount * basisPoints
	if product >= 0 {
		return (product + 5000) / 10000
	}
	return -(((-product) + 5000) / 10000)
}

// ApplyPercent multiplies an amount by a whole percentage, rounding half-up.
func ApplyPercent(amount int64, percent int64) int64 {
	return ApplyRate(amount, percent*100)
}

// EffectiveUnitPrice resolves the price a buyer pays for one unit at the
// given instant, applying an active sale to the base amount. The result is
// never negative.
func EffectiveUnitPrice(price Price, now time.Time) int64 {
	amount := price.Amount
	sale := price.Sale
	if !sale.ActiveAt(now) {
		return amount
	}
	switch sale.Type {
	case SaleTypePercentage:
		amount -= ApplyPercent(amount, sale.Value)
	case SaleTypeFixed:
		amount -= sale.Value
	}
	if amount < 0 {
		return 0
	}
	return amount
}

// GrandTotal derives the payable total from the other fields, floored at zero.
func (t OrderTotals) GrandTotal() int64 {
	total := t.Subtotal + t.Shipping + t.Tax - t.Discount
	if total < 0 {
		return 0
	}
	return total
}
