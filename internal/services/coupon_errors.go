package services

import "errors"

var (
	// ErrCouponRepositoryMissing indicates the coupon repository dependency is absent.
	ErrCouponRepositoryMissing = errors.New("coupon service: repository is not configured")
	// ErrCouponInvalidCode signals the supplied coupon code is missing or malformed.
	ErrCouponInvalidCode = errors.New("coupon service: invalid coupon code")
	// ErrCouponNotFound indicates no coupon exists for the provided code.
	ErrCouponNotFound = errors.New("coupon service: coupon not found")
	// ErrCouponExists indicates a coupon with the same code already exists.
	ErrCouponExists = errors.New("coupon service: coupon already exists")
	// ErrCouponInvalidInput signals bad coupon fields on create or update.
	ErrCouponInvalidInput = errors.New("coupon service: invalid input")
)

// Stable reasons surfaced when an evaluation rejects a coupon.
const (
	CouponReasonNotFound        = "not_found"
	CouponReasonInactive        = "inactive"
	CouponReasonNotStarted      = "not_started"
	CouponReasonExpired         = "expired"
	CouponReasonUsageLimit      = "usage_limit_reached"
	CouponReasonUserUsageLimit  = "user_usage_limit_reached"
	CouponReasonMinimumPurchase = "minimum_purchase_not_met"
)
