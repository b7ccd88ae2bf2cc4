package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
}

type couponService struct {
	repo  repositories.CouponRepository
	clock func() time.Time
}

// NewCouponService wires a CouponService backed by the provided repositories.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &couponService{
		repo:  deps.Coupons,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Evaluate judges the coupon against the cart snapshot. The stored coupon is
// read but never mutated; usage counters move only when an order referencing
// the coupon is created.
func (s *couponService) Evaluate(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error) {
	if s == nil || s.repo == nil {
		return CouponEvaluation{}, ErrCouponRepositoryMissing
	}

	code := normalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponEvaluation{}, ErrCouponInvalidCode
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return rejectedEvaluation(code, CouponReasonNotFound), nil
		}
		return CouponEvaluation{}, err
	}

	now := cmd.Now
	if now.IsZero() {
		now = s.clock()
	}

	if reason := judgeCoupon(coupon, cmd, now); reason != "" {
		evaluation := rejectedEvaluation(code, reason)
		evaluation.Type = coupon.Type
		evaluation.Value = coupon.Value
		return evaluation, nil
	}

	var userUsage int
	if coupon.UserUsageLimit != nil && strings.TrimSpace(cmd.UserID) != "" {
		userUsage, err = s.repo.CountUserUsage(ctx, code, cmd.UserID)
		if err != nil {
			return CouponEvaluation{}, err
		}
		if userUsage >= *coupon.UserUsageLimit {
			evaluation := rejectedEvaluation(code, CouponReasonUserUsageLimit)
			evaluation.Type = coupon.Type
			evaluation.Value = coupon.Value
			return evaluation, nil
		}
	}

	discount, target := ComputeCouponDiscount(coupon, cmd.Subtotal, cmd.Shipping)
	return CouponEvaluation{
		Code:     code,
		Type:     coupon.Type,
		Value:    coupon.Value,
		Target:   target,
		Discount: discount,
		Eligible: true,
	}, nil
}

// judgeCoupon runs the side-effect-free eligibility checks, returning the
// first failing reason or empty when the coupon passes.
func judgeCoupon(coupon Coupon, cmd EvaluateCouponCommand, now time.Time) string {
	if !coupon.IsActive {
		return CouponReasonInactive
	}
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return CouponReasonNotStarted
	}
	if coupon.EndsAt != nil && now.After(*coupon.EndsAt) {
		return CouponReasonExpired
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return CouponReasonUsageLimit
	}
	if cmd.Subtotal < coupon.MinimumPurchase {
		return CouponReasonMinimumPurchase
	}
	return ""
}

// ComputeCouponDiscount derives the discount amount and the total it applies
// against. Percentage discounts honour the optional cap; fixed and shipping
// discounts never exceed the total they reduce.
func ComputeCouponDiscount(coupon Coupon, subtotal, shipping int64) (int64, DiscountTarget) {
	switch coupon.Type {
	case domain.CouponTypePercentage:
		discount := domain.ApplyPercent(subtotal, coupon.Value)
		if coupon.MaxDiscountAmount != nil && discount > *coupon.MaxDiscountAmount {
			discount = *coupon.MaxDiscountAmount
		}
		if discount > subtotal {
			discount = subtotal
		}
		return discount, domain.DiscountTargetSubtotal
	case domain.CouponTypeFixed:
		discount := coupon.Value
		if discount > subtotal {
			discount = subtotal
		}
		return discount, domain.DiscountTargetSubtotal
	case domain.CouponTypeShipping:
		discount := coupon.Value
		if discount > shipping {
			discount = shipping
		}
		return discount, domain.DiscountTargetShipping
	default:
		return 0, domain.DiscountTargetSubtotal
	}
}

func (s *couponService) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	if s == nil || s.repo == nil {
		return Coupon{}, ErrCouponRepositoryMissing
	}
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return Coupon{}, ErrCouponInvalidCode
	}
	coupon, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, err
	}
	return coupon, nil
}

func (s *couponService) ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[Coupon]{}, ErrCouponRepositoryMissing
	}
	return s.repo.List(ctx, filter)
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	if s == nil || s.repo == nil {
		return Coupon{}, ErrCouponRepositoryMissing
	}
	coupon, err := s.normalizeCoupon(cmd.Coupon)
	if err != nil {
		return Coupon{}, err
	}
	now := s.clock()
	coupon.CreatedAt = now
	coupon.UpdatedAt = now
	coupon.UsedCount = 0

	if err := s.repo.Insert(ctx, coupon); err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsConflict() {
			return Coupon{}, ErrCouponExists
		}
		return Coupon{}, err
	}
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	if s == nil || s.repo == nil {
		return Coupon{}, ErrCouponRepositoryMissing
	}
	coupon, err := s.normalizeCoupon(cmd.Coupon)
	if err != nil {
		return Coupon{}, err
	}

	existing, err := s.repo.FindByCode(ctx, coupon.Code)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, err
	}

	coupon.UsedCount = existing.UsedCount
	coupon.CreatedAt = existing.CreatedAt
	coupon.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, coupon); err != nil {
		return Coupon{}, err
	}
	return coupon, nil
}

func (s *couponService) DeleteCoupon(ctx context.Context, code string) error {
	if s == nil || s.repo == nil {
		return ErrCouponRepositoryMissing
	}
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return ErrCouponInvalidCode
	}
	if err := s.repo.Delete(ctx, normalized); err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return ErrCouponNotFound
		}
		return err
	}
	return nil
}

func (s *couponService) normalizeCoupon(coupon Coupon) (Coupon, error) {
	coupon.Code = normalizeCouponCode(coupon.Code)
	if coupon.Code == "" {
		return Coupon{}, ErrCouponInvalidCode
	}
	switch coupon.Type {
	case domain.CouponTypePercentage:
		if coupon.Value <= 0 || coupon.Value > 100 {
			return Coupon{}, fmt.Errorf("%w: percentage value must be in (0,100]", ErrCouponInvalidInput)
		}
	case domain.CouponTypeFixed, domain.CouponTypeShipping:
		if coupon.Value <= 0 {
			return Coupon{}, fmt.Errorf("%w: value must be positive", ErrCouponInvalidInput)
		}
	default:
		return Coupon{}, fmt.Errorf("%w: unknown coupon type %q", ErrCouponInvalidInput, coupon.Type)
	}
	if coupon.MinimumPurchase < 0 {
		return Coupon{}, fmt.Errorf("%w: minimum purchase cannot be negative", ErrCouponInvalidInput)
	}
	if coupon.MaxDiscountAmount != nil && *coupon.MaxDiscountAmount <= 0 {
		return Coupon{}, fmt.Errorf("%w: max discount must be positive when set", ErrCouponInvalidInput)
	}
	if coupon.UsageLimit != nil && *coupon.UsageLimit <= 0 {
		return Coupon{}, fmt.Errorf("%w: usage limit must be positive when set", ErrCouponInvalidInput)
	}
	if coupon.UserUsageLimit != nil && *coupon.UserUsageLimit <= 0 {
		return Coupon{}, fmt.Errorf("%w: user usage limit must be positive when set", ErrCouponInvalidInput)
	}
	if coupon.StartsAt != nil && coupon.EndsAt != nil && coupon.EndsAt.Before(*coupon.StartsAt) {
		return Coupon{}, fmt.Errorf("%w: validity window ends before it starts", ErrCouponInvalidInput)
	}
	coupon.Description = strings.TrimSpace(coupon.Description)
	return coupon, nil
}

func rejectedEvaluation(code, reason string) CouponEvaluation {
	return CouponEvaluation{Code: code, Eligible: false, Reason: reason}
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
