package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const (
	couponCollection      = "coupons"
	couponUsageCollection = "usages"
)

// CouponRepository maintains coupon documents keyed by their unique code with
// a usage-record subcollection per coupon.
type CouponRepository struct {
	base     *pfirestore.BaseRepository[couponDocument]
	provider *pfirestore.Provider
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil, nil)
	return &CouponRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the coupon document, failing when the code is already taken.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	code := normalizeCouponCode(coupon.Code)
	if code == "" {
		return errors.New("coupon repository: code is required")
	}
	ref, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newCouponDocument(coupon)); err != nil {
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

// Update replaces the coupon document.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	code := normalizeCouponCode(coupon.Code)
	if code == "" {
		return errors.New("coupon repository: code is required")
	}
	if _, err := r.base.Set(ctx, code, newCouponDocument(coupon)); err != nil {
		return err
	}
	return nil
}

// Delete removes the coupon document.
func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	code = normalizeCouponCode(code)
	if code == "" {
		return errors.New("coupon repository: code is required")
	}
	ref, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("coupons.delete", err)
	}
	return nil
}

// FindByCode loads one coupon document.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = normalizeCouponCode(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}
	doc, err := r.base.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns a page of coupons ordered by creation time.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, pfirestore.WrapError("coupons.list", err)
	}

	query := client.Collection(couponCollection).Query
	if filter.ActiveOnly {
		query = query.Where("isActive", "==", true)
	}
	query = query.OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		query = query.StartAfter(token)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var coupons []domain.Coupon
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, pfirestore.WrapError("coupons.list", err)
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Coupon]{}, fmt.Errorf("decode coupon %s: %w", snap.Ref.ID, err)
		}
		coupons = append(coupons, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(coupons) > pageSize
	if hasMore {
		coupons = coupons[:pageSize]
	}
	var nextToken string
	if hasMore && len(coupons) > 0 {
		nextToken = coupons[len(coupons)-1].Code
	}

	return domain.CursorPage[domain.Coupon]{
		Items:         coupons,
		NextPageToken: nextToken,
	}, nil
}

// CountUserUsage reports how many times the user has redeemed the coupon.
func (r *CouponRepository) CountUserUsage(ctx context.Context, code string, userID string) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("coupon repository not initialised")
	}
	code = normalizeCouponCode(code)
	userID = strings.TrimSpace(userID)
	if code == "" || userID == "" {
		return 0, errors.New("coupon repository: code and user id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("coupons.countUsage", err)
	}

	iter := client.Collection(couponCollection).Doc(code).Collection(couponUsageCollection).
		Where("userId", "==", userID).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, pfirestore.WrapError("coupons.countUsage", err)
		}
		count++
	}
	return count, nil
}

// RecordUsage increments usedCount and appends the usage record in one transaction.
func (r *CouponRepository) RecordUsage(ctx context.Context, usage domain.CouponUsage) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code := normalizeCouponCode(usage.Code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}
	usageID := strings.TrimSpace(usage.ID)
	if usageID == "" {
		return domain.Coupon{}, errors.New("coupon repository: usage id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.recordUsage", err)
	}

	var updated domain.Coupon
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		couponRef := client.Collection(couponCollection).Doc(code)
		snap, err := tx.Get(couponRef)
		if err != nil {
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", code, err)
		}
		if doc.UsageLimit != nil && doc.UsedCount >= *doc.UsageLimit {
			return pfirestore.WrapError("coupons.recordUsage", status.Error(codes.FailedPrecondition, "coupon usage limit reached"))
		}

		doc.UsedCount++
		doc.UpdatedAt = usage.CreatedAt.UTC()
		if err := tx.Set(couponRef, doc); err != nil {
			return err
		}

		usageRef := couponRef.Collection(couponUsageCollection).Doc(usageID)
		record := couponUsageDocument{
			UserID:    strings.TrimSpace(usage.UserID),
			OrderID:   strings.TrimSpace(usage.OrderID),
			Amount:    usage.Amount,
			CreatedAt: usage.CreatedAt.UTC(),
		}
		if err := tx.Create(usageRef, record); err != nil {
			return err
		}

		updated = doc.toDomain(code)
		return nil
	})
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.recordUsage", err)
	}
	return updated, nil
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Document structures --------------------------------------------------------

type couponDocument struct {
	Description       string     `firestore:"description,omitempty"`
	Type              string     `firestore:"type"`
	Value             int64      `firestore:"value"`
	MaxDiscountAmount *int64     `firestore:"maxDiscountAmount,omitempty"`
	MinimumPurchase   int64      `firestore:"minimumPurchase"`
	UsageLimit        *int       `firestore:"usageLimit,omitempty"`
	UserUsageLimit    *int       `firestore:"userUsageLimit,omitempty"`
	UsedCount         int        `firestore:"usedCount"`
	IsActive          bool       `firestore:"isActive"`
	StartsAt          *time.Time `firestore:"startsAt,omitempty"`
	EndsAt            *time.Time `firestore:"endsAt,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

type couponUsageDocument struct {
	UserID    string    `firestore:"userId"`
	OrderID   string    `firestore:"orderId"`
	Amount    int64     `firestore:"amount"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Description:       strings.TrimSpace(coupon.Description),
		Type:              string(coupon.Type),
		Value:             coupon.Value,
		MaxDiscountAmount: coupon.MaxDiscountAmount,
		MinimumPurchase:   coupon.MinimumPurchase,
		UsageLimit:        coupon.UsageLimit,
		UserUsageLimit:    coupon.UserUsageLimit,
		UsedCount:         coupon.UsedCount,
		IsActive:          coupon.IsActive,
		StartsAt:          coupon.StartsAt,
		EndsAt:            coupon.EndsAt,
		CreatedAt:         coupon.CreatedAt.UTC(),
		UpdatedAt:         coupon.UpdatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(code string) domain.Coupon {
	return domain.Coupon{
		Code:              code,
		Description:       strings.TrimSpace(d.Description),
		Type:              domain.CouponType(d.Type),
		Value:             d.Value,
		MaxDiscountAmount: d.MaxDiscountAmount,
		MinimumPurchase:   d.MinimumPurchase,
		UsageLimit:        d.UsageLimit,
		UserUsageLimit:    d.UserUsageLimit,
		UsedCount:         d.UsedCount,
		IsActive:          d.IsActive,
		StartsAt:          d.StartsAt,
		EndsAt:            d.EndsAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
