package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists cart documents within Firestore, one per user.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Upsert persists the cart document using the user ID as document identifier.
func (r *CartRepository) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(cart.UserID)
	if cartID == "" {
		cartID = strings.TrimSpace(cart.ID)
	}
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := newCartDocument(cart)
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now

	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(cartID)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Get loads the cart for the given user ID.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := doc.Data.toDomain(doc.ID)
	if !doc.UpdateTime.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	return cart, nil
}

// Delete removes the cart document, used when a cart empties or converts to an order.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

// Document structures --------------------------------------------------------

type cartDocument struct {
	Currency  string              `firestore:"currency"`
	Items     []cartItemDocument  `firestore:"items"`
	Coupon    *cartCouponDocument `firestore:"coupon,omitempty"`
	Estimate  *cartEstimateDoc    `firestore:"estimate,omitempty"`
	Metadata  map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt time.Time           `firestore:"createdAt"`
	UpdatedAt time.Time           `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID         string     `firestore:"id"`
	ProductID  string     `firestore:"productId"`
	VariantSKU string     `firestore:"variantSku,omitempty"`
	Name       string     `firestore:"name"`
	Quantity   int        `firestore:"qty"`
	UnitPrice  int64      `firestore:"unitPrice"`
	Currency   string     `firestore:"currency"`
	AddedAt    time.Time  `firestore:"addedAt"`
	UpdatedAt  *time.Time `firestore:"updatedAt,omitempty"`
}

type cartCouponDocument struct {
	Code     string `firestore:"code"`
	Type     string `firestore:"type"`
	Value    int64  `firestore:"value"`
	Discount int64  `firestore:"discount"`
	Applied  bool   `firestore:"applied"`
}

type cartEstimateDoc struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		Currency: strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:    make([]cartItemDocument, 0, len(cart.Items)),
		Metadata: cloneAnyMap(cart.Metadata),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:         strings.TrimSpace(item.ID),
			ProductID:  strings.TrimSpace(item.ProductID),
			VariantSKU: strings.TrimSpace(item.VariantSKU),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Currency:   strings.ToUpper(strings.TrimSpace(item.Currency)),
			AddedAt:    item.AddedAt.UTC(),
			UpdatedAt:  item.UpdatedAt,
		})
	}
	if cart.Coupon != nil {
		doc.Coupon = &cartCouponDocument{
			Code:     strings.TrimSpace(cart.Coupon.Code),
			Type:     string(cart.Coupon.Type),
			Value:    cart.Coupon.Value,
			Discount: cart.Coupon.Discount,
			Applied:  cart.Coupon.Applied,
		}
	}
	if cart.Estimate != nil {
		doc.Estimate = &cartEstimateDoc{
			Subtotal: cart.Estimate.Subtotal,
			Discount: cart.Estimate.Discount,
			Shipping: cart.Estimate.Shipping,
			Tax:      cart.Estimate.Tax,
			Total:    cart.Estimate.Total,
		}
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:        id,
		UserID:    id,
		Currency:  strings.ToUpper(strings.TrimSpace(d.Currency)),
		Items:     make([]domain.CartItem, 0, len(d.Items)),
		Metadata:  cloneAnyMap(d.Metadata),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:         strings.TrimSpace(item.ID),
			ProductID:  strings.TrimSpace(item.ProductID),
			VariantSKU: strings.TrimSpace(item.VariantSKU),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Currency:   strings.ToUpper(strings.TrimSpace(item.Currency)),
			AddedAt:    item.AddedAt,
			UpdatedAt:  item.UpdatedAt,
		})
	}
	if d.Coupon != nil {
		cart.Coupon = &domain.CartCoupon{
			Code:     strings.TrimSpace(d.Coupon.Code),
			Type:     domain.CouponType(d.Coupon.Type),
			Value:    d.Coupon.Value,
			Discount: d.Coupon.Discount,
			Applied:  d.Coupon.Applied,
		}
	}
	if d.Estimate != nil {
		cart.Estimate = &domain.CartEstimate{
			Subtotal: d.Estimate.Subtotal,
			Discount: d.Estimate.Discount,
			Shipping: d.Estimate.Shipping,
			Tax:      d.Estimate.Tax,
			Total:    d.Estimate.Total,
		}
	}
	return cart
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.CartRepository = (*CartRepository)(nil)
