package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const (
	orderCollection = "orders"
)

// OrderRepository persists order documents within Firestore. Orders are never
// hard-deleted; cancellation is a status change on the document.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Set(ctx, orderID, newOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads one order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByPaymentIntent resolves the order referencing a gateway payment intent,
// used by webhook-driven status updates.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, provider string, intentID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	provider = strings.TrimSpace(provider)
	intentID = strings.TrimSpace(intentID)
	if provider == "" || intentID == "" {
		return domain.Order{}, errors.New("order repository: provider and intent id are required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("payment.provider", "==", provider).
			Where("payment.intentId", "==", intentID).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, &notFoundError{entity: "order", key: provider + ":" + intentID}
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns a page of orders honouring user/status filters, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(orderCollection).Query
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		query = query.Where("userId", "==", uid)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Document structures --------------------------------------------------------

type orderDocument struct {
	OrderNumber     string               `firestore:"orderNumber"`
	UserID          string               `firestore:"userId"`
	Status          string               `firestore:"status"`
	Currency        string               `firestore:"currency"`
	Items           []orderItemDocument  `firestore:"items"`
	Totals          orderTotalsDocument  `firestore:"totals"`
	Coupon          *orderCouponDocument `firestore:"coupon,omitempty"`
	Payment         paymentDocument      `firestore:"payment"`
	ShippingAddress *orderAddressDocument     `firestore:"shippingAddress,omitempty"`
	BillingAddress  *orderAddressDocument     `firestore:"billingAddress,omitempty"`
	ShippingMethod  string               `firestore:"shippingMethod,omitempty"`
	ReservationID   string               `firestore:"reservationId,omitempty"`
	TrackingRef     string               `firestore:"trackingRef,omitempty"`
	LoyaltyAwarded  int64                `firestore:"loyaltyAwarded,omitempty"`
	Notes           string               `firestore:"notes,omitempty"`
	Metadata        map[string]any       `firestore:"metadata,omitempty"`
	CreatedAt       time.Time            `firestore:"createdAt"`
	UpdatedAt       time.Time            `firestore:"updatedAt"`
	ConfirmedAt     *time.Time           `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time           `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time           `firestore:"cancelledAt,omitempty"`
	RefundedAt      *time.Time           `firestore:"refundedAt,omitempty"`
	CancelReason    string               `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ProductID     string `firestore:"productId"`
	VariantSKU    string `firestore:"variantSku,omitempty"`
	SKU           string `firestore:"sku,omitempty"`
	Name          string `firestore:"name"`
	Quantity      int    `firestore:"qty"`
	UnitPrice     int64  `firestore:"unitPrice"`
	OriginalPrice int64  `firestore:"originalPrice"`
	Discount      int64  `firestore:"discount"`
	Tax           int64  `firestore:"tax"`
	Total         int64  `firestore:"total"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type orderCouponDocument struct {
	Code     string `firestore:"code"`
	Type     string `firestore:"type"`
	Value    int64  `firestore:"value"`
	Discount int64  `firestore:"discount"`
	Target   string `firestore:"target"`
}

type paymentDocument struct {
	Method        string     `firestore:"method"`
	Provider      string     `firestore:"provider,omitempty"`
	Status        string     `firestore:"status"`
	IntentID      string     `firestore:"intentId,omitempty"`
	ClientSecret  string     `firestore:"clientSecret,omitempty"`
	TransactionID string     `firestore:"transactionId,omitempty"`
	RefundID      string     `firestore:"refundId,omitempty"`
	Amount        int64      `firestore:"amount"`
	Currency      string     `firestore:"currency"`
	FailureReason string     `firestore:"failureReason,omitempty"`
	UpdatedAt     *time.Time `firestore:"updatedAt,omitempty"`
}

type orderAddressDocument struct {
	Name       string `firestore:"name"`
	Phone      string `firestore:"phone,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		Payment:        newPaymentDocument(order.Payment),
		ShippingMethod: strings.TrimSpace(order.ShippingMethod),
		ReservationID:  strings.TrimSpace(order.ReservationID),
		TrackingRef:    strings.TrimSpace(order.TrackingRef),
		LoyaltyAwarded: order.LoyaltyAwarded,
		Notes:          strings.TrimSpace(order.Notes),
		Metadata:       cloneAnyMap(order.Metadata),
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
		ConfirmedAt:    order.ConfirmedAt,
		ShippedAt:      order.ShippedAt,
		DeliveredAt:    order.DeliveredAt,
		CancelledAt:    order.CancelledAt,
		RefundedAt:     order.RefundedAt,
		CancelReason:   strings.TrimSpace(order.CancelReason),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:     strings.TrimSpace(item.ProductID),
			VariantSKU:    strings.TrimSpace(item.VariantSKU),
			SKU:           strings.TrimSpace(item.SKU),
			Name:          strings.TrimSpace(item.Name),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			OriginalPrice: item.OriginalPrice,
			Discount:      item.Discount,
			Tax:           item.Tax,
			Total:         item.Total,
		})
	}
	if order.Coupon != nil {
		doc.Coupon = &orderCouponDocument{
			Code:     strings.TrimSpace(order.Coupon.Code),
			Type:     string(order.Coupon.Type),
			Value:    order.Coupon.Value,
			Discount: order.Coupon.Discount,
			Target:   string(order.Coupon.Target),
		}
	}
	doc.ShippingAddress = newAddressDocument(order.ShippingAddress)
	doc.BillingAddress = newAddressDocument(order.BillingAddress)
	return doc
}

func newPaymentDocument(payment domain.OrderPayment) paymentDocument {
	return paymentDocument{
		Method:        strings.TrimSpace(payment.Method),
		Provider:      strings.TrimSpace(payment.Provider),
		Status:        string(payment.Status),
		IntentID:      strings.TrimSpace(payment.IntentID),
		ClientSecret:  strings.TrimSpace(payment.ClientSecret),
		TransactionID: strings.TrimSpace(payment.TransactionID),
		RefundID:      strings.TrimSpace(payment.RefundID),
		Amount:        payment.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(payment.Currency)),
		FailureReason: strings.TrimSpace(payment.FailureReason),
		UpdatedAt:     payment.UpdatedAt,
	}
}

func newAddressDocument(addr *domain.Address) *orderAddressDocument {
	if addr == nil {
		return nil
	}
	return &orderAddressDocument{
		Name:       strings.TrimSpace(addr.Name),
		Phone:      strings.TrimSpace(addr.Phone),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: strings.TrimSpace(d.OrderNumber),
		UserID:      strings.TrimSpace(d.UserID),
		Status:      domain.OrderStatus(d.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(d.Currency)),
		Totals: domain.OrderTotals{
			Subtotal: d.Totals.Subtotal,
			Discount: d.Totals.Discount,
			Shipping: d.Totals.Shipping,
			Tax:      d.Totals.Tax,
			Total:    d.Totals.Total,
		},
		Payment:        d.Payment.toDomain(),
		ShippingMethod: strings.TrimSpace(d.ShippingMethod),
		ReservationID:  strings.TrimSpace(d.ReservationID),
		TrackingRef:    strings.TrimSpace(d.TrackingRef),
		LoyaltyAwarded: d.LoyaltyAwarded,
		Notes:          strings.TrimSpace(d.Notes),
		Metadata:       cloneAnyMap(d.Metadata),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		ConfirmedAt:    d.ConfirmedAt,
		ShippedAt:      d.ShippedAt,
		DeliveredAt:    d.DeliveredAt,
		CancelledAt:    d.CancelledAt,
		RefundedAt:     d.RefundedAt,
		CancelReason:   strings.TrimSpace(d.CancelReason),
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:     strings.TrimSpace(item.ProductID),
			VariantSKU:    strings.TrimSpace(item.VariantSKU),
			SKU:           strings.TrimSpace(item.SKU),
			Name:          strings.TrimSpace(item.Name),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			OriginalPrice: item.OriginalPrice,
			Discount:      item.Discount,
			Tax:           item.Tax,
			Total:         item.Total,
		})
	}
	if d.Coupon != nil {
		order.Coupon = &domain.OrderCoupon{
			Code:     strings.TrimSpace(d.Coupon.Code),
			Type:     domain.CouponType(d.Coupon.Type),
			Value:    d.Coupon.Value,
			Discount: d.Coupon.Discount,
			Target:   domain.DiscountTarget(d.Coupon.Target),
		}
	}
	order.ShippingAddress = d.ShippingAddress.toDomain()
	order.BillingAddress = d.BillingAddress.toDomain()
	return order
}

func (d paymentDocument) toDomain() domain.OrderPayment {
	return domain.OrderPayment{
		Method:        strings.TrimSpace(d.Method),
		Provider:      strings.TrimSpace(d.Provider),
		Status:        domain.PaymentStatus(d.Status),
		IntentID:      strings.TrimSpace(d.IntentID),
		ClientSecret:  strings.TrimSpace(d.ClientSecret),
		TransactionID: strings.TrimSpace(d.TransactionID),
		RefundID:      strings.TrimSpace(d.RefundID),
		Amount:        d.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(d.Currency)),
		FailureReason: strings.TrimSpace(d.FailureReason),
		UpdatedAt:     d.UpdatedAt,
	}
}

func (d *orderAddressDocument) toDomain() *domain.Address {
	if d == nil {
		return nil
	}
	return &domain.Address{
		Name:       strings.TrimSpace(d.Name),
		Phone:      strings.TrimSpace(d.Phone),
		Line1:      strings.TrimSpace(d.Line1),
		Line2:      strings.TrimSpace(d.Line2),
		City:       strings.TrimSpace(d.City),
		State:      strings.TrimSpace(d.State),
		PostalCode: strings.TrimSpace(d.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(d.Country)),
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
