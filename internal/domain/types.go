package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage bundles a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductStatus enumerates catalog visibility states.
type ProductStatus string

const (
	// ProductStatusActive marks a product as publicly listed.
	ProductStatusActive ProductStatus = "active"
	// ProductStatusDraft marks a product as not yet published.
	ProductStatusDraft ProductStatus = "draft"
	// ProductStatusArchived marks a product as withdrawn from the catalog.
	ProductStatusArchived ProductStatus = "archived"
)

// SaleType distinguishes percentage from fixed-amount sale pricing.
type SaleType string

const (
	// SaleTypePercentage reduces the base price by a percentage.
	SaleTypePercentage SaleType = "percentage"
	// SaleTypeFixed reduces the base price by a fixed amount.
	SaleTypeFixed SaleType = "fixed"
)

// Sale describes a time-bounded price reduction on a product or variant.
type Sale struct {
	Type     SaleType
	Value    int64
	StartsAt *time.Time
	EndsAt   *time.Time
}

// ActiveAt reports whether the sale window covers the given instant.
func (s *Sale) ActiveAt(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.StartsAt != nil && now.Before(*s.StartsAt) {
		return false
	}
	if s.EndsAt != nil && now.After(*s.EndsAt) {
		return false
	}
	return true
}

// Price holds the base amount and optional sale for a catalog entry.
type Price struct {
	Amount   int64
	Currency string
	Sale     *Sale
}

// InventoryType distinguishes tracked stock from always-available items.
type InventoryType string

const (
	// InventoryTypeFinite tracks stock counters for the item.
	InventoryTypeFinite InventoryType = "finite"
	// InventoryTypeInfinite never runs out and skips counter updates.
	InventoryTypeInfinite InventoryType = "infinite"
)

// Inventory holds the stock counters for a product or variant.
type Inventory struct {
	Type              InventoryType
	Quantity          int64
	Reserved          int64
	Sold              int64
	LowStockThreshold int64
	AllowBackorders   bool
	UpdatedAt         time.Time
}

// Available returns the sellable stock not yet held by reservations.
func (i Inventory) Available() int64 {
	available := i.Quantity - i.Reserved
	if available < 0 {
		return 0
	}
	return available
}

// Variant is a purchasable variation of a product with its own SKU and stock.
type Variant struct {
	SKU       string
	Name      string
	Price     *Price
	Inventory Inventory
}

// RatingSummary stores the derived rating aggregate recomputed from approved reviews.
type RatingSummary struct {
	Average     float64
	ReviewCount int
	Counts      map[string]int
}

// Product is the catalog document read by every other component.
type Product struct {
	ID            string
	SKU           string
	Slug          string
	Name          string
	Description   string
	Status        ProductStatus
	Price         Price
	Inventory     Inventory
	Variants      []Variant
	Rating        RatingSummary
	Images        []string
	Categories    []string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VariantBySKU returns the variant matching the SKU, or nil for the base record.
func (p *Product) VariantBySKU(sku string) *Variant {
	if p == nil || sku == "" {
		return nil
	}
	for i := range p.Variants {
		if p.Variants[i].SKU == sku {
			return &p.Variants[i]
		}
	}
	return nil
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Items     []CartItem
	Coupon    *CartCoupon
	Estimate  *CartEstimate
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem stores a single line entry within a cart. UnitPrice is captured
// when the item is added and is not re-derived on later reads.
type CartItem struct {
	ID         string
	ProductID  string
	VariantSKU string
	Name       string
	Quantity   int
	UnitPrice  int64
	Currency   string
	AddedAt    time.Time
	UpdatedAt  *time.Time
}

// CartCoupon captures the applied coupon snapshot on a cart.
type CartCoupon struct {
	Code     string
	Type     CouponType
	Value    int64
	Discount int64
	Applied  bool
}

// CartEstimate summarizes totals calculated for the cart.
type CartEstimate struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment or confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment settled and the order is accepted.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusReadyForShipment indicates the order awaits carrier handoff.
	OrderStatusReadyForShipment OrderStatus = "ready_for_shipment"
	// OrderStatusShipped indicates the order has left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery indicates the order is on the last mile.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusRefunded indicates a delivered order was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCancelled indicates the order was cancelled before shipping.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the immutable snapshot aggregate created at checkout. Line prices
// are copied at creation so historical orders are insulated from catalog
// price changes.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Status          OrderStatus
	Currency        string
	Items           []OrderItem
	Totals          OrderTotals
	Coupon          *OrderCoupon
	Payment         OrderPayment
	ShippingAddress *Address
	BillingAddress  *Address
	ShippingMethod  string
	ReservationID   string
	TrackingRef     string
	LoyaltyAwarded  int64
	Notes           string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
	CancelReason    string
}

// OrderItem mirrors a cart item at checkout time with its price breakdown.
type OrderItem struct {
	ProductID     string
	VariantSKU    string
	SKU           string
	Name          string
	Quantity      int
	UnitPrice     int64
	OriginalPrice int64
	Discount      int64
	Tax           int64
	Total         int64
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// OrderCoupon records the coupon snapshot applied to an order.
type OrderCoupon struct {
	Code     string
	Type     CouponType
	Value    int64
	Discount int64
	Target   DiscountTarget
}

// PaymentStatus enumerates the payment sub-record states on an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no payment attempt has settled yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing indicates an intent exists and awaits the gateway.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusPaid indicates the gateway captured the funds.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the gateway rejected the payment.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates captured funds were returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderPayment encapsulates payment status and gateway references for an order.
type OrderPayment struct {
	Method        string
	Provider      string
	Status        PaymentStatus
	IntentID      string
	ClientSecret  string
	TransactionID string
	RefundID      string
	Amount        int64
	Currency      string
	FailureReason string
	UpdatedAt     *time.Time
}

// CouponType enumerates the discount categories a coupon can carry.
type CouponType string

const (
	// CouponTypePercentage discounts a percentage of the cart subtotal.
	CouponTypePercentage CouponType = "percentage"
	// CouponTypeFixed discounts a fixed amount off the cart subtotal.
	CouponTypeFixed CouponType = "fixed"
	// CouponTypeShipping discounts the shipping cost rather than the subtotal.
	CouponTypeShipping CouponType = "shipping"
)

// DiscountTarget names the total a computed discount applies against.
type DiscountTarget string

const (
	// DiscountTargetSubtotal applies the discount to the item subtotal.
	DiscountTargetSubtotal DiscountTarget = "subtotal"
	// DiscountTargetShipping applies the discount to the shipping cost.
	DiscountTargetShipping DiscountTarget = "shipping"
)

// Coupon is the stored coupon document keyed by its unique code.
type Coupon struct {
	Code              string
	Description       string
	Type              CouponType
	Value             int64
	MaxDiscountAmount *int64
	MinimumPurchase   int64
	UsageLimit        *int
	UserUsageLimit    *int
	UsedCount         int
	IsActive          bool
	StartsAt          *time.Time
	EndsAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CouponUsage is the audit entry appended each time an order applies a coupon.
type CouponUsage struct {
	ID        string
	Code      string
	UserID    string
	OrderID   string
	Amount    int64
	CreatedAt time.Time
}

// ReviewStatus enumerates the moderation states of a review.
type ReviewStatus string

const (
	// ReviewStatusPending marks a freshly submitted review awaiting moderation.
	ReviewStatusPending ReviewStatus = "pending"
	// ReviewStatusApproved marks a review that counts toward the product rating.
	ReviewStatusApproved ReviewStatus = "approved"
	// ReviewStatusRejected marks a review hidden by moderation.
	ReviewStatusRejected ReviewStatus = "rejected"
	// ReviewStatusFlagged marks a review queued for manual follow-up.
	ReviewStatusFlagged ReviewStatus = "flagged"
)

// Review belongs to one user and one product.
type Review struct {
	ID          string
	ProductID   string
	UserID      string
	OrderID     string
	Rating      int
	Title       string
	Body        string
	Images      []string
	Status      ReviewStatus
	Helpful     int
	Unhelpful   int
	ModeratedBy string
	ModeratedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WishlistItem is a saved product reference on a user's wishlist.
type WishlistItem struct {
	ProductID string
	AddedAt   time.Time
}

// Wishlist holds the saved products for a single user.
type Wishlist struct {
	UserID    string
	Items     []WishlistItem
	UpdatedAt time.Time
}

// Address stores a shipping or billing destination.
type Address struct {
	ID         string
	Name       string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	IsDefault  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UserProfile stores account state surfaced through the /me endpoints.
type UserProfile struct {
	ID            string
	Email         string
	DisplayName   string
	Locale        string
	Roles         []string
	LoyaltyPoints int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasRole reports whether the profile carries the named role.
func (u UserProfile) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ReservationStatus enumerates the lifecycle of a stock reservation.
type ReservationStatus string

const (
	// ReservationStatusReserved marks stock held for a pending order.
	ReservationStatusReserved ReservationStatus = "reserved"
	// ReservationStatusCommitted marks stock sold on delivery.
	ReservationStatusCommitted ReservationStatus = "committed"
	// ReservationStatusReleased marks a reservation returned to the pool.
	ReservationStatusReleased ReservationStatus = "released"
)

// ReservationLine identifies one product/variant hold inside a reservation.
type ReservationLine struct {
	ProductID  string
	VariantSKU string
	Quantity   int64
}

// Reservation is the audit document for a multi-line stock hold.
type Reservation struct {
	ID        string
	OrderID   string
	UserID    string
	Status    ReservationStatus
	Lines     []ReservationLine
	Reason    string
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	// HealthStatusOK marks a dependency answering within expectations.
	HealthStatusOK = "ok"
	// HealthStatusDegraded marks a dependency responding with elevated errors or latency.
	HealthStatusDegraded = "degraded"
	// HealthStatusError marks a dependency that failed its probe.
	HealthStatusError = "error"
)

// SystemHealthCheck records one dependency probe result.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// StockEvent records an inventory movement for downstream consumers.
type StockEvent struct {
	ID            string
	Type          string
	ProductID     string
	VariantSKU    string
	DeltaQuantity int64
	DeltaReserved int64
	DeltaSold     int64
	Quantity      int64
	Reserved      int64
	LowStock      bool
	Reason        string
	OccurredAt    time.Time
	Metadata      map[string]any
}
