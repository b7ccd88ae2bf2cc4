package services

import (
	"context"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Product            = domain.Product
	ProductStatus      = domain.ProductStatus
	Variant            = domain.Variant
	Price              = domain.Price
	Sale               = domain.Sale
	RatingSummary      = domain.RatingSummary
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CartCoupon         = domain.CartCoupon
	CartEstimate       = domain.CartEstimate
	Coupon             = domain.Coupon
	CouponType         = domain.CouponType
	CouponUsage        = domain.CouponUsage
	DiscountTarget     = domain.DiscountTarget
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderCoupon        = domain.OrderCoupon
	OrderPayment       = domain.OrderPayment
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	Review             = domain.Review
	ReviewStatus       = domain.ReviewStatus
	Wishlist           = domain.Wishlist
	WishlistItem       = domain.WishlistItem
	Address            = domain.Address
	UserProfile        = domain.UserProfile
	Reservation        = domain.Reservation
	ReservationLine    = domain.ReservationLine
	StockEvent         = domain.StockEvent
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService manages product documents for public reads and admin writes.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	ArchiveProduct(ctx context.Context, cmd ArchiveProductCommand) (Product, error)
}

// CartService manages mutable cart state and keeps the stored estimate current.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCartCouponCommand) (Cart, error)
	RemoveCoupon(ctx context.Context, userID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// CouponService evaluates coupon eligibility against a cart snapshot and owns
// the admin coupon lifecycle. Evaluation never mutates usage counters; those
// move only when an order is created.
type CouponService interface {
	Evaluate(ctx context.Context, cmd EvaluateCouponCommand) (CouponEvaluation, error)
	GetCoupon(ctx context.Context, code string) (Coupon, error)
	ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error)
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	DeleteCoupon(ctx context.Context, code string) error
}

// InventoryService centralizes stock movements, the multi-line reservation
// flow used at checkout, and low stock reporting.
type InventoryService interface {
	Reserve(ctx context.Context, cmd StockMovementCommand) (repositories.StockLevel, error)
	Sell(ctx context.Context, cmd StockMovementCommand) (repositories.StockLevel, error)
	Release(ctx context.Context, cmd StockMovementCommand) (repositories.StockLevel, error)
	// ReserveOrder reserves every line or none: lines already held are released
	// when a later line fails.
	ReserveOrder(ctx context.Context, cmd ReserveOrderCommand) (Reservation, error)
	CommitReservation(ctx context.Context, cmd ReservationCommand) (Reservation, error)
	ReleaseReservation(ctx context.Context, cmd ReservationCommand) (Reservation, error)
	ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[Product], error)
}

// OrderService owns order creation from a cart, the status state machine, and
// payment-event driven transitions.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error)
	// HandlePaymentEvent applies a verified gateway webhook to the matching order.
	HandlePaymentEvent(ctx context.Context, cmd PaymentEventCommand) (Order, error)
}

// ReviewService coordinates review submission, moderation, votes, and the
// derived product rating aggregate.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	Get(ctx context.Context, reviewID string) (Review, error)
	Delete(ctx context.Context, cmd DeleteReviewCommand) error
	ListByProduct(ctx context.Context, cmd ListProductReviewsCommand) (domain.CursorPage[Review], error)
	ListByUser(ctx context.Context, cmd ListUserReviewsCommand) (domain.CursorPage[Review], error)
	Moderate(ctx context.Context, cmd ModerateReviewCommand) (Review, error)
	Vote(ctx context.Context, cmd VoteReviewCommand) (Review, error)
	CreateImageUploadURL(ctx context.Context, cmd ReviewImageUploadCommand) (ReviewImageUpload, error)
}

// WishlistService manages saved products per user.
type WishlistService interface {
	GetWishlist(ctx context.Context, userID string) (Wishlist, error)
	AddProduct(ctx context.Context, cmd WishlistCommand) (Wishlist, error)
	RemoveProduct(ctx context.Context, cmd WishlistCommand) (Wishlist, error)
	MoveToCart(ctx context.Context, cmd WishlistCommand) (Cart, error)
}

// UserService manages profile and address surfaces.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error)
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, cmd DeleteAddressCommand) error
	SetDefaultAddress(ctx context.Context, cmd SetDefaultAddressCommand) (Address, error)
}

// PaymentGateway abstracts the configured payment providers behind one dispatch
// surface keyed by provider name.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntentResult, error)
	Refund(ctx context.Context, req PaymentRefundRequest) (PaymentRefundResult, error)
}

// StockEventPublisher accepts inventory movement notifications for downstream consumers.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// ErrorTranslator converts repository or platform errors into domain-aware sentinel errors.
type ErrorTranslator interface {
	Translate(err error) error
}

// DomainError represents a structured error with stable codes for transport across layers.
type DomainError interface {
	error
	Code() string
	SafeMessage() string
}

// Command and DTO definitions ------------------------------------------------

type ProductListFilter = repositories.ProductListFilter

type UpsertProductCommand struct {
	Product Product
	ActorID string
}

type ArchiveProductCommand struct {
	ProductID string
	ActorID   string
}

type UpsertCartItemCommand struct {
	UserID     string
	ProductID  string
	VariantSKU string
	Quantity   int
}

type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

type ApplyCartCouponCommand struct {
	UserID string
	Code   string
}

// EvaluateCouponCommand carries the cart snapshot a coupon is judged against.
type EvaluateCouponCommand struct {
	Code     string
	UserID   string
	Subtotal int64
	Shipping int64
	Now      time.Time
}

// CouponEvaluation is the outcome of judging a coupon against a cart. When
// Eligible is false, Reason carries a stable machine-readable cause.
type CouponEvaluation struct {
	Code     string
	Type     CouponType
	Value    int64
	Target   DiscountTarget
	Discount int64
	Eligible bool
	Reason   string
}

type CouponListFilter = repositories.CouponListFilter

type UpsertCouponCommand struct {
	Coupon  Coupon
	ActorID string
}

type StockMovementCommand struct {
	ProductID  string
	VariantSKU string
	Quantity   int64
	Reason     string
}

type ReserveOrderCommand struct {
	OrderID string
	UserID  string
	Lines   []ReservationLine
	TTL     time.Duration
}

type ReservationCommand struct {
	ReservationID string
	Reason        string
}

type LowStockFilter struct {
	Pagination Pagination
}

type CreateOrderCommand struct {
	UserID            string
	ShippingAddressID string
	BillingAddressID  string
	ShippingMethod    string
	PaymentProvider   string
	PaymentMethod     string
	Notes             string
	Metadata          map[string]any
}

type GetOrderCommand struct {
	OrderID string
	// ActorID scopes reads: non-staff callers only see their own orders.
	ActorID    string
	ActorRoles []string
}

type OrderListFilter = repositories.OrderListFilter

type OrderTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
	Reason       string
	TrackingRef  string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type RefundOrderCommand struct {
	OrderID string
	ActorID string
	Amount  *int64
	Reason  string
}

// PaymentEventCommand is the normalized form of a verified webhook event.
type PaymentEventCommand struct {
	Provider      string
	EventType     PaymentEventType
	IntentID      string
	TransactionID string
	FailureReason string
	OccurredAt    time.Time
}

// PaymentEventType enumerates the webhook outcomes the order flow reacts to.
type PaymentEventType string

const (
	// PaymentEventSucceeded confirms a pending order.
	PaymentEventSucceeded PaymentEventType = "succeeded"
	// PaymentEventFailed records the failure and leaves the order pending.
	PaymentEventFailed PaymentEventType = "failed"
	// PaymentEventRefunded acknowledges an externally issued refund.
	PaymentEventRefunded PaymentEventType = "refunded"
)

type PaymentIntentRequest struct {
	Provider       string
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	Method         string
	CustomerEmail  string
	IdempotencyKey string
	Metadata       map[string]string
}

type PaymentIntentResult struct {
	Provider     string
	IntentID     string
	ClientSecret string
	Status       string
}

type PaymentRefundRequest struct {
	Provider string
	IntentID string
	// Amount refunds partially when set; a nil amount refunds the full charge.
	Amount   *int64
	Currency string
	Reason   string
}

type PaymentRefundResult struct {
	RefundID string
	Status   string
}

type CreateReviewCommand struct {
	ProductID string
	UserID    string
	OrderID   string
	Rating    int
	Title     string
	Body      string
	Images    []string
}

type DeleteReviewCommand struct {
	ReviewID   string
	ActorID    string
	ActorRoles []string
}

type ListProductReviewsCommand struct {
	ProductID string
	// IncludeAll lists every moderation status for staff callers; public reads
	// only see approved reviews.
	IncludeAll bool
	Status     []ReviewStatus
	Pagination Pagination
}

type ListUserReviewsCommand struct {
	UserID     string
	Pagination Pagination
}

type ModerateReviewCommand struct {
	ReviewID string
	ActorID  string
	Status   ReviewStatus
}

type VoteReviewCommand struct {
	ReviewID string
	UserID   string
	Helpful  bool
}

// ReviewImageUploadCommand requests a signed upload URL for a review image.
type ReviewImageUploadCommand struct {
	ReviewID    string
	UserID      string
	FileName    string
	ContentType string
	ContentMD5  string
}

// ReviewImageUpload carries the signed URL the client PUTs the image to.
type ReviewImageUpload struct {
	UploadURL  string
	Method     string
	ObjectPath string
	ExpiresAt  time.Time
	Headers    map[string]string
}

type WishlistCommand struct {
	UserID    string
	ProductID string
}

type UpdateProfileCommand struct {
	UserID      string
	DisplayName *string
	Locale      *string
}

type UpsertAddressCommand struct {
	UserID    string
	AddressID *string
	Address   Address
}

type DeleteAddressCommand struct {
	UserID    string
	AddressID string
}

type SetDefaultAddressCommand struct {
	UserID    string
	AddressID string
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
