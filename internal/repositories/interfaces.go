package repositories

import (
	"context"
	"time"

	domain "github.com/maplecart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Reviews() ReviewRepository
	Users() UserRepository
	Addresses() AddressRepository
	Wishlists() WishlistRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists catalog documents including their stock counters
// and derived rating aggregates.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	UpdateRating(ctx context.Context, productID string, rating domain.RatingSummary, updatedAt time.Time) error
}

// CartRepository owns cart persistence; one cart document per user.
type CartRepository interface {
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Delete(ctx context.Context, userID string) error
}

// CouponRepository maintains coupon definitions, usage counters, and usage records.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, code string) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	// CountUserUsage reports how many times the user has redeemed the coupon.
	CountUserUsage(ctx context.Context, code string, userID string) (int, error)
	// RecordUsage increments usedCount and appends a usage record atomically.
	RecordUsage(ctx context.Context, usage domain.CouponUsage) (domain.Coupon, error)
}

// InventoryRepository mutates per-product/variant stock counters with
// single-document transactional guarantees and tracks reservation audits.
type InventoryRepository interface {
	// ApplyMovement adjusts the counters of one product or variant inside a
	// transaction, enforcing availability unless the movement allows backorders.
	ApplyMovement(ctx context.Context, movement StockMovement) (StockLevel, error)
	SaveReservation(ctx context.Context, reservation domain.Reservation) error
	UpdateReservationStatus(ctx context.Context, reservationID string, status domain.ReservationStatus, now time.Time) (domain.Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error)
	// ListExpiredReservations returns reservations still in reserved status
	// whose expiry lies at or before the cutoff, oldest first.
	ListExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error)
	ListLowStock(ctx context.Context, query LowStockQuery) (domain.CursorPage[domain.Product], error)
}

// StockMovementKind enumerates the counter mutations the store supports.
type StockMovementKind string

const (
	// StockMovementReserve increments reserved, bounded by availability
	// unless backorders are allowed.
	StockMovementReserve StockMovementKind = "reserve"
	// StockMovementSell decrements quantity and reserved and increments sold.
	StockMovementSell StockMovementKind = "sell"
	// StockMovementRelease decrements reserved without touching quantity.
	StockMovementRelease StockMovementKind = "release"
)

// StockMovement describes one counter mutation against a product or variant.
type StockMovement struct {
	Kind       StockMovementKind
	ProductID  string
	VariantSKU string
	Quantity   int64
	Now        time.Time
}

// StockLevel reports the counters after a movement was applied.
type StockLevel struct {
	ProductID  string
	VariantSKU string
	Quantity   int64
	Reserved   int64
	Sold       int64
	Available  int64
	LowStock   bool
}

// LowStockQuery controls pagination for low stock listings.
type LowStockQuery struct {
	PageSize  int
	PageToken string
}

// OrderRepository persists order documents and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, provider string, intentID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ReviewRepository stores product reviews and their moderation meta.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) (domain.Review, error)
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	Delete(ctx context.Context, reviewID string) error
	ListByProduct(ctx context.Context, productID string, filter ReviewListFilter) (domain.CursorPage[domain.Review], error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	// ListApprovedByProduct returns every approved review for the product, used
	// by the full rating recomputation.
	ListApprovedByProduct(ctx context.Context, productID string) ([]domain.Review, error)
	UpdateStatus(ctx context.Context, reviewID string, status domain.ReviewStatus, update ReviewModerationUpdate) (domain.Review, error)
	AdjustVotes(ctx context.Context, reviewID string, helpfulDelta, unhelpfulDelta int) (domain.Review, error)
}

// UserRepository stores user profiles including loyalty balances.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
	AddLoyaltyPoints(ctx context.Context, userID string, points int64, now time.Time) (domain.UserProfile, error)
}

// AddressRepository stores shipping/billing addresses per user.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// WishlistRepository tracks saved products per user.
type WishlistRepository interface {
	Get(ctx context.Context, userID string) (domain.Wishlist, error)
	Put(ctx context.Context, userID string, productID string, addedAt time.Time, limit int) (bool, error)
	Delete(ctx context.Context, userID string, productID string) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Status     []domain.ProductStatus
	Category   *string
	Search     string
	SortOrder  domain.SortOrder
	Pagination domain.Pagination
}

type CouponListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ReviewListFilter struct {
	Status     []domain.ReviewStatus
	Pagination domain.Pagination
}

// ReviewModerationUpdate carries moderation metadata for status transitions.
type ReviewModerationUpdate struct {
	ModeratedBy string
	ModeratedAt time.Time
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
