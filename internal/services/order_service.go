package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventPaymentUpdated = "order.payment.updated"

	orderIDPrefix       = "ord_"
	trackingRefPrefix   = "trk_"
	orderNumberSequence = "orders"

	paymentMethodCashOnDelivery = "cash_on_delivery"

	checkoutReservationTTL = 30 * time.Minute
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderCouponRejected indicates the cart's coupon failed re-evaluation at checkout.
	ErrOrderCouponRejected = errors.New("order: coupon rejected")
	// ErrOrderUnavailable indicates a backing dependency cannot serve the request.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:          {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:        {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:       {domain.OrderStatusReadyForShipment, domain.OrderStatusCancelled},
	domain.OrderStatusReadyForShipment: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:          {domain.OrderStatusOutForDelivery},
	domain.OrderStatusOutForDelivery:   {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:        {domain.OrderStatusRefunded},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus domain.OrderStatus
	CurrentStatus  domain.OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

type cartConverter interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Coupons     repositories.CouponRepository
	Users       repositories.UserRepository
	Addresses   repositories.AddressRepository
	Carts       cartConverter
	Products    productFinder
	Evaluator   couponEvaluator
	Pricer      *PricingEngine
	Inventory   InventoryService
	Payments    PaymentGateway
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	coupons   repositories.CouponRepository
	users     repositories.UserRepository
	addresses repositories.AddressRepository
	carts     cartConverter
	products  productFinder
	evaluator couponEvaluator
	pricer    *PricingEngine
	inventory InventoryService
	payments  PaymentGateway
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		counters:  deps.Counters,
		coupons:   deps.Coupons,
		users:     deps.Users,
		addresses: deps.Addresses,
		carts:     deps.Carts,
		products:  deps.Products,
		evaluator: deps.Evaluator,
		pricer:    deps.Pricer,
		inventory: deps.Inventory,
		payments:  deps.Payments,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// CreateFromCart converts the user's cart into an immutable order snapshot.
// Everything up to persistence aborts wholly, compensating the reservation.
// A payment failure after the order is stored leaves it pending with a failed
// payment record for webhook or manual reconciliation.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if s.carts == nil || s.products == nil {
		return Order{}, ErrOrderUnavailable
	}

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return Order{}, fmt.Errorf("%w: cart load failed: %v", ErrOrderUnavailable, err)
	}
	if len(cart.Items) == 0 {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}

	shipping, billing, err := s.resolveAddresses(ctx, userID, cmd)
	if err != nil {
		return Order{}, err
	}

	items, err := s.snapshotCartItems(ctx, cart.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	evaluation, err := s.settleCoupon(ctx, cart, items, userID, now)
	if err != nil {
		return Order{}, err
	}

	priced, err := s.pricer.Price(PriceOrderCommand{Items: items, Coupon: evaluation})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return Order{}, ErrOrderUnavailable
	}

	orderID := orderIDPrefix + s.newID()

	reservation, err := s.inventory.ReserveOrder(ctx, ReserveOrderCommand{
		OrderID: orderID,
		UserID:  userID,
		Lines:   reservationLinesFromItems(priced.Items),
		TTL:     checkoutReservationTTL,
	})
	if err != nil {
		return Order{}, err
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.releaseReservationQuietly(ctx, reservation.ID, "order number allocation failed")
		return Order{}, ErrOrderUnavailable
	}

	order := domain.Order{
		ID:          orderID,
		OrderNumber: number,
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		Currency:    s.pricer.Currency(),
		Items:       priced.Items,
		Totals:      priced.Totals,
		Payment: domain.OrderPayment{
			Method:   strings.TrimSpace(cmd.PaymentMethod),
			Provider: strings.TrimSpace(cmd.PaymentProvider),
			Status:   domain.PaymentStatusPending,
			Amount:   priced.Totals.Total,
			Currency: s.pricer.Currency(),
		},
		ShippingAddress: shipping,
		BillingAddress:  billing,
		ShippingMethod:  strings.TrimSpace(cmd.ShippingMethod),
		ReservationID:   reservation.ID,
		Notes:           strings.TrimSpace(cmd.Notes),
		Metadata:        cloneMetadata(cmd.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if evaluation != nil {
		order.Coupon = &domain.OrderCoupon{
			Code:     evaluation.Code,
			Type:     evaluation.Type,
			Value:    evaluation.Value,
			Discount: evaluation.Discount,
			Target:   evaluation.Target,
		}
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.releaseReservationQuietly(ctx, reservation.ID, "order insert failed")
		return Order{}, s.mapRepositoryError(err)
	}

	s.recordCouponUsage(ctx, order, now)

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		s.logger(ctx, "order.cart_clear_failed", map[string]any{
			"orderID": order.ID,
			"userID":  userID,
			"error":   err.Error(),
		})
	}

	order = s.initiatePayment(ctx, order)

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: order.Status,
		ActorID:       userID,
		OccurredAt:    now,
		Metadata:      maps.Clone(order.Metadata),
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Customers only see their own orders; a foreign order reads as missing.
	actor := strings.TrimSpace(cmd.ActorID)
	if actor != "" && !hasStaffRole(cmd.ActorRoles) && order.UserID != actor {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, CancelOrderCommand{OrderID: orderID, ActorID: cmd.ActorID, Reason: cmd.Reason})
	}
	if target == domain.OrderStatusRefunded {
		return s.Refund(ctx, RefundOrderCommand{OrderID: orderID, ActorID: cmd.ActorID, Reason: cmd.Reason})
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	prev := order.Status
	if err := applyStatusTransition(&order, target, now); err != nil {
		return Order{}, err
	}

	switch target {
	case domain.OrderStatusShipped:
		if ref := strings.TrimSpace(cmd.TrackingRef); ref != "" {
			order.TrackingRef = ref
		}
		if order.TrackingRef == "" {
			order.TrackingRef = trackingRefPrefix + s.newID()
		}
	case domain.OrderStatusDelivered:
		s.settleDelivery(ctx, &order, now)
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}
	if order.TrackingRef != "" && target == domain.OrderStatusShipped {
		metadata["trackingRef"] = order.TrackingRef
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prev,
		CurrentStatus:  order.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

// Cancel stops an order that has not shipped. The stock hold is released once
// and a captured payment is refunded through the gateway.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}
	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.clock()
	prev := order.Status
	reason := strings.TrimSpace(cmd.Reason)

	if order.ReservationID != "" {
		if _, err := s.inventory.ReleaseReservation(ctx, ReservationCommand{
			ReservationID: order.ReservationID,
			Reason:        "order cancelled",
		}); err != nil && !errors.Is(err, ErrReservationInvalidState) {
			return Order{}, err
		}
	}

	if order.Payment.Status == domain.PaymentStatusPaid {
		s.refundPayment(ctx, &order, nil, reason, now)
	}

	order.Status = domain.OrderStatusCancelled
	order.CancelReason = reason
	order.CancelledAt = &now
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prev,
		CurrentStatus:  order.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

// Refund moves a delivered order to refunded, returning funds through the
// gateway. A nil amount refunds the full charge.
func (s *orderService) Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusDelivered {
		return Order{}, fmt.Errorf("%w: only delivered orders can be refunded", ErrOrderInvalidState)
	}
	if order.Payment.Status != domain.PaymentStatusPaid {
		return Order{}, fmt.Errorf("%w: payment was not captured", ErrOrderInvalidState)
	}
	if cmd.Amount != nil && (*cmd.Amount <= 0 || *cmd.Amount > order.Payment.Amount) {
		return Order{}, fmt.Errorf("%w: refund amount out of range", ErrOrderInvalidInput)
	}

	now := s.clock()
	prev := order.Status
	if !s.refundPayment(ctx, &order, cmd.Amount, strings.TrimSpace(cmd.Reason), now) {
		return Order{}, fmt.Errorf("%w: gateway refund failed", ErrOrderUnavailable)
	}

	order.Status = domain.OrderStatusRefunded
	order.RefundedAt = &now
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prev,
		CurrentStatus:  order.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata:       map[string]any{"refundID": order.Payment.RefundID},
	})

	return order, nil
}

// HandlePaymentEvent applies a verified gateway webhook to the matching
// order. Events are idempotent: replaying a settled outcome is a no-op.
func (s *orderService) HandlePaymentEvent(ctx context.Context, cmd PaymentEventCommand) (Order, error) {
	provider := strings.TrimSpace(cmd.Provider)
	intentID := strings.TrimSpace(cmd.IntentID)
	if provider == "" || intentID == "" {
		return Order{}, fmt.Errorf("%w: provider and intent id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByPaymentIntent(ctx, provider, intentID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	if cmd.OccurredAt.IsZero() {
		cmd.OccurredAt = now
	}
	prev := order.Status

	switch cmd.EventType {
	case PaymentEventSucceeded:
		if order.Payment.Status == domain.PaymentStatusPaid {
			return order, nil
		}
		order.Payment.Status = domain.PaymentStatusPaid
		order.Payment.TransactionID = strings.TrimSpace(cmd.TransactionID)
		order.Payment.FailureReason = ""
		order.Payment.UpdatedAt = &now
		if order.Status == domain.OrderStatusPending {
			if err := applyStatusTransition(&order, domain.OrderStatusConfirmed, now); err != nil {
				return Order{}, err
			}
		}
	case PaymentEventFailed:
		if order.Payment.Status == domain.PaymentStatusPaid {
			return Order{}, fmt.Errorf("%w: failure event for captured payment", ErrOrderConflict)
		}
		order.Payment.Status = domain.PaymentStatusFailed
		order.Payment.FailureReason = strings.TrimSpace(cmd.FailureReason)
		order.Payment.UpdatedAt = &now
		order.UpdatedAt = now
	case PaymentEventRefunded:
		if order.Payment.Status == domain.PaymentStatusRefunded {
			return order, nil
		}
		order.Payment.Status = domain.PaymentStatusRefunded
		order.Payment.TransactionID = strings.TrimSpace(cmd.TransactionID)
		order.Payment.UpdatedAt = &now
		if order.Status == domain.OrderStatusDelivered {
			if err := applyStatusTransition(&order, domain.OrderStatusRefunded, now); err != nil {
				return Order{}, err
			}
		} else {
			order.UpdatedAt = now
		}
	default:
		return Order{}, fmt.Errorf("%w: unknown payment event %q", ErrOrderInvalidInput, cmd.EventType)
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentUpdated,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prev,
		CurrentStatus:  order.Status,
		OccurredAt:     cmd.OccurredAt,
		Metadata: map[string]any{
			"provider":  provider,
			"eventType": string(cmd.EventType),
		},
	})

	return order, nil
}

func (s *orderService) resolveAddresses(ctx context.Context, userID string, cmd CreateOrderCommand) (*domain.Address, *domain.Address, error) {
	shippingID := strings.TrimSpace(cmd.ShippingAddressID)
	if shippingID == "" {
		return nil, nil, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	if s.addresses == nil {
		return nil, nil, ErrOrderUnavailable
	}

	shipping, err := s.addresses.Get(ctx, userID, shippingID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, nil, fmt.Errorf("%w: shipping address not found", ErrOrderInvalidInput)
		}
		return nil, nil, ErrOrderUnavailable
	}

	billing := shipping
	if billingID := strings.TrimSpace(cmd.BillingAddressID); billingID != "" && billingID != shippingID {
		billing, err = s.addresses.Get(ctx, userID, billingID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, nil, fmt.Errorf("%w: billing address not found", ErrOrderInvalidInput)
			}
			return nil, nil, ErrOrderUnavailable
		}
	}
	return &shipping, &billing, nil
}

// snapshotCartItems re-validates each cart line against the catalog and
// carries the captured price into the order snapshot.
func (s *orderService) snapshotCartItems(ctx context.Context, items []domain.CartItem) ([]OrderItem, error) {
	lines := make([]OrderItem, 0, len(items))
	for _, item := range items {
		product, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, fmt.Errorf("%w: product %s no longer exists", ErrOrderInvalidInput, item.ProductID)
			}
			return nil, ErrOrderUnavailable
		}
		if product.Status != domain.ProductStatusActive {
			return nil, fmt.Errorf("%w: product %s is not purchasable", ErrOrderInvalidInput, item.ProductID)
		}

		sku := product.SKU
		original := product.Price.Amount
		if item.VariantSKU != "" {
			variant := product.VariantBySKU(item.VariantSKU)
			if variant == nil {
				return nil, fmt.Errorf("%w: variant %s no longer exists", ErrOrderInvalidInput, item.VariantSKU)
			}
			sku = variant.SKU
			if variant.Price != nil {
				original = variant.Price.Amount
			}
		}

		lines = append(lines, OrderItem{
			ProductID:     item.ProductID,
			VariantSKU:    item.VariantSKU,
			SKU:           sku,
			Name:          item.Name,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			OriginalPrice: original,
		})
	}
	return lines, nil
}

// settleCoupon re-evaluates the cart's coupon right before conversion. An
// applied coupon that fails now aborts checkout instead of silently dropping
// the discount the customer saw.
func (s *orderService) settleCoupon(ctx context.Context, cart Cart, items []OrderItem, userID string, now time.Time) (*CouponEvaluation, error) {
	if cart.Coupon == nil || !cart.Coupon.Applied {
		return nil, nil
	}
	if s.evaluator == nil {
		return nil, ErrOrderUnavailable
	}

	baseline, err := s.pricer.Price(PriceOrderCommand{Items: items})
	if err != nil {
		return nil, ErrOrderUnavailable
	}
	evaluation, err := s.evaluator.Evaluate(ctx, EvaluateCouponCommand{
		Code:     cart.Coupon.Code,
		UserID:   userID,
		Subtotal: baseline.Totals.Subtotal,
		Shipping: baseline.Totals.Shipping,
		Now:      now,
	})
	if err != nil {
		return nil, ErrOrderUnavailable
	}
	if !evaluation.Eligible {
		return nil, fmt.Errorf("%w: %s", ErrOrderCouponRejected, evaluation.Reason)
	}
	return &evaluation, nil
}

func (s *orderService) recordCouponUsage(ctx context.Context, order domain.Order, now time.Time) {
	if order.Coupon == nil || s.coupons == nil {
		return
	}
	_, err := s.coupons.RecordUsage(ctx, domain.CouponUsage{
		ID:        s.newID(),
		Code:      order.Coupon.Code,
		UserID:    order.UserID,
		OrderID:   order.ID,
		Amount:    order.Coupon.Discount,
		CreatedAt: now,
	})
	if err != nil {
		s.logger(ctx, "order.coupon_usage_record_failed", map[string]any{
			"orderID": order.ID,
			"code":    order.Coupon.Code,
			"error":   err.Error(),
		})
	}
}

// initiatePayment asks the gateway for an intent. Cash on delivery skips the
// gateway entirely and settles at the door.
func (s *orderService) initiatePayment(ctx context.Context, order domain.Order) domain.Order {
	if strings.EqualFold(order.Payment.Method, paymentMethodCashOnDelivery) || s.payments == nil {
		return order
	}

	now := s.clock()
	result, err := s.payments.CreateIntent(ctx, PaymentIntentRequest{
		Provider:       order.Payment.Provider,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         order.Payment.Amount,
		Currency:       order.Payment.Currency,
		Method:         order.Payment.Method,
		IdempotencyKey: order.ID,
		Metadata: map[string]string{
			"orderNumber": order.OrderNumber,
		},
	})
	if err != nil {
		order.Payment.Status = domain.PaymentStatusFailed
		order.Payment.FailureReason = err.Error()
		order.Payment.UpdatedAt = &now
		s.logger(ctx, "order.payment_intent_failed", map[string]any{
			"orderID":  order.ID,
			"provider": order.Payment.Provider,
			"error":    err.Error(),
		})
	} else {
		order.Payment.Status = domain.PaymentStatusProcessing
		order.Payment.Provider = result.Provider
		order.Payment.IntentID = result.IntentID
		order.Payment.ClientSecret = result.ClientSecret
		order.Payment.UpdatedAt = &now
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "order.payment_state_persist_failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}
	return order
}

// settleDelivery commits the stock reservation and awards loyalty points when
// an order reaches the customer. Both are best effort once the status flip is
// decided; failures are logged for reconciliation.
func (s *orderService) settleDelivery(ctx context.Context, order *domain.Order, now time.Time) {
	if order.ReservationID != "" {
		if _, err := s.inventory.CommitReservation(ctx, ReservationCommand{
			ReservationID: order.ReservationID,
			Reason:        "order delivered",
		}); err != nil && !errors.Is(err, ErrReservationInvalidState) {
			s.logger(ctx, "order.reservation_commit_failed", map[string]any{
				"orderID":       order.ID,
				"reservationID": order.ReservationID,
				"error":         err.Error(),
			})
		}
	}

	// One loyalty point per whole currency unit of the grand total.
	points := order.Totals.Total / 100
	if points > 0 && s.users != nil {
		if _, err := s.users.AddLoyaltyPoints(ctx, order.UserID, points, now); err != nil {
			s.logger(ctx, "order.loyalty_award_failed", map[string]any{
				"orderID": order.ID,
				"userID":  order.UserID,
				"points":  points,
				"error":   err.Error(),
			})
		} else {
			order.LoyaltyAwarded = points
		}
	}
}

func (s *orderService) refundPayment(ctx context.Context, order *domain.Order, amount *int64, reason string, now time.Time) bool {
	if s.payments == nil {
		s.logger(ctx, "order.refund_skipped_no_gateway", map[string]any{"orderID": order.ID})
		return false
	}
	result, err := s.payments.Refund(ctx, PaymentRefundRequest{
		Provider: order.Payment.Provider,
		IntentID: order.Payment.IntentID,
		Amount:   amount,
		Currency: order.Payment.Currency,
		Reason:   reason,
	})
	if err != nil {
		s.logger(ctx, "order.refund_failed", map[string]any{
			"orderID":  order.ID,
			"provider": order.Payment.Provider,
			"error":    err.Error(),
		})
		return false
	}
	order.Payment.Status = domain.PaymentStatusRefunded
	order.Payment.RefundID = result.RefundID
	order.Payment.UpdatedAt = &now
	return true
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberSequence, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MC-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) releaseReservationQuietly(ctx context.Context, reservationID, reason string) {
	if reservationID == "" {
		return
	}
	if _, err := s.inventory.ReleaseReservation(ctx, ReservationCommand{
		ReservationID: reservationID,
		Reason:        reason,
	}); err != nil {
		s.logger(ctx, "order.reservation_release_failed", map[string]any{
			"reservationID": reservationID,
			"error":         err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"type":    event.Type,
			"orderID": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func applyStatusTransition(order *domain.Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if current == target {
		order.UpdatedAt = now
		return nil
	}
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}
	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusRefunded:
		if order.RefundedAt == nil {
			order.RefundedAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
	return nil
}

func canTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

func hasStaffRole(roles []string) bool {
	for _, role := range roles {
		switch strings.ToLower(strings.TrimSpace(role)) {
		case "admin", "staff":
			return true
		}
	}
	return false
}

func reservationLinesFromItems(items []OrderItem) []ReservationLine {
	lines := make([]ReservationLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, ReservationLine{
			ProductID:  item.ProductID,
			VariantSKU: item.VariantSKU,
			Quantity:   int64(item.Quantity),
		})
	}
	return lines
}

func cloneMetadata(values map[string]any) map[string]any {
	if len(values) == 0 {
		return map[string]any{}
	}
	return maps.Clone(values)
}
