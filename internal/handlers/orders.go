package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/repositories"
	"github.com/maplecart/api/internal/services"
)

const (
	maxOrderBodySize       = 32 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:          {},
	domain.OrderStatusConfirmed:        {},
	domain.OrderStatusProcessing:       {},
	domain.OrderStatusReadyForShipment: {},
	domain.OrderStatusShipped:          {},
	domain.OrderStatusOutForDelivery:   {},
	domain.OrderStatusDelivered:        {},
	domain.OrderStatusRefunded:         {},
	domain.OrderStatusCancelled:        {},
}

// OrderHandlers exposes checkout and order lifecycle endpoints for
// authenticated users.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "request body is required", http.StatusBadRequest))
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateFromCart(ctx, services.CreateOrderCommand{
		UserID:            strings.TrimSpace(identity.UID),
		ShippingAddressID: strings.TrimSpace(req.ShippingAddressID),
		BillingAddressID:  strings.TrimSpace(req.BillingAddressID),
		ShippingMethod:    strings.TrimSpace(req.ShippingMethod),
		PaymentProvider:   strings.TrimSpace(req.PaymentProvider),
		PaymentMethod:     strings.TrimSpace(req.PaymentMethod),
		Notes:             strings.TrimSpace(req.Notes),
		Metadata:          cloneMap(req.Metadata),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	filter, err := parseOrderListFilter(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}
	filter.UserID = strings.TrimSpace(identity.UID)

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:    orderID,
		ActorID:    strings.TrimSpace(identity.UID),
		ActorRoles: slices.Clone(identity.Roles),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		}
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type createOrderRequest struct {
	ShippingAddressID string         `json:"shipping_address_id"`
	BillingAddressID  string         `json:"billing_address_id"`
	ShippingMethod    string         `json:"shipping_method"`
	PaymentProvider   string         `json:"payment_provider"`
	PaymentMethod     string         `json:"payment_method"`
	Notes             string         `json:"notes"`
	Metadata          map[string]any `json:"metadata"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	ItemCount   int    `json:"item_count"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	UserID          string              `json:"user_id"`
	Status          string              `json:"status"`
	Currency        string              `json:"currency"`
	Items           []orderItemPayload  `json:"items"`
	Totals          orderTotalsPayload  `json:"totals"`
	Coupon          *orderCouponPayload `json:"coupon,omitempty"`
	Payment         orderPaymentPayload `json:"payment"`
	ShippingAddress *addressPayload     `json:"shipping_address,omitempty"`
	BillingAddress  *addressPayload     `json:"billing_address,omitempty"`
	ShippingMethod  string              `json:"shipping_method,omitempty"`
	TrackingRef     string              `json:"tracking_ref,omitempty"`
	LoyaltyAwarded  int64               `json:"loyalty_awarded,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at,omitempty"`
	ConfirmedAt     string              `json:"confirmed_at,omitempty"`
	ShippedAt       string              `json:"shipped_at,omitempty"`
	DeliveredAt     string              `json:"delivered_at,omitempty"`
	CancelledAt     string              `json:"cancelled_at,omitempty"`
	RefundedAt      string              `json:"refunded_at,omitempty"`
	CancelReason    string              `json:"cancel_reason,omitempty"`
}

type orderItemPayload struct {
	ProductID     string `json:"product_id"`
	VariantSKU    string `json:"variant_sku,omitempty"`
	SKU           string `json:"sku,omitempty"`
	Name          string `json:"name,omitempty"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	OriginalPrice int64  `json:"original_price,omitempty"`
	Discount      int64  `json:"discount,omitempty"`
	Tax           int64  `json:"tax,omitempty"`
	Total         int64  `json:"total"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type orderCouponPayload struct {
	Code     string `json:"code"`
	Type     string `json:"type"`
	Value    int64  `json:"value"`
	Discount int64  `json:"discount"`
	Target   string `json:"target"`
}

type orderPaymentPayload struct {
	Method        string `json:"method,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Status        string `json:"status"`
	IntentID      string `json:"intent_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	RefundID      string `json:"refund_id,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failure_reason,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      strings.TrimSpace(string(order.Status)),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:       order.Totals.Total,
		ItemCount:   len(order.Items),
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      strings.TrimSpace(string(order.Status)),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		Payment: orderPaymentPayload{
			Method:        strings.TrimSpace(order.Payment.Method),
			Provider:      strings.TrimSpace(order.Payment.Provider),
			Status:        string(order.Payment.Status),
			IntentID:      strings.TrimSpace(order.Payment.IntentID),
			ClientSecret:  strings.TrimSpace(order.Payment.ClientSecret),
			TransactionID: strings.TrimSpace(order.Payment.TransactionID),
			RefundID:      strings.TrimSpace(order.Payment.RefundID),
			Amount:        order.Payment.Amount,
			Currency:      strings.ToUpper(strings.TrimSpace(order.Payment.Currency)),
			FailureReason: strings.TrimSpace(order.Payment.FailureReason),
			UpdatedAt:     formatTime(pointerTime(order.Payment.UpdatedAt)),
		},
		ShippingMethod: strings.TrimSpace(order.ShippingMethod),
		TrackingRef:    strings.TrimSpace(order.TrackingRef),
		LoyaltyAwarded: order.LoyaltyAwarded,
		Notes:          strings.TrimSpace(order.Notes),
		Metadata:       cloneMap(order.Metadata),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		ConfirmedAt:    formatTime(pointerTime(order.ConfirmedAt)),
		ShippedAt:      formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:    formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:    formatTime(pointerTime(order.CancelledAt)),
		RefundedAt:     formatTime(pointerTime(order.RefundedAt)),
		CancelReason:   strings.TrimSpace(order.CancelReason),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
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
		payload.Coupon = &orderCouponPayload{
			Code:     strings.ToUpper(strings.TrimSpace(order.Coupon.Code)),
			Type:     string(order.Coupon.Type),
			Value:    order.Coupon.Value,
			Discount: order.Coupon.Discount,
			Target:   string(order.Coupon.Target),
		}
	}

	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if order.BillingAddress != nil {
		addr := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &addr
	}
	return payload
}

func parseOrderListFilter(query map[string][]string) (services.OrderListFilter, error) {
	filter := services.OrderListFilter{}

	get := func(key string) string {
		values := query[key]
		if len(values) == 0 {
			return ""
		}
		return strings.TrimSpace(values[0])
	}

	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := parseOrderStatus(raw)
		if !ok {
			return filter, errors.New("status must be a valid order status")
		}
		filter.Status = append(filter.Status, domain.OrderStatus(status))
	}

	var dateRange domain.RangeQuery[time.Time]
	var hasDateRange bool
	if raw := get("created_after"); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			return filter, errors.New("created_after must be a valid RFC3339 timestamp")
		}
		dateRange.From = &ts
		hasDateRange = true
	}
	if raw := get("created_before"); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			return filter, errors.New("created_before must be a valid RFC3339 timestamp")
		}
		dateRange.To = &ts
		hasDateRange = true
	}
	if hasDateRange {
		filter.DateRange = dateRange
	}

	pagination, err := parsePagination(query)
	if err != nil {
		return filter, err
	}
	filter.Pagination = pagination
	return filter, nil
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return services.OrderStatus(status), true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderCouponRejected):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order repository unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("unexpected", "failed to process order request", http.StatusInternalServerError))
	}
}
