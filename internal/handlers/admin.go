package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/services"
)

const maxAdminBodySize = 256 * 1024

var validReviewModerationStatuses = map[domain.ReviewStatus]struct{}{
	domain.ReviewStatusApproved: {},
	domain.ReviewStatusRejected: {},
	domain.ReviewStatusFlagged:  {},
}

// AdminHandlers exposes the staff-only management endpoints: catalog and
// coupon writes, order lifecycle transitions, review moderation, and low
// stock reporting.
type AdminHandlers struct {
	authn     *auth.Authenticator
	catalog   services.CatalogService
	coupons   services.CouponService
	orders    services.OrderService
	reviews   services.ReviewService
	inventory services.InventoryService
}

// AdminHandlersDeps bundles the services the admin surface depends on.
type AdminHandlersDeps struct {
	Authn     *auth.Authenticator
	Catalog   services.CatalogService
	Coupons   services.CouponService
	Orders    services.OrderService
	Reviews   services.ReviewService
	Inventory services.InventoryService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:     deps.Authn,
		catalog:   deps.Catalog,
		coupons:   deps.Coupons,
		orders:    deps.Orders,
		reviews:   deps.Reviews,
		inventory: deps.Inventory,
	}
}

// Routes registers the /admin endpoints. Every route requires a staff or
// admin role claim.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}

	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Put("/products/{productID}", h.updateProduct)
	r.Delete("/products/{productID}", h.archiveProduct)
	r.Get("/products/{productID}/reviews", h.listProductReviews)

	r.Get("/coupons", h.listCoupons)
	r.Post("/coupons", h.createCoupon)
	r.Get("/coupons/{code}", h.getCoupon)
	r.Put("/coupons/{code}", h.updateCoupon)
	r.Delete("/coupons/{code}", h.deleteCoupon)

	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}/status", h.transitionOrder)
	r.Post("/orders/{orderID}/refund", h.refundOrder)

	r.Post("/reviews/{reviewID}/moderate", h.moderateReview)

	r.Get("/inventory/low-stock", h.listLowStock)
}

func (h *AdminHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// Catalog ---------------------------------------------------------------------

func (h *AdminHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	query := r.URL.Query()
	pagination, err := parsePagination(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ProductListFilter{
		Search:     strings.TrimSpace(query.Get("search")),
		Pagination: pagination,
	}
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.ProductStatus(strings.ToLower(raw))
		switch status {
		case domain.ProductStatusActive, domain.ProductStatusDraft, domain.ProductStatusArchived:
			filter.Status = append(filter.Status, status)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "status must be a valid product status", http.StatusBadRequest))
			return
		}
	}
	if category := strings.TrimSpace(query.Get("category")); category != "" {
		filter.Category = &category
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, "")
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}
	h.upsertProduct(w, r, productID)
}

func (h *AdminHandlers) upsertProduct(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeAdminBodyError(ctx, w, err)
		return
	}

	var req adminProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	product, err := req.toProduct(productID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpsertProductCommand{
		Product: product,
		ActorID: strings.TrimSpace(identity.UID),
	}

	var saved services.Product
	if productID == "" {
		saved, err = h.catalog.CreateProduct(ctx, cmd)
	} else {
		saved, err = h.catalog.UpdateProduct(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if productID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, productResponse{Product: buildProductPayload(saved)})
}

func (h *AdminHandlers) archiveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.ArchiveProduct(ctx, services.ArchiveProductCommand{
		ProductID: productID,
		ActorID:   strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) listProductReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	pagination, err := parsePagination(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.ListProductReviewsCommand{
		ProductID:  productID,
		IncludeAll: true,
		Pagination: pagination,
	}
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.ReviewStatus(strings.ToLower(raw))
		switch status {
		case domain.ReviewStatusPending, domain.ReviewStatusApproved, domain.ReviewStatusRejected, domain.ReviewStatusFlagged:
			cmd.Status = append(cmd.Status, status)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "status must be a valid review status", http.StatusBadRequest))
			return
		}
	}

	page, err := h.reviews.ListByProduct(ctx, cmd)
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	items := make([]reviewPayload, 0, len(page.Items))
	for _, review := range page.Items {
		items = append(items, buildReviewPayload(review))
	}
	writeJSONResponse(w, http.StatusOK, reviewListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

// Coupons ---------------------------------------------------------------------

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	query := r.URL.Query()
	pagination, err := parsePagination(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.coupons.ListCoupons(ctx, services.CouponListFilter{
		ActiveOnly: strings.EqualFold(strings.TrimSpace(query.Get("active_only")), "true"),
		Pagination: pagination,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	items := make([]couponPayload, 0, len(page.Items))
	for _, coupon := range page.Items {
		items = append(items, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, couponListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "coupon code is required", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.GetCoupon(ctx, code)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	h.upsertCoupon(w, r, "")
}

func (h *AdminHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("validation_error", "coupon code is required", http.StatusBadRequest))
		return
	}
	h.upsertCoupon(w, r, code)
}

func (h *AdminHandlers) upsertCoupon(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeAdminBodyError(ctx, w, err)
		return
	}

	var req adminCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	coupon, err := req.toCoupon(code)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpsertCouponCommand{
		Coupon:  coupon,
		ActorID: strings.TrimSpace(identity.UID),
	}

	var saved services.Coupon
	if code == "" {
		saved, err = h.coupons.CreateCoupon(ctx, cmd)
	} else {
		saved, err = h.coupons.UpdateCoupon(ctx, cmd)
	}
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if code == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, couponResponse{Coupon: buildCouponPayload(saved)})
}

func (h *AdminHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "coupon code is required", http.StatusBadRequest))
		return
	}

	if err := h.coupons.DeleteCoupon(ctx, code); err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	httpx.WriteNoContent(ctx, w)
}

// Orders ----------------------------------------------------------------------

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	query := r.URL.Query()
	filter, err := parseOrderListFilter(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}
	// Staff listings may scope to a specific customer.
	filter.UserID = strings.TrimSpace(query.Get("user_id"))

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

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeAdminBodyError(ctx, w, err)
		return
	}

	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	status, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderTransitionCommand{
		OrderID:      orderID,
		TargetStatus: status,
		ActorID:      strings.TrimSpace(identity.UID),
		Reason:       strings.TrimSpace(req.Reason),
		TrackingRef:  strings.TrimSpace(req.TrackingRef),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order id is required", http.StatusBadRequest))
		return
	}

	var req refundOrderRequest
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeAdminBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Refund(ctx, services.RefundOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		Amount:  req.Amount,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderUnavailable) {
			httpx.WriteError(ctx, w, httpx.NewError("payment_error", "refund could not be processed by the payment gateway", http.StatusBadGateway))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// Reviews ---------------------------------------------------------------------

func (h *AdminHandlers) moderateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "review id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeAdminBodyError(ctx, w, err)
		return
	}

	var req moderateReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	status := domain.ReviewStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if _, ok := validReviewModerationStatuses[status]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "status must be approved, rejected, or flagged", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Moderate(ctx, services.ModerateReviewCommand{
		ReviewID: reviewID,
		ActorID:  strings.TrimSpace(identity.UID),
		Status:   status,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewResponse{Review: buildReviewPayload(review)})
}

// Inventory -------------------------------------------------------------------

func (h *AdminHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}

	pagination, err := parsePagination(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListLowStock(ctx, services.LowStockFilter{Pagination: pagination})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

// Payloads and parsing --------------------------------------------------------

type adminProductRequest struct {
	SKU         string                 `json:"sku"`
	Slug        string                 `json:"slug"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Status      string                 `json:"status"`
	Price       adminPriceRequest      `json:"price"`
	Inventory   adminInventoryRequest  `json:"inventory"`
	Variants    []adminVariantRequest  `json:"variants"`
	Images      []string               `json:"images"`
	Categories  []string               `json:"categories"`
	Metadata    map[string]any         `json:"metadata"`
}

type adminPriceRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Sale     *adminSaleRequest `json:"sale"`
}

type adminSaleRequest struct {
	Type     string `json:"type"`
	Value    int64  `json:"value"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type adminInventoryRequest struct {
	Type              string `json:"type"`
	Quantity          int64  `json:"quantity"`
	LowStockThreshold int64  `json:"low_stock_threshold"`
	AllowBackorders   bool   `json:"allow_backorders"`
}

type adminVariantRequest struct {
	SKU       string                `json:"sku"`
	Name      string                `json:"name"`
	Price     *adminPriceRequest    `json:"price"`
	Inventory adminInventoryRequest `json:"inventory"`
}

func (req adminProductRequest) toProduct(productID string) (domain.Product, error) {
	status := domain.ProductStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		status = domain.ProductStatusDraft
	}
	switch status {
	case domain.ProductStatusActive, domain.ProductStatusDraft, domain.ProductStatusArchived:
	default:
		return domain.Product{}, errors.New("status must be a valid product status")
	}

	price, err := req.Price.toPrice()
	if err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:          strings.TrimSpace(productID),
		SKU:         strings.TrimSpace(req.SKU),
		Slug:        strings.TrimSpace(req.Slug),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Status:      status,
		Price:       price,
		Inventory:   req.Inventory.toInventory(),
		Images:      req.Images,
		Categories:  req.Categories,
		Metadata:    cloneMap(req.Metadata),
	}

	for _, variant := range req.Variants {
		entry := domain.Variant{
			SKU:       strings.TrimSpace(variant.SKU),
			Name:      strings.TrimSpace(variant.Name),
			Inventory: variant.Inventory.toInventory(),
		}
		if variant.Price != nil {
			variantPrice, err := variant.Price.toPrice()
			if err != nil {
				return domain.Product{}, err
			}
			entry.Price = &variantPrice
		}
		product.Variants = append(product.Variants, entry)
	}
	return product, nil
}

func (req adminPriceRequest) toPrice() (domain.Price, error) {
	price := domain.Price{
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	if req.Sale != nil {
		saleType := domain.SaleType(strings.ToLower(strings.TrimSpace(req.Sale.Type)))
		switch saleType {
		case domain.SaleTypePercentage, domain.SaleTypeFixed:
		default:
			return domain.Price{}, errors.New("sale type must be percentage or fixed")
		}
		sale := &domain.Sale{Type: saleType, Value: req.Sale.Value}
		if raw := strings.TrimSpace(req.Sale.StartsAt); raw != "" {
			ts, err := parseRFC3339(raw)
			if err != nil {
				return domain.Price{}, errors.New("sale starts_at must be a valid RFC3339 timestamp")
			}
			sale.StartsAt = &ts
		}
		if raw := strings.TrimSpace(req.Sale.EndsAt); raw != "" {
			ts, err := parseRFC3339(raw)
			if err != nil {
				return domain.Price{}, errors.New("sale ends_at must be a valid RFC3339 timestamp")
			}
			sale.EndsAt = &ts
		}
		price.Sale = sale
	}
	return price, nil
}

func (req adminInventoryRequest) toInventory() domain.Inventory {
	invType := domain.InventoryType(strings.ToLower(strings.TrimSpace(req.Type)))
	if invType != domain.InventoryTypeInfinite {
		invType = domain.InventoryTypeFinite
	}
	return domain.Inventory{
		Type:              invType,
		Quantity:          req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
		AllowBackorders:   req.AllowBackorders,
	}
}

type adminCouponRequest struct {
	Code              string `json:"code"`
	Description       string `json:"description"`
	Type              string `json:"type"`
	Value             int64  `json:"value"`
	MaxDiscountAmount *int64 `json:"max_discount_amount"`
	MinimumPurchase   int64  `json:"minimum_purchase"`
	UsageLimit        *int   `json:"usage_limit"`
	UserUsageLimit    *int   `json:"user_usage_limit"`
	IsActive          *bool  `json:"is_active"`
	StartsAt          string `json:"starts_at"`
	EndsAt            string `json:"ends_at"`
}

func (req adminCouponRequest) toCoupon(code string) (domain.Coupon, error) {
	if code == "" {
		code = req.Code
	}
	couponType := domain.CouponType(strings.ToLower(strings.TrimSpace(req.Type)))
	switch couponType {
	case domain.CouponTypePercentage, domain.CouponTypeFixed, domain.CouponTypeShipping:
	default:
		return domain.Coupon{}, errors.New("type must be percentage, fixed, or shipping")
	}

	coupon := domain.Coupon{
		Code:              strings.ToUpper(strings.TrimSpace(code)),
		Description:       strings.TrimSpace(req.Description),
		Type:              couponType,
		Value:             req.Value,
		MaxDiscountAmount: req.MaxDiscountAmount,
		MinimumPurchase:   req.MinimumPurchase,
		UsageLimit:        req.UsageLimit,
		UserUsageLimit:    req.UserUsageLimit,
		IsActive:          true,
	}
	if req.IsActive != nil {
		coupon.IsActive = *req.IsActive
	}
	if raw := strings.TrimSpace(req.StartsAt); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			return domain.Coupon{}, errors.New("starts_at must be a valid RFC3339 timestamp")
		}
		coupon.StartsAt = &ts
	}
	if raw := strings.TrimSpace(req.EndsAt); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			return domain.Coupon{}, errors.New("ends_at must be a valid RFC3339 timestamp")
		}
		coupon.EndsAt = &ts
	}
	return coupon, nil
}

type transitionOrderRequest struct {
	Status      string `json:"status"`
	Reason      string `json:"reason"`
	TrackingRef string `json:"tracking_ref"`
}

type refundOrderRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

type moderateReviewRequest struct {
	Status string `json:"status"`
}

type couponListResponse struct {
	Items         []couponPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

type couponPayload struct {
	Code              string `json:"code"`
	Description       string `json:"description,omitempty"`
	Type              string `json:"type"`
	Value             int64  `json:"value"`
	MaxDiscountAmount *int64 `json:"max_discount_amount,omitempty"`
	MinimumPurchase   int64  `json:"minimum_purchase"`
	UsageLimit        *int   `json:"usage_limit,omitempty"`
	UserUsageLimit    *int   `json:"user_usage_limit,omitempty"`
	UsedCount         int    `json:"used_count"`
	IsActive          bool   `json:"is_active"`
	StartsAt          string `json:"starts_at,omitempty"`
	EndsAt            string `json:"ends_at,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

func buildCouponPayload(coupon services.Coupon) couponPayload {
	return couponPayload{
		Code:              strings.ToUpper(strings.TrimSpace(coupon.Code)),
		Description:       coupon.Description,
		Type:              string(coupon.Type),
		Value:             coupon.Value,
		MaxDiscountAmount: coupon.MaxDiscountAmount,
		MinimumPurchase:   coupon.MinimumPurchase,
		UsageLimit:        coupon.UsageLimit,
		UserUsageLimit:    coupon.UserUsageLimit,
		UsedCount:         coupon.UsedCount,
		IsActive:          coupon.IsActive,
		StartsAt:          formatTime(pointerTime(coupon.StartsAt)),
		EndsAt:            formatTime(pointerTime(coupon.EndsAt)),
		CreatedAt:         formatTime(coupon.CreatedAt),
		UpdatedAt:         formatTime(coupon.UpdatedAt),
	}
}

func writeAdminBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "request body is required", http.StatusBadRequest))
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	}
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCouponInvalidCode), errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponExists):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", "coupon already exists", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("unexpected", "failed to process coupon request", http.StatusInternalServerError))
	}
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReservationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "reservation not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReservationInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("unexpected", "failed to process inventory request", http.StatusInternalServerError))
	}
}
