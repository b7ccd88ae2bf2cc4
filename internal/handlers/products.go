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
	"github.com/maplecart/api/internal/repositories"
	"github.com/maplecart/api/internal/services"
)

const maxReviewBodySize = 32 * 1024

// ProductHandlers exposes the public catalog endpoints plus product scoped
// review reads and submissions.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
	reviews services.ReviewService
	limiter rateLimiter
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService, reviews services.ReviewService) *ProductHandlers {
	return &ProductHandlers{
		authn:   authn,
		catalog: catalog,
		reviews: reviews,
		limiter: newSimpleRateLimiter(reviewSubmitLimit, reviewSubmitWindow, nil),
	}
}

// Routes registers the /products endpoints. Reads are public; review
// submission requires authentication.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/slug/{slug}", h.getProductBySlug)
	r.Get("/{productID}", h.getProduct)
	r.Get("/{productID}/reviews", h.listProductReviews)

	r.Group(func(protected chi.Router) {
		if h.authn != nil {
			protected.Use(h.authn.RequireFirebaseAuth())
		}
		protected.Post("/{productID}/reviews", h.createReview)
	})
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pagination, err := parsePagination(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	// Public listings never surface drafts or archived products.
	filter := services.ProductListFilter{
		Status:     []domain.ProductStatus{domain.ProductStatusActive},
		Search:     strings.TrimSpace(query.Get("search")),
		Pagination: pagination,
	}
	if category := strings.TrimSpace(query.Get("category")); category != "" {
		filter.Category = &category
	}
	if sort := strings.TrimSpace(strings.ToLower(query.Get("sort"))); sort == string(domain.SortDesc) {
		filter.SortOrder = domain.SortDesc
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

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if product.Status != domain.ProductStatusActive {
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "product not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) getProductBySlug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if slug == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "slug is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProductBySlug(ctx, slug)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if product.Status != domain.ProductStatusActive {
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "product not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) listProductReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}

	pagination, err := parsePagination(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.reviews.ListByProduct(ctx, services.ListProductReviewsCommand{
		ProductID:  productID,
		Pagination: pagination,
	})
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

func (h *ProductHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many review submissions, slow down", http.StatusTooManyRequests))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxReviewBodySize)
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

	var req createReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Create(ctx, services.CreateReviewCommand{
		ProductID: productID,
		UserID:    strings.TrimSpace(identity.UID),
		OrderID:   strings.TrimSpace(req.OrderID),
		Rating:    req.Rating,
		Title:     strings.TrimSpace(req.Title),
		Body:      strings.TrimSpace(req.Body),
		Images:    req.Images,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, reviewResponse{Review: buildReviewPayload(review)})
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID          string               `json:"id"`
	SKU         string               `json:"sku"`
	Slug        string               `json:"slug"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Status      string               `json:"status"`
	Price       pricePayload         `json:"price"`
	Inventory   inventoryPayload     `json:"inventory"`
	Variants    []variantPayload     `json:"variants,omitempty"`
	Rating      ratingSummaryPayload `json:"rating"`
	Images      []string             `json:"images,omitempty"`
	Categories  []string             `json:"categories,omitempty"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at,omitempty"`
}

type pricePayload struct {
	Amount   int64        `json:"amount"`
	Currency string       `json:"currency"`
	Sale     *salePayload `json:"sale,omitempty"`
}

type salePayload struct {
	Type     string `json:"type"`
	Value    int64  `json:"value"`
	StartsAt string `json:"starts_at,omitempty"`
	EndsAt   string `json:"ends_at,omitempty"`
}

type inventoryPayload struct {
	Type            string `json:"type"`
	Available       int64  `json:"available"`
	AllowBackorders bool   `json:"allow_backorders"`
	LowStock        bool   `json:"low_stock"`
}

type variantPayload struct {
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	Price     *pricePayload    `json:"price,omitempty"`
	Inventory inventoryPayload `json:"inventory"`
}

type ratingSummaryPayload struct {
	Average     float64        `json:"average"`
	ReviewCount int            `json:"review_count"`
	Counts      map[string]int `json:"counts,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:          strings.TrimSpace(product.ID),
		SKU:         strings.TrimSpace(product.SKU),
		Slug:        strings.TrimSpace(product.Slug),
		Name:        product.Name,
		Description: product.Description,
		Status:      string(product.Status),
		Price:       buildPricePayload(product.Price),
		Inventory:   buildInventoryPayload(product.Inventory),
		Rating: ratingSummaryPayload{
			Average:     product.Rating.Average,
			ReviewCount: product.Rating.ReviewCount,
			Counts:      product.Rating.Counts,
		},
		Images:     product.Images,
		Categories: product.Categories,
		Metadata:   cloneMap(product.Metadata),
		CreatedAt:  formatTime(product.CreatedAt),
		UpdatedAt:  formatTime(product.UpdatedAt),
	}

	for _, variant := range product.Variants {
		entry := variantPayload{
			SKU:       strings.TrimSpace(variant.SKU),
			Name:      variant.Name,
			Inventory: buildInventoryPayload(variant.Inventory),
		}
		if variant.Price != nil {
			price := buildPricePayload(*variant.Price)
			entry.Price = &price
		}
		payload.Variants = append(payload.Variants, entry)
	}
	return payload
}

func buildPricePayload(price services.Price) pricePayload {
	payload := pricePayload{
		Amount:   price.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(price.Currency)),
	}
	if price.Sale != nil {
		payload.Sale = &salePayload{
			Type:     string(price.Sale.Type),
			Value:    price.Sale.Value,
			StartsAt: formatTime(pointerTime(price.Sale.StartsAt)),
			EndsAt:   formatTime(pointerTime(price.Sale.EndsAt)),
		}
	}
	return payload
}

func buildInventoryPayload(inv domain.Inventory) inventoryPayload {
	return inventoryPayload{
		Type:            string(inv.Type),
		Available:       inv.Available(),
		AllowBackorders: inv.AllowBackorders,
		LowStock:        inv.Type == domain.InventoryTypeFinite && inv.Available() <= inv.LowStockThreshold,
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog repository unavailable", http.StatusServiceUnavailable))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog repository unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("unexpected", "failed to process catalog request", http.StatusInternalServerError))
	}
}
