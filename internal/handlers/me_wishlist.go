package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/repositories"
	"github.com/maplecart/api/internal/services"
)

func (h *MeHandlers) wishlistRoutes(r chi.Router) {
	r.Get("/", h.getWishlist)
	r.Put("/{productID}", h.addWishlistProduct)
	r.Delete("/{productID}", h.removeWishlistProduct)
	r.Post("/{productID}/move-to-cart", h.moveWishlistProductToCart)
}

func (h *MeHandlers) getWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wishlists == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	wishlist, err := h.wishlists.GetWishlist(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeWishlistError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wishlistResponse{Wishlist: buildWishlistPayload(wishlist)})
}

func (h *MeHandlers) addWishlistProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wishlists == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}

	wishlist, err := h.wishlists.AddProduct(ctx, services.WishlistCommand{
		UserID:    strings.TrimSpace(identity.UID),
		ProductID: productID,
	})
	if err != nil {
		writeWishlistError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wishlistResponse{Wishlist: buildWishlistPayload(wishlist)})
}

func (h *MeHandlers) removeWishlistProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wishlists == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}

	wishlist, err := h.wishlists.RemoveProduct(ctx, services.WishlistCommand{
		UserID:    strings.TrimSpace(identity.UID),
		ProductID: productID,
	})
	if err != nil {
		writeWishlistError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wishlistResponse{Wishlist: buildWishlistPayload(wishlist)})
}

func (h *MeHandlers) moveWishlistProductToCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wishlists == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "product id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.wishlists.MoveToCart(ctx, services.WishlistCommand{
		UserID:    strings.TrimSpace(identity.UID),
		ProductID: productID,
	})
	if err != nil {
		writeWishlistError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type wishlistResponse struct {
	Wishlist wishlistPayload `json:"wishlist"`
}

type wishlistPayload struct {
	UserID    string                `json:"user_id"`
	Items     []wishlistItemPayload `json:"items"`
	UpdatedAt string                `json:"updated_at,omitempty"`
}

type wishlistItemPayload struct {
	ProductID string `json:"product_id"`
	AddedAt   string `json:"added_at,omitempty"`
}

func buildWishlistPayload(wishlist services.Wishlist) wishlistPayload {
	payload := wishlistPayload{
		UserID:    strings.TrimSpace(wishlist.UserID),
		Items:     make([]wishlistItemPayload, 0, len(wishlist.Items)),
		UpdatedAt: formatTime(wishlist.UpdatedAt),
	}
	for _, item := range wishlist.Items {
		payload.Items = append(payload.Items, wishlistItemPayload{
			ProductID: strings.TrimSpace(item.ProductID),
			AddedAt:   formatTime(item.AddedAt),
		})
	}
	return payload
}

func writeWishlistError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrWishlistInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWishlistLimitExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_limit_exceeded", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWishlistNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "wishlist entry not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "product not found", http.StatusNotFound))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist repository unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("unexpected", "failed to process wishlist request", http.StatusInternalServerError))
	}
}
