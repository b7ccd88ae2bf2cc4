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

	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/repositories"
	"github.com/maplecart/api/internal/services"
)

const (
	reviewSubmitLimit  = 5
	reviewSubmitWindow = time.Minute
	maxVoteBodySize    = 4 * 1024
)

// ReviewHandlers exposes review reads, helpfulness votes, and deletion for
// authenticated users.
type ReviewHandlers struct {
	authn   *auth.Authenticator
	reviews services.ReviewService
}

// NewReviewHandlers constructs a new ReviewHandlers instance.
func NewReviewHandlers(authn *auth.Authenticator, reviews services.ReviewService) *ReviewHandlers {
	return &ReviewHandlers{
		authn:   authn,
		reviews: reviews,
	}
}

// Routes registers the /reviews endpoints.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/mine", h.listMyReviews)
	r.Get("/{reviewID}", h.getReview)
	r.Post("/{reviewID}/vote", h.voteReview)
	r.Post("/{reviewID}/images", h.createImageUploadURL)
	r.Delete("/{reviewID}", h.deleteReview)
}

func (h *ReviewHandlers) listMyReviews(w http.ResponseWriter, r *http.Request) {
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

	pagination, err := parsePagination(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.reviews.ListByUser(ctx, services.ListUserReviewsCommand{
		UserID:     strings.TrimSpace(identity.UID),
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

func (h *ReviewHandlers) getReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "review id is required", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Get(ctx, reviewID)
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewResponse{Review: buildReviewPayload(review)})
}

func (h *ReviewHandlers) voteReview(w http.ResponseWriter, r *http.Request) {
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

	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "review id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxVoteBodySize)
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

	var req voteReviewRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Helpful == nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "helpful must be a boolean", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Vote(ctx, services.VoteReviewCommand{
		ReviewID: reviewID,
		UserID:   strings.TrimSpace(identity.UID),
		Helpful:  *req.Helpful,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewResponse{Review: buildReviewPayload(review)})
}

func (h *ReviewHandlers) createImageUploadURL(w http.ResponseWriter, r *http.Request) {
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

	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "review id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxVoteBodySize)
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

	var req reviewImageUploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid request body", http.StatusBadRequest))
		return
	}

	upload, err := h.reviews.CreateImageUploadURL(ctx, services.ReviewImageUploadCommand{
		ReviewID:    reviewID,
		UserID:      strings.TrimSpace(identity.UID),
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
		ContentMD5:  strings.TrimSpace(req.ContentMD5),
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, reviewImageUploadResponse{
		UploadURL:  upload.UploadURL,
		Method:     upload.Method,
		ObjectPath: upload.ObjectPath,
		ExpiresAt:  formatTime(upload.ExpiresAt),
		Headers:    upload.Headers,
	})
}

func (h *ReviewHandlers) deleteReview(w http.ResponseWriter, r *http.Request) {
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

	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "review id is required", http.StatusBadRequest))
		return
	}

	err := h.reviews.Delete(ctx, services.DeleteReviewCommand{
		ReviewID:   reviewID,
		ActorID:    strings.TrimSpace(identity.UID),
		ActorRoles: slices.Clone(identity.Roles),
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	httpx.WriteNoContent(ctx, w)
}

type createReviewRequest struct {
	OrderID string   `json:"order_id"`
	Rating  int      `json:"rating"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Images  []string `json:"images"`
}

type voteReviewRequest struct {
	Helpful *bool `json:"helpful"`
}

type reviewImageUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	ContentMD5  string `json:"content_md5"`
}

type reviewImageUploadResponse struct {
	UploadURL  string            `json:"upload_url"`
	Method     string            `json:"method"`
	ObjectPath string            `json:"object_path"`
	ExpiresAt  string            `json:"expires_at"`
	Headers    map[string]string `json:"headers,omitempty"`
}

type reviewListResponse struct {
	Items         []reviewPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type reviewResponse struct {
	Review reviewPayload `json:"review"`
}

type reviewPayload struct {
	ID          string   `json:"id"`
	ProductID   string   `json:"product_id"`
	UserID      string   `json:"user_id"`
	OrderID     string   `json:"order_id,omitempty"`
	Rating      int      `json:"rating"`
	Title       string   `json:"title,omitempty"`
	Body        string   `json:"body,omitempty"`
	Images      []string `json:"images,omitempty"`
	Status      string   `json:"status"`
	Helpful     int      `json:"helpful"`
	Unhelpful   int      `json:"unhelpful"`
	ModeratedBy string   `json:"moderated_by,omitempty"`
	ModeratedAt string   `json:"moderated_at,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

func buildReviewPayload(review services.Review) reviewPayload {
	return reviewPayload{
		ID:          strings.TrimSpace(review.ID),
		ProductID:   strings.TrimSpace(review.ProductID),
		UserID:      strings.TrimSpace(review.UserID),
		OrderID:     strings.TrimSpace(review.OrderID),
		Rating:      review.Rating,
		Title:       review.Title,
		Body:        review.Body,
		Images:      review.Images,
		Status:      string(review.Status),
		Helpful:     review.Helpful,
		Unhelpful:   review.Unhelpful,
		ModeratedBy: strings.TrimSpace(review.ModeratedBy),
		ModeratedAt: formatTime(pointerTime(review.ModeratedAt)),
		CreatedAt:   formatTime(review.CreatedAt),
		UpdatedAt:   formatTime(review.UpdatedAt),
	}
}

func writeReviewError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "insufficient permissions for review", http.StatusForbidden))
	case errors.Is(err, services.ErrReviewConflict):
		httpx.WriteError(ctx, w, httpx.NewError("review_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReviewInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "review not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReviewUploadsDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("uploads_unavailable", "review image uploads are not configured", http.StatusServiceUnavailable))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review repository unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("unexpected", "failed to process review request", http.StatusInternalServerError))
	}
}
