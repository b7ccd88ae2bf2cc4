package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/platform/storage"
	"github.com/maplecart/api/internal/repositories"
)

const (
	reviewIDPrefix       = "rev_"
	reviewImageMaxSize   = 10 << 20
	reviewImageUploadTTL = 15 * time.Minute
)

// reviewImageContentTypes lists the media types accepted for review images.
var reviewImageContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewUnauthorized indicates the actor is not allowed to touch the review.
	ErrReviewUnauthorized = errors.New("review: unauthorized")
	// ErrReviewConflict signals duplicate submissions or conflicting updates.
	ErrReviewConflict = errors.New("review: conflict")
	// ErrReviewInvalidState is returned when an invalid moderation transition is attempted.
	ErrReviewInvalidState = errors.New("review: invalid state transition")
	// ErrReviewUploadsDisabled indicates no upload signer or bucket is configured.
	ErrReviewUploadsDisabled = errors.New("review: image uploads disabled")
)

// reviewTextPolicy strips every HTML element from user supplied text.
var reviewTextPolicy = bluemonday.StrictPolicy()

// reviewModerationTransitions lists the moderation statuses reachable from
// each current status. Rejected is terminal.
var reviewModerationTransitions = map[domain.ReviewStatus][]domain.ReviewStatus{
	domain.ReviewStatusPending:  {domain.ReviewStatusApproved, domain.ReviewStatusRejected, domain.ReviewStatusFlagged},
	domain.ReviewStatusFlagged:  {domain.ReviewStatusApproved, domain.ReviewStatusRejected},
	domain.ReviewStatusApproved: {domain.ReviewStatusFlagged, domain.ReviewStatusRejected},
}

// ReviewUploadSigner issues signed URLs for direct-to-bucket image uploads.
// *storage.Client satisfies it.
type ReviewUploadSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
// Uploads and UploadBucket are optional; without them CreateImageUploadURL
// reports ErrReviewUploadsDisabled.
type ReviewServiceDeps struct {
	Reviews      repositories.ReviewRepository
	Orders       repositories.OrderRepository
	Products     repositories.ProductRepository
	Uploads      ReviewUploadSigner
	UploadBucket string
	Clock        func() time.Time
	IDGenerator  func() string
	Sanitizer    func(string) string
	Logger       func(context.Context, string, map[string]any)
}

type reviewService struct {
	reviews      repositories.ReviewRepository
	orders       repositories.OrderRepository
	products     repositories.ProductRepository
	uploads      ReviewUploadSigner
	uploadBucket string
	now          func() time.Time
	newID        func() string
	sanitize     func(string) string
	logger       func(context.Context, string, map[string]any)
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("review service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = sanitizeReviewText
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reviewService{
		reviews:      deps.Reviews,
		orders:       deps.Orders,
		products:     deps.Products,
		uploads:      deps.Uploads,
		uploadBucket: strings.TrimSpace(deps.UploadBucket),
		now:          func() time.Time { return clock().UTC() },
		newID:        idGen,
		sanitize:     sanitize,
		logger:       logger,
	}, nil
}

// Create stores a sanitised review in pending state. When the command names an
// order, the order must belong to the reviewer, be delivered, and contain the
// reviewed product.
func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	title := s.sanitize(cmd.Title)
	body := s.sanitize(cmd.Body)
	if err := validateCreateReviewCommand(cmd, body); err != nil {
		return Review{}, err
	}

	if _, err := s.products.FindByID(ctx, strings.TrimSpace(cmd.ProductID)); err != nil {
		if isRepoNotFound(err) {
			return Review{}, fmt.Errorf("%w: product not found", ErrReviewInvalidInput)
		}
		return Review{}, err
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID != "" {
		if err := s.verifyPurchase(ctx, orderID, cmd.UserID, cmd.ProductID); err != nil {
			return Review{}, err
		}
	}

	now := s.now()
	review := domain.Review{
		ID:        reviewIDPrefix + s.newID(),
		ProductID: strings.TrimSpace(cmd.ProductID),
		UserID:    strings.TrimSpace(cmd.UserID),
		OrderID:   orderID,
		Rating:    cmd.Rating,
		Title:     title,
		Body:      body,
		Images:    normalizeTags(cmd.Images),
		Status:    domain.ReviewStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.reviews.Insert(ctx, review)
	if err != nil {
		return Review{}, translateReviewRepoError(err)
	}

	s.logger(ctx, "review.created", map[string]any{
		"reviewId":  created.ID,
		"productId": created.ProductID,
	})
	return created, nil
}

func (s *reviewService) Get(ctx context.Context, reviewID string) (Review, error) {
	id := strings.TrimSpace(reviewID)
	if id == "" {
		return Review{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	review, err := s.reviews.FindByID(ctx, id)
	if err != nil {
		return Review{}, translateReviewRepoError(err)
	}
	return review, nil
}

// Delete removes a review. Owners may delete their own reviews; staff may
// delete any. Deleting an approved review recomputes the product rating.
func (s *reviewService) Delete(ctx context.Context, cmd DeleteReviewCommand) error {
	id := strings.TrimSpace(cmd.ReviewID)
	if id == "" {
		return fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}

	review, err := s.reviews.FindByID(ctx, id)
	if err != nil {
		return translateReviewRepoError(err)
	}
	if !hasStaffRole(cmd.ActorRoles) && review.UserID != strings.TrimSpace(cmd.ActorID) {
		return ErrReviewUnauthorized
	}

	if err := s.reviews.Delete(ctx, id); err != nil {
		return translateReviewRepoError(err)
	}

	if review.Status == domain.ReviewStatusApproved {
		s.recomputeProductRating(ctx, review.ProductID)
	}
	return nil
}

func (s *reviewService) ListByProduct(ctx context.Context, cmd ListProductReviewsCommand) (domain.CursorPage[Review], error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}

	filter := repositories.ReviewListFilter{
		Status:     cmd.Status,
		Pagination: cmd.Pagination,
	}
	if !cmd.IncludeAll {
		// Public listings only expose approved reviews regardless of the filter.
		filter.Status = []domain.ReviewStatus{domain.ReviewStatusApproved}
	}

	page, err := s.reviews.ListByProduct(ctx, productID, filter)
	if err != nil {
		return domain.CursorPage[Review]{}, translateReviewRepoError(err)
	}
	return page, nil
}

func (s *reviewService) ListByUser(ctx context.Context, cmd ListUserReviewsCommand) (domain.CursorPage[Review], error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByUser(ctx, userID, cmd.Pagination)
	if err != nil {
		return domain.CursorPage[Review]{}, translateReviewRepoError(err)
	}
	return page, nil
}

// Moderate moves a review between moderation statuses. Approving a review, or
// moving an approved review out of the approved state, recomputes the product
// rating aggregate.
func (s *reviewService) Moderate(ctx context.Context, cmd ModerateReviewCommand) (Review, error) {
	id := strings.TrimSpace(cmd.ReviewID)
	if id == "" {
		return Review{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		return Review{}, fmt.Errorf("%w: actor id is required", ErrReviewInvalidInput)
	}
	switch cmd.Status {
	case domain.ReviewStatusApproved, domain.ReviewStatusRejected, domain.ReviewStatusFlagged:
	default:
		return Review{}, fmt.Errorf("%w: unsupported moderation status %q", ErrReviewInvalidInput, cmd.Status)
	}

	review, err := s.reviews.FindByID(ctx, id)
	if err != nil {
		return Review{}, translateReviewRepoError(err)
	}

	if review.Status == cmd.Status {
		return review, nil
	}
	if !canModerate(review.Status, cmd.Status) {
		return Review{}, fmt.Errorf("%w: cannot transition from %s to %s", ErrReviewInvalidState, review.Status, cmd.Status)
	}

	updated, err := s.reviews.UpdateStatus(ctx, id, cmd.Status, repositories.ReviewModerationUpdate{
		ModeratedBy: strings.TrimSpace(cmd.ActorID),
		ModeratedAt: s.now(),
	})
	if err != nil {
		return Review{}, translateReviewRepoError(err)
	}

	if review.Status == domain.ReviewStatusApproved || cmd.Status == domain.ReviewStatusApproved {
		s.recomputeProductRating(ctx, updated.ProductID)
	}
	return updated, nil
}

func (s *reviewService) Vote(ctx context.Context, cmd VoteReviewCommand) (Review, error) {
	id := strings.TrimSpace(cmd.ReviewID)
	if id == "" {
		return Review{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	if strings.TrimSpace(cmd.UserID) == "" {
		return Review{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}

	helpfulDelta, unhelpfulDelta := 0, 1
	if cmd.Helpful {
		helpfulDelta, unhelpfulDelta = 1, 0
	}
	updated, err := s.reviews.AdjustVotes(ctx, id, helpfulDelta, unhelpfulDelta)
	if err != nil {
		return Review{}, translateReviewRepoError(err)
	}
	return updated, nil
}

// CreateImageUploadURL issues a short-lived signed URL the review author can
// PUT an image to. The object lands under the review's prefix in the
// configured bucket; the client attaches the returned path to the review.
func (s *reviewService) CreateImageUploadURL(ctx context.Context, cmd ReviewImageUploadCommand) (ReviewImageUpload, error) {
	if s.uploads == nil || s.uploadBucket == "" {
		return ReviewImageUpload{}, ErrReviewUploadsDisabled
	}

	id := strings.TrimSpace(cmd.ReviewID)
	if id == "" {
		return ReviewImageUpload{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return ReviewImageUpload{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if !reviewImageTypeAllowed(contentType) {
		return ReviewImageUpload{}, fmt.Errorf("%w: unsupported content type %q", ErrReviewInvalidInput, cmd.ContentType)
	}

	review, err := s.reviews.FindByID(ctx, id)
	if err != nil {
		return ReviewImageUpload{}, translateReviewRepoError(err)
	}
	if review.UserID != userID {
		return ReviewImageUpload{}, ErrReviewUnauthorized
	}

	object, err := storage.BuildObjectPath(storage.PurposeReviewImage, storage.PathParams{
		ReviewID: review.ID,
		ImageID:  s.newID(),
		FileName: strings.TrimSpace(cmd.FileName),
	})
	if err != nil {
		return ReviewImageUpload{}, fmt.Errorf("%w: %v", ErrReviewInvalidInput, err)
	}

	signed, err := s.uploads.SignedURL(ctx, s.uploadBucket, object, storage.SignedURLOptions{
		Upload: &storage.UploadOptions{
			ContentType:         contentType,
			ContentMD5:          strings.TrimSpace(cmd.ContentMD5),
			AllowedContentTypes: reviewImageContentTypes,
			MaxSize:             reviewImageMaxSize,
			ExpiresIn:           reviewImageUploadTTL,
		},
	})
	if err != nil {
		return ReviewImageUpload{}, err
	}

	s.logger(ctx, "review.image_upload_url_issued", map[string]any{
		"reviewId": review.ID,
		"object":   object,
	})
	return ReviewImageUpload{
		UploadURL:  signed.URL,
		Method:     signed.Method,
		ObjectPath: object,
		ExpiresAt:  signed.ExpiresAt,
		Headers:    signed.Headers,
	}, nil
}

func reviewImageTypeAllowed(contentType string) bool {
	for _, allowed := range reviewImageContentTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}

func (s *reviewService) verifyPurchase(ctx context.Context, orderID, userID, productID string) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: order not found", ErrReviewInvalidInput)
		}
		return err
	}
	if order.UserID != strings.TrimSpace(userID) {
		return fmt.Errorf("%w: order does not belong to user", ErrReviewInvalidInput)
	}
	if order.Status != domain.OrderStatusDelivered {
		return fmt.Errorf("%w: order must be delivered before review submission", ErrReviewInvalidInput)
	}
	for _, item := range order.Items {
		if item.ProductID == strings.TrimSpace(productID) {
			return nil
		}
	}
	return fmt.Errorf("%w: product is not part of the order", ErrReviewInvalidInput)
}

// recomputeProductRating rebuilds the product's rating aggregate from every
// approved review: the mean rounded to one decimal plus a 1..5 distribution.
// Failures are logged; the triggering moderation or deletion still succeeds.
func (s *reviewService) recomputeProductRating(ctx context.Context, productID string) {
	reviews, err := s.reviews.ListApprovedByProduct(ctx, productID)
	if err != nil {
		s.logger(ctx, "review.rating_recompute_failed", map[string]any{
			"productId": productID,
			"error":     err.Error(),
		})
		return
	}

	summary := domain.RatingSummary{Counts: map[string]int{}}
	total := 0
	for _, review := range reviews {
		if review.Rating < 1 || review.Rating > 5 {
			continue
		}
		summary.Counts[strconv.Itoa(review.Rating)]++
		summary.ReviewCount++
		total += review.Rating
	}
	if summary.ReviewCount > 0 {
		mean := float64(total) / float64(summary.ReviewCount)
		summary.Average = math.Round(mean*10) / 10
	}

	if err := s.products.UpdateRating(ctx, productID, summary, s.now()); err != nil {
		s.logger(ctx, "review.rating_write_failed", map[string]any{
			"productId": productID,
			"error":     err.Error(),
		})
	}
}

func validateCreateReviewCommand(cmd CreateReviewCommand, body string) error {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}
	if body == "" {
		return fmt.Errorf("%w: review body is required", ErrReviewInvalidInput)
	}
	return nil
}

func canModerate(from, to domain.ReviewStatus) bool {
	for _, allowed := range reviewModerationTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// sanitizeReviewText strips markup from user supplied text and collapses
// whitespace while keeping intentional newlines.
func sanitizeReviewText(input string) string {
	cleaned := html.UnescapeString(reviewTextPolicy.Sanitize(input))
	normalized := strings.ReplaceAll(strings.ReplaceAll(cleaned, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func translateReviewRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrReviewNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: review already exists", ErrReviewConflict)
		}
	}
	return err
}
