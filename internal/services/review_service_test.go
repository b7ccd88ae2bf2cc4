package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/platform/storage"
	"github.com/maplecart/api/internal/repositories"
)

type stubReviewRepo struct {
	insertFn         func(ctx context.Context, review domain.Review) (domain.Review, error)
	findFn           func(ctx context.Context, reviewID string) (domain.Review, error)
	deleteFn         func(ctx context.Context, reviewID string) error
	listByProductFn  func(ctx context.Context, productID string, filter repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error)
	listByUserFn     func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	listApprovedFn   func(ctx context.Context, productID string) ([]domain.Review, error)
	updateStatusFn   func(ctx context.Context, reviewID string, status domain.ReviewStatus, update repositories.ReviewModerationUpdate) (domain.Review, error)
	adjustVotesFn    func(ctx context.Context, reviewID string, helpfulDelta, unhelpfulDelta int) (domain.Review, error)
}

func (s *stubReviewRepo) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if s.insertFn != nil {
		return s.insertFn(ctx, review)
	}
	return review, nil
}

func (s *stubReviewRepo) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if s.findFn != nil {
		return s.findFn(ctx, reviewID)
	}
	return domain.Review{}, stubNotFoundError{}
}

func (s *stubReviewRepo) Delete(ctx context.Context, reviewID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, reviewID)
	}
	return nil
}

func (s *stubReviewRepo) ListByProduct(ctx context.Context, productID string, filter repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error) {
	if s.listByProductFn != nil {
		return s.listByProductFn(ctx, productID, filter)
	}
	return domain.CursorPage[domain.Review]{}, nil
}

func (s *stubReviewRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID, pager)
	}
	return domain.CursorPage[domain.Review]{}, nil
}

func (s *stubReviewRepo) ListApprovedByProduct(ctx context.Context, productID string) ([]domain.Review, error) {
	if s.listApprovedFn != nil {
		return s.listApprovedFn(ctx, productID)
	}
	return nil, nil
}

func (s *stubReviewRepo) UpdateStatus(ctx context.Context, reviewID string, status domain.ReviewStatus, update repositories.ReviewModerationUpdate) (domain.Review, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, reviewID, status, update)
	}
	return domain.Review{ID: reviewID, Status: status}, nil
}

func (s *stubReviewRepo) AdjustVotes(ctx context.Context, reviewID string, helpfulDelta, unhelpfulDelta int) (domain.Review, error) {
	if s.adjustVotesFn != nil {
		return s.adjustVotesFn(ctx, reviewID, helpfulDelta, unhelpfulDelta)
	}
	return domain.Review{ID: reviewID}, nil
}

func newTestReviewService(t *testing.T, reviews repositories.ReviewRepository, orders repositories.OrderRepository, products repositories.ProductRepository) ReviewService {
	t.Helper()
	if orders == nil {
		orders = &stubOrderRepo{}
	}
	if products == nil {
		products = &stubProductRepo{
			findByIDFn: func(_ context.Context, productID string) (domain.Product, error) {
				return domain.Product{ID: productID}, nil
			},
		}
	}
	svc, err := NewReviewService(ReviewServiceDeps{
		Reviews:     reviews,
		Orders:      orders,
		Products:    products,
		Clock:       func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "01TEST" },
	})
	if err != nil {
		t.Fatalf("new review service: %v", err)
	}
	return svc
}

func TestReviewCreateSanitizesAndStartsPending(t *testing.T) {
	var inserted domain.Review
	repo := &stubReviewRepo{
		insertFn: func(_ context.Context, review domain.Review) (domain.Review, error) {
			inserted = review
			return review, nil
		},
	}
	svc := newTestReviewService(t, repo, nil, nil)

	review, err := svc.Create(context.Background(), CreateReviewCommand{
		ProductID: "prod-1",
		UserID:    "user-1",
		Rating:    4,
		Title:     "  Great bag  ",
		Body:      "Sturdy <script>alert(1)</script> and roomy.",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if review.ID != "rev_01TEST" {
		t.Fatalf("expected generated id, got %s", review.ID)
	}
	if inserted.Status != domain.ReviewStatusPending {
		t.Fatalf("expected pending status, got %s", inserted.Status)
	}
	if inserted.Title != "Great bag" {
		t.Fatalf("expected trimmed title, got %q", inserted.Title)
	}
	if inserted.Body != "Sturdy and roomy." {
		t.Fatalf("expected markup stripped from body, got %q", inserted.Body)
	}
}

func TestReviewCreateRejectsBadRating(t *testing.T) {
	svc := newTestReviewService(t, &stubReviewRepo{}, nil, nil)

	for _, rating := range []int{0, 6} {
		_, err := svc.Create(context.Background(), CreateReviewCommand{
			ProductID: "prod-1",
			UserID:    "user-1",
			Rating:    rating,
			Body:      "fine",
		})
		if !errors.Is(err, ErrReviewInvalidInput) {
			t.Fatalf("rating %d: expected invalid input, got %v", rating, err)
		}
	}
}

func TestReviewCreateVerifiesPurchase(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:     orderID,
				UserID: "user-1",
				Status: domain.OrderStatusShipped,
				Items:  []domain.OrderItem{{ProductID: "prod-1"}},
			}, nil
		},
	}
	svc := newTestReviewService(t, &stubReviewRepo{}, orders, nil)

	_, err := svc.Create(context.Background(), CreateReviewCommand{
		ProductID: "prod-1",
		UserID:    "user-1",
		OrderID:   "ord-1",
		Rating:    5,
		Body:      "nice",
	})
	if !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected rejection for undelivered order, got %v", err)
	}

	_, err = svc.Create(context.Background(), CreateReviewCommand{
		ProductID: "prod-2",
		UserID:    "user-1",
		OrderID:   "ord-1",
		Rating:    5,
		Body:      "nice",
	})
	if !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected rejection for product outside order, got %v", err)
	}
}

func TestReviewModerateApproveRecomputesRating(t *testing.T) {
	reviews := &stubReviewRepo{
		findFn: func(_ context.Context, reviewID string) (domain.Review, error) {
			return domain.Review{ID: reviewID, ProductID: "prod-1", Status: domain.ReviewStatusPending}, nil
		},
		updateStatusFn: func(_ context.Context, reviewID string, status domain.ReviewStatus, update repositories.ReviewModerationUpdate) (domain.Review, error) {
			if update.ModeratedBy != "mod-1" {
				return domain.Review{}, errors.New("missing moderator")
			}
			return domain.Review{ID: reviewID, ProductID: "prod-1", Status: status}, nil
		},
		listApprovedFn: func(_ context.Context, _ string) ([]domain.Review, error) {
			return []domain.Review{
				{Rating: 5}, {Rating: 4}, {Rating: 4},
			}, nil
		},
	}
	var written domain.RatingSummary
	products := &stubProductRepo{
		updateRatingFn: func(_ context.Context, productID string, rating domain.RatingSummary, _ time.Time) error {
			if productID != "prod-1" {
				return errors.New("unexpected product")
			}
			written = rating
			return nil
		},
	}
	svc := newTestReviewService(t, reviews, nil, products)

	review, err := svc.Moderate(context.Background(), ModerateReviewCommand{
		ReviewID: "rev-1",
		ActorID:  "mod-1",
		Status:   domain.ReviewStatusApproved,
	})
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if review.Status != domain.ReviewStatusApproved {
		t.Fatalf("expected approved, got %s", review.Status)
	}
	if written.Average != 4.3 {
		t.Fatalf("expected mean 4.3, got %v", written.Average)
	}
	if written.ReviewCount != 3 {
		t.Fatalf("expected 3 reviews, got %d", written.ReviewCount)
	}
	if written.Counts["4"] != 2 || written.Counts["5"] != 1 {
		t.Fatalf("unexpected distribution %+v", written.Counts)
	}
}

func TestReviewModerateRejectsInvalidTransition(t *testing.T) {
	reviews := &stubReviewRepo{
		findFn: func(_ context.Context, reviewID string) (domain.Review, error) {
			return domain.Review{ID: reviewID, Status: domain.ReviewStatusRejected}, nil
		},
	}
	svc := newTestReviewService(t, reviews, nil, nil)

	_, err := svc.Moderate(context.Background(), ModerateReviewCommand{
		ReviewID: "rev-1",
		ActorID:  "mod-1",
		Status:   domain.ReviewStatusApproved,
	})
	if !errors.Is(err, ErrReviewInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestReviewModerateSameStatusIsNoop(t *testing.T) {
	updates := 0
	reviews := &stubReviewRepo{
		findFn: func(_ context.Context, reviewID string) (domain.Review, error) {
			return domain.Review{ID: reviewID, Status: domain.ReviewStatusApproved}, nil
		},
		updateStatusFn: func(_ context.Context, reviewID string, status domain.ReviewStatus, _ repositories.ReviewModerationUpdate) (domain.Review, error) {
			updates++
			return domain.Review{ID: reviewID, Status: status}, nil
		},
	}
	svc := newTestReviewService(t, reviews, nil, nil)

	review, err := svc.Moderate(context.Background(), ModerateReviewCommand{
		ReviewID: "rev-1",
		ActorID:  "mod-1",
		Status:   domain.ReviewStatusApproved,
	})
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if updates != 0 {
		t.Fatalf("expected no status write, got %d", updates)
	}
	if review.Status != domain.ReviewStatusApproved {
		t.Fatalf("expected approved, got %s", review.Status)
	}
}

func TestReviewDeleteApprovedRecomputesRating(t *testing.T) {
	reviews := &stubReviewRepo{
		findFn: func(_ context.Context, reviewID string) (domain.Review, error) {
			return domain.Review{ID: reviewID, ProductID: "prod-1", UserID: "user-1", Status: domain.ReviewStatusApproved}, nil
		},
		listApprovedFn: func(_ context.Context, _ string) ([]domain.Review, error) {
			return nil, nil
		},
	}
	var written domain.RatingSummary
	writes := 0
	products := &stubProductRepo{
		updateRatingFn: func(_ context.Context, _ string, rating domain.RatingSummary, _ time.Time) error {
			written = rating
			writes++
			return nil
		},
	}
	svc := newTestReviewService(t, reviews, nil, products)

	if err := svc.Delete(context.Background(), DeleteReviewCommand{ReviewID: "rev-1", ActorID: "user-1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if writes != 1 {
		t.Fatalf("expected one rating write, got %d", writes)
	}
	if written.Average != 0 || written.ReviewCount != 0 {
		t.Fatalf("expected zeroed rating after last review removed, got %+v", written)
	}
}

func TestReviewDeleteForbiddenForOtherUser(t *testing.T) {
	reviews := &stubReviewRepo{
		findFn: func(_ context.Context, reviewID string) (domain.Review, error) {
			return domain.Review{ID: reviewID, UserID: "user-1", Status: domain.ReviewStatusPending}, nil
		},
	}
	svc := newTestReviewService(t, reviews, nil, nil)

	err := svc.Delete(context.Background(), DeleteReviewCommand{ReviewID: "rev-1", ActorID: "user-2"})
	if !errors.Is(err, ErrReviewUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	err = svc.Delete(context.Background(), DeleteReviewCommand{ReviewID: "rev-1", ActorID: "user-2", ActorRoles: []string{"admin"}})
	if err != nil {
		t.Fatalf("expected staff delete to pass, got %v", err)
	}
}

func TestReviewListByProductForcesApprovedForPublic(t *testing.T) {
	var captured repositories.ReviewListFilter
	reviews := &stubReviewRepo{
		listByProductFn: func(_ context.Context, _ string, filter repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error) {
			captured = filter
			return domain.CursorPage[domain.Review]{}, nil
		},
	}
	svc := newTestReviewService(t, reviews, nil, nil)

	_, err := svc.ListByProduct(context.Background(), ListProductReviewsCommand{
		ProductID: "prod-1",
		Status:    []domain.ReviewStatus{domain.ReviewStatusPending},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.ReviewStatusApproved {
		t.Fatalf("expected approved-only filter, got %+v", captured.Status)
	}

	_, err = svc.ListByProduct(context.Background(), ListProductReviewsCommand{
		ProductID:  "prod-1",
		IncludeAll: true,
		Status:     []domain.ReviewStatus{domain.ReviewStatusPending},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.ReviewStatusPending {
		t.Fatalf("expected staff filter preserved, got %+v", captured.Status)
	}
}

func TestReviewVoteAdjustsCounters(t *testing.T) {
	var gotHelpful, gotUnhelpful int
	reviews := &stubReviewRepo{
		adjustVotesFn: func(_ context.Context, reviewID string, helpfulDelta, unhelpfulDelta int) (domain.Review, error) {
			gotHelpful, gotUnhelpful = helpfulDelta, unhelpfulDelta
			return domain.Review{ID: reviewID, Helpful: helpfulDelta, Unhelpful: unhelpfulDelta}, nil
		},
	}
	svc := newTestReviewService(t, reviews, nil, nil)

	if _, err := svc.Vote(context.Background(), VoteReviewCommand{ReviewID: "rev-1", UserID: "user-1", Helpful: true}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if gotHelpful != 1 || gotUnhelpful != 0 {
		t.Fatalf("expected helpful vote, got %d/%d", gotHelpful, gotUnhelpful)
	}

	if _, err := svc.Vote(context.Background(), VoteReviewCommand{ReviewID: "rev-1", UserID: "user-1", Helpful: false}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if gotHelpful != 0 || gotUnhelpful != 1 {
		t.Fatalf("expected unhelpful vote, got %d/%d", gotHelpful, gotUnhelpful)
	}
}

type stubUploadSigner struct {
	signFn func(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

func (s *stubUploadSigner) SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error) {
	if s.signFn != nil {
		return s.signFn(ctx, bucket, object, opts)
	}
	return storage.SignedURLResult{URL: "https://storage.test/" + bucket + "/" + object, Method: "PUT"}, nil
}

func newUploadReviewService(t *testing.T, reviews repositories.ReviewRepository, signer ReviewUploadSigner) ReviewService {
	t.Helper()
	svc, err := NewReviewService(ReviewServiceDeps{
		Reviews:      reviews,
		Orders:       &stubOrderRepo{},
		Products:     &stubProductRepo{},
		Uploads:      signer,
		UploadBucket: "review-images",
		IDGenerator:  func() string { return "01TEST" },
	})
	if err != nil {
		t.Fatalf("new review service: %v", err)
	}
	return svc
}

func TestReviewImageUploadURLIssuesSignedURL(t *testing.T) {
	reviews := &stubReviewRepo{
		findFn: func(_ context.Context, reviewID string) (domain.Review, error) {
			return domain.Review{ID: reviewID, UserID: "user-1"}, nil
		},
	}
	var gotBucket, gotObject string
	var gotOpts storage.SignedURLOptions
	signer := &stubUploadSigner{
		signFn: func(_ context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error) {
			gotBucket, gotObject, gotOpts = bucket, object, opts
			return storage.SignedURLResult{
				URL:       "https://storage.test/signed",
				Method:    "PUT",
				ExpiresAt: time.Date(2025, 7, 1, 12, 15, 0, 0, time.UTC),
				Headers:   map[string]string{"Content-Type": "image/jpeg"},
			}, nil
		},
	}
	svc := newUploadReviewService(t, reviews, signer)

	upload, err := svc.CreateImageUploadURL(context.Background(), ReviewImageUploadCommand{
		ReviewID:    "rev-1",
		UserID:      "user-1",
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("create upload url: %v", err)
	}
	if gotBucket != "review-images" {
		t.Fatalf("unexpected bucket %q", gotBucket)
	}
	if gotObject != "reviews/rev-1/images/01TEST/photo.jpg" {
		t.Fatalf("unexpected object path %q", gotObject)
	}
	if gotOpts.Upload == nil || gotOpts.Upload.ContentType != "image/jpeg" {
		t.Fatalf("unexpected upload options %+v", gotOpts.Upload)
	}
	if upload.UploadURL != "https://storage.test/signed" || upload.Method != "PUT" {
		t.Fatalf("unexpected upload result %+v", upload)
	}
	if upload.ObjectPath != gotObject {
		t.Fatalf("expected object path surfaced, got %q", upload.ObjectPath)
	}
}

func TestReviewImageUploadURLForbiddenForOtherUser(t *testing.T) {
	reviews := &stubReviewRepo{
		findFn: func(_ context.Context, reviewID string) (domain.Review, error) {
			return domain.Review{ID: reviewID, UserID: "user-1"}, nil
		},
	}
	svc := newUploadReviewService(t, reviews, &stubUploadSigner{})

	_, err := svc.CreateImageUploadURL(context.Background(), ReviewImageUploadCommand{
		ReviewID:    "rev-1",
		UserID:      "user-2",
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
	})
	if !errors.Is(err, ErrReviewUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestReviewImageUploadURLRejectsContentType(t *testing.T) {
	svc := newUploadReviewService(t, &stubReviewRepo{}, &stubUploadSigner{})

	_, err := svc.CreateImageUploadURL(context.Background(), ReviewImageUploadCommand{
		ReviewID:    "rev-1",
		UserID:      "user-1",
		FileName:    "movie.mp4",
		ContentType: "video/mp4",
	})
	if !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestReviewImageUploadURLDisabledWithoutSigner(t *testing.T) {
	svc := newTestReviewService(t, &stubReviewRepo{}, nil, nil)

	_, err := svc.CreateImageUploadURL(context.Background(), ReviewImageUploadCommand{
		ReviewID:    "rev-1",
		UserID:      "user-1",
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
	})
	if !errors.Is(err, ErrReviewUploadsDisabled) {
		t.Fatalf("expected uploads disabled, got %v", err)
	}
}
