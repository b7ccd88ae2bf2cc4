package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const (
	reviewCollection = "reviews"
)

// ReviewRepository stores product reviews and their moderation metadata.
type ReviewRepository struct {
	base     *pfirestore.BaseRepository[reviewDocument]
	provider *pfirestore.Provider
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[reviewDocument](provider, reviewCollection, nil, nil)
	return &ReviewRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the review document.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	reviewID := strings.TrimSpace(review.ID)
	if reviewID == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	ref, err := r.base.DocumentRef(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	doc := newReviewDocument(review)
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.insert", err)
	}
	return doc.toDomain(reviewID), nil
}

// FindByID loads one review document.
func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}
	doc, err := r.base.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Delete removes the review document.
func (r *ReviewRepository) Delete(ctx context.Context, reviewID string) error {
	if r == nil || r.base == nil {
		return errors.New("review repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return errors.New("review repository: review id is required")
	}
	ref, err := r.base.DocumentRef(ctx, reviewID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("reviews.delete", err)
	}
	return nil
}

// ListByProduct returns a page of reviews for a product, newest first.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, filter repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository: product id is required")
	}

	query := func(q firestore.Query) firestore.Query {
		q = q.Where("productId", "==", productID)
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		return q
	}
	return r.listPage(ctx, query, filter.Pagination)
}

// ListByUser returns a page of the user's reviews, newest first.
func (r *ReviewRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository: user id is required")
	}
	return r.listPage(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID)
	}, pager)
}

// ListApprovedByProduct returns every approved review for the product. The
// rating aggregator needs the full set, not a page.
func (r *ReviewRepository) ListApprovedByProduct(ctx context.Context, productID string) ([]domain.Review, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("review repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, errors.New("review repository: product id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", productID).
			Where("status", "==", string(domain.ReviewStatusApproved))
	})
	if err != nil {
		return nil, err
	}
	reviews := make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		reviews = append(reviews, doc.Data.toDomain(doc.ID))
	}
	return reviews, nil
}

// UpdateStatus transitions the review's moderation status.
func (r *ReviewRepository) UpdateStatus(ctx context.Context, reviewID string, newStatus domain.ReviewStatus, update repositories.ReviewModerationUpdate) (domain.Review, error) {
	if r == nil || r.provider == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	var updated domain.Review
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, reviewID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode review %s: %w", reviewID, err)
		}

		moderatedAt := update.ModeratedAt.UTC()
		doc.Status = string(newStatus)
		doc.ModeratedBy = strings.TrimSpace(update.ModeratedBy)
		doc.ModeratedAt = &moderatedAt
		doc.UpdatedAt = moderatedAt
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(reviewID)
		return nil
	})
	if err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.updateStatus", err)
	}
	return updated, nil
}

// AdjustVotes atomically shifts the helpful/unhelpful counters.
func (r *ReviewRepository) AdjustVotes(ctx context.Context, reviewID string, helpfulDelta, unhelpfulDelta int) (domain.Review, error) {
	if r == nil || r.provider == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	var updated domain.Review
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, reviewID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode review %s: %w", reviewID, err)
		}
		doc.Helpful += helpfulDelta
		if doc.Helpful < 0 {
			doc.Helpful = 0
		}
		doc.Unhelpful += unhelpfulDelta
		if doc.Unhelpful < 0 {
			doc.Unhelpful = 0
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(reviewID)
		return nil
	})
	if err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.adjustVotes", err)
	}
	return updated, nil
}

func (r *ReviewRepository) listPage(ctx context.Context, build func(firestore.Query) firestore.Query, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
	}

	query := build(client.Collection(reviewCollection).Query).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var reviews []domain.Review
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Review]{}, fmt.Errorf("decode review %s: %w", snap.Ref.ID, err)
		}
		reviews = append(reviews, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(reviews) > pageSize
	if hasMore {
		reviews = reviews[:pageSize]
	}
	var nextToken string
	if hasMore && len(reviews) > 0 {
		last := reviews[len(reviews)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Review]{
		Items:         reviews,
		NextPageToken: nextToken,
	}, nil
}

// Document structures --------------------------------------------------------

type reviewDocument struct {
	ProductID   string     `firestore:"productId"`
	UserID      string     `firestore:"userId"`
	OrderID     string     `firestore:"orderId,omitempty"`
	Rating      int        `firestore:"rating"`
	Title       string     `firestore:"title,omitempty"`
	Body        string     `firestore:"body,omitempty"`
	Images      []string   `firestore:"images,omitempty"`
	Status      string     `firestore:"status"`
	Helpful     int        `firestore:"helpful"`
	Unhelpful   int        `firestore:"unhelpful"`
	ModeratedBy string     `firestore:"moderatedBy,omitempty"`
	ModeratedAt *time.Time `firestore:"moderatedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

func newReviewDocument(review domain.Review) reviewDocument {
	reviewStatus := string(review.Status)
	if reviewStatus == "" {
		reviewStatus = string(domain.ReviewStatusPending)
	}
	return reviewDocument{
		ProductID:   strings.TrimSpace(review.ProductID),
		UserID:      strings.TrimSpace(review.UserID),
		OrderID:     strings.TrimSpace(review.OrderID),
		Rating:      review.Rating,
		Title:       strings.TrimSpace(review.Title),
		Body:        strings.TrimSpace(review.Body),
		Images:      append([]string(nil), review.Images...),
		Status:      reviewStatus,
		Helpful:     review.Helpful,
		Unhelpful:   review.Unhelpful,
		ModeratedBy: strings.TrimSpace(review.ModeratedBy),
		ModeratedAt: review.ModeratedAt,
		CreatedAt:   review.CreatedAt.UTC(),
		UpdatedAt:   review.UpdatedAt.UTC(),
	}
}

func (d reviewDocument) toDomain(id string) domain.Review {
	return domain.Review{
		ID:          id,
		ProductID:   strings.TrimSpace(d.ProductID),
		UserID:      strings.TrimSpace(d.UserID),
		OrderID:     strings.TrimSpace(d.OrderID),
		Rating:      d.Rating,
		Title:       strings.TrimSpace(d.Title),
		Body:        strings.TrimSpace(d.Body),
		Images:      append([]string(nil), d.Images...),
		Status:      domain.ReviewStatus(d.Status),
		Helpful:     d.Helpful,
		Unhelpful:   d.Unhelpful,
		ModeratedBy: strings.TrimSpace(d.ModeratedBy),
		ModeratedAt: d.ModeratedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)
