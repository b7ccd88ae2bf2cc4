package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const wishlistCollectionPattern = "users/%s/wishlist"

// WishlistRepository persists saved products per user as a subcollection
// keyed by product ID.
type WishlistRepository struct {
	provider *pfirestore.Provider
}

// NewWishlistRepository constructs a Firestore-backed wishlist repository.
func NewWishlistRepository(provider *pfirestore.Provider) (*WishlistRepository, error) {
	if provider == nil {
		return nil, errors.New("wishlist repository requires firestore provider")
	}
	return &WishlistRepository{provider: provider}, nil
}

// Get returns the full wishlist ordered by most recent addition.
func (r *WishlistRepository) Get(ctx context.Context, userID string) (domain.Wishlist, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Wishlist{}, err
	}

	iter := coll.OrderBy("addedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	wishlist := domain.Wishlist{UserID: strings.TrimSpace(userID)}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.Wishlist{}, pfirestore.WrapError("wishlist.get", err)
		}
		var doc wishlistItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Wishlist{}, fmt.Errorf("decode wishlist item %s: %w", snap.Ref.ID, err)
		}
		wishlist.Items = append(wishlist.Items, domain.WishlistItem{
			ProductID: snap.Ref.ID,
			AddedAt:   doc.AddedAt,
		})
		if doc.AddedAt.After(wishlist.UpdatedAt) {
			wishlist.UpdatedAt = doc.AddedAt
		}
	}
	return wishlist, nil
}

// Put stores the product on the wishlist, preserving the original addedAt when
// the entry already exists. The boolean reports whether a new entry was created.
func (r *WishlistRepository) Put(ctx context.Context, userID string, productID string, addedAt time.Time, limit int) (bool, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return false, err
	}

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false, errors.New("wishlist repository: product id is required")
	}

	created := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef := coll.Doc(productID)
		if _, err := tx.Get(docRef); err == nil {
			created = false
			return nil
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if limit > 0 {
			countQuery := coll.Select("addedAt").Limit(limit)
			snaps, err := tx.Documents(countQuery).GetAll()
			if err != nil {
				return err
			}
			if len(snaps) >= limit {
				return status.Error(codes.FailedPrecondition, "wishlist limit reached")
			}
		}

		doc := wishlistItemDocument{AddedAt: addedAt.UTC()}
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("wishlist.put", err)
	}
	return created, nil
}

// Delete removes the product from the wishlist.
func (r *WishlistRepository) Delete(ctx context.Context, userID string, productID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("wishlist repository: product id is required")
	}
	if _, err := coll.Doc(productID).Delete(ctx); err != nil {
		return pfirestore.WrapError("wishlist.delete", err)
	}
	return nil
}

func (r *WishlistRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("wishlist repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("wishlist repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(wishlistCollectionPattern, uid)), nil
}

type wishlistItemDocument struct {
	AddedAt time.Time `firestore:"addedAt"`
}

var _ repositories.WishlistRepository = (*WishlistRepository)(nil)
