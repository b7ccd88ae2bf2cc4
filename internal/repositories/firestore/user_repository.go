package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists user profiles in Firestore.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// FindByID loads the user profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	profile := doc.Data.toDomain(doc.ID)
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = doc.CreateTime
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = doc.UpdateTime
	}
	return profile, nil
}

// UpdateProfile upserts the user profile document.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(profile.ID) == "" {
		return domain.UserProfile{}, errors.New("profile id is required")
	}

	now := time.Now().UTC()
	doc := newUserDocument(profile, now)
	if _, err := r.base.Set(ctx, profile.ID, doc); err != nil {
		return domain.UserProfile{}, err
	}
	return doc.toDomain(profile.ID), nil
}

// AddLoyaltyPoints increments the loyalty balance inside a transaction.
func (r *UserRepository) AddLoyaltyPoints(ctx context.Context, userID string, points int64, now time.Time) (domain.UserProfile, error) {
	if r == nil || r.provider == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}
	if points < 0 {
		return domain.UserProfile{}, status.Error(codes.InvalidArgument, "loyalty points must be >= 0")
	}

	var updated domain.UserProfile
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode user %s: %w", userID, err)
		}
		doc.LoyaltyPoints += points
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(userID)
		return nil
	})
	if err != nil {
		return domain.UserProfile{}, pfirestore.WrapError("users.addLoyalty", err)
	}
	return updated, nil
}

type userDocument struct {
	Email         string    `firestore:"email"`
	DisplayName   string    `firestore:"displayName"`
	Locale        string    `firestore:"locale,omitempty"`
	Roles         []string  `firestore:"roles"`
	LoyaltyPoints int64     `firestore:"loyaltyPoints"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newUserDocument(profile domain.UserProfile, now time.Time) userDocument {
	doc := userDocument{
		Email:         strings.ToLower(strings.TrimSpace(profile.Email)),
		DisplayName:   strings.TrimSpace(profile.DisplayName),
		Locale:        strings.TrimSpace(profile.Locale),
		Roles:         normaliseRoles(profile.Roles),
		LoyaltyPoints: profile.LoyaltyPoints,
		CreatedAt:     profile.CreatedAt.UTC(),
		UpdatedAt:     now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.Roles == nil {
		doc.Roles = []string{}
	}
	return doc
}

func (d userDocument) toDomain(id string) domain.UserProfile {
	return domain.UserProfile{
		ID:            id,
		Email:         strings.TrimSpace(d.Email),
		DisplayName:   strings.TrimSpace(d.DisplayName),
		Locale:        strings.TrimSpace(d.Locale),
		Roles:         append([]string(nil), d.Roles...),
		LoyaltyPoints: d.LoyaltyPoints,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func normaliseRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	uniq := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		trimmed := strings.ToLower(strings.TrimSpace(role))
		if trimmed == "" {
			continue
		}
		uniq[trimmed] = struct{}{}
	}
	if len(uniq) == 0 {
		return nil
	}
	normalised := make([]string, 0, len(uniq))
	for role := range uniq {
		normalised = append(normalised, role)
	}
	sort.Strings(normalised)
	return normalised
}

var _ repositories.UserRepository = (*UserRepository)(nil)
