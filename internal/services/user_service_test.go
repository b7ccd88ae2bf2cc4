package services

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/maplecart/api/internal/domain"
)

type stubFirebaseUsers struct {
	record *firebaseauth.UserRecord
	err    error
}

func (s *stubFirebaseUsers) GetUser(_ context.Context, _ string) (*firebaseauth.UserRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

func newTestUserService(t *testing.T, users *stubUserRepo, addresses *stubAddressRepo, firebase *stubFirebaseUsers) UserService {
	t.Helper()
	deps := UserServiceDeps{
		Users:       users,
		Addresses:   addresses,
		Clock:       func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "01TEST" },
	}
	if firebase != nil {
		deps.Firebase = firebase
	}
	svc, err := NewUserService(deps)
	if err != nil {
		t.Fatalf("new user service: %v", err)
	}
	return svc
}

func TestUserGetProfileSeedsFromFirebase(t *testing.T) {
	var saved domain.UserProfile
	users := &stubUserRepo{
		updateProfileFn: func(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
			saved = profile
			return profile, nil
		},
	}
	firebase := &stubFirebaseUsers{
		record: &firebaseauth.UserRecord{
			UserInfo: &firebaseauth.UserInfo{
				UID:         "user-1",
				DisplayName: "Ada",
				Email:       "Ada@Example.com",
			},
			CustomClaims: map[string]any{"locale": "en_US"},
		},
	}
	svc := newTestUserService(t, users, &stubAddressRepo{}, firebase)

	profile, err := svc.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.ID != "user-1" {
		t.Fatalf("expected seeded id, got %s", profile.ID)
	}
	if saved.Email != "ada@example.com" {
		t.Fatalf("expected lowercased email, got %s", saved.Email)
	}
	if saved.Locale != "en-US" {
		t.Fatalf("expected canonical locale, got %s", saved.Locale)
	}
	if len(saved.Roles) != 1 || saved.Roles[0] != "user" {
		t.Fatalf("expected base role, got %v", saved.Roles)
	}
}

func TestUserUpdateProfileNormalizesLocale(t *testing.T) {
	users := &stubUserRepo{
		findFn: func(_ context.Context, userID string) (domain.UserProfile, error) {
			return domain.UserProfile{ID: userID, DisplayName: "Ada", Locale: "en"}, nil
		},
	}
	svc := newTestUserService(t, users, &stubAddressRepo{}, nil)

	locale := "ja_jp"
	profile, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", Locale: &locale})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if profile.Locale != "ja-JP" {
		t.Fatalf("expected canonical locale, got %s", profile.Locale)
	}

	bad := "not a locale!!"
	if _, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", Locale: &bad}); !errors.Is(err, ErrUserInvalidLanguageTag) {
		t.Fatalf("expected invalid language tag, got %v", err)
	}
}

func TestUserUpdateProfileRejectsShortDisplayName(t *testing.T) {
	users := &stubUserRepo{
		findFn: func(_ context.Context, userID string) (domain.UserProfile, error) {
			return domain.UserProfile{ID: userID}, nil
		},
	}
	svc := newTestUserService(t, users, &stubAddressRepo{}, nil)

	name := "A"
	_, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", DisplayName: &name})
	if !errors.Is(err, ErrUserInvalidDisplayName) {
		t.Fatalf("expected invalid display name, got %v", err)
	}
}

func TestUserUpdateProfileNoChangeSkipsWrite(t *testing.T) {
	writes := 0
	users := &stubUserRepo{
		findFn: func(_ context.Context, userID string) (domain.UserProfile, error) {
			return domain.UserProfile{ID: userID, DisplayName: "Ada"}, nil
		},
		updateProfileFn: func(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
			writes++
			return profile, nil
		},
	}
	svc := newTestUserService(t, users, &stubAddressRepo{}, nil)

	name := "Ada"
	if _, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", DisplayName: &name}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if writes != 0 {
		t.Fatalf("expected no write for unchanged profile, got %d", writes)
	}
}

func TestUserFirstAddressBecomesDefault(t *testing.T) {
	var upserted domain.Address
	addresses := &stubAddressRepo{
		listFn: func(_ context.Context, _ string) ([]domain.Address, error) {
			return nil, nil
		},
		upsertFn: func(_ context.Context, _ string, addressID *string, addr domain.Address) (domain.Address, error) {
			if addressID != nil {
				return domain.Address{}, errors.New("expected insert, got update")
			}
			upserted = addr
			return addr, nil
		},
	}
	svc := newTestUserService(t, &stubUserRepo{}, addresses, nil)

	addr, err := svc.UpsertAddress(context.Background(), UpsertAddressCommand{
		UserID: "user-1",
		Address: domain.Address{
			Name:       "Ada Lovelace",
			Line1:      "1 Main St",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "us",
		},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !addr.IsDefault {
		t.Fatalf("expected first address to be default")
	}
	if addr.ID != "addr_01TEST" {
		t.Fatalf("expected generated id, got %s", addr.ID)
	}
	if upserted.Country != "US" {
		t.Fatalf("expected uppercased country, got %s", upserted.Country)
	}
}

func TestUserUpsertAddressValidation(t *testing.T) {
	svc := newTestUserService(t, &stubUserRepo{}, &stubAddressRepo{}, nil)

	cases := []struct {
		name string
		addr domain.Address
	}{
		{"missing recipient", domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}},
		{"missing line1", domain.Address{Name: "Ada", City: "Springfield", PostalCode: "12345", Country: "US"}},
		{"bad country", domain.Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "USA"}},
		{"bad postal", domain.Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "!", Country: "US"}},
		{"bad phone", domain.Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US", Phone: "abc"}},
	}
	for _, tc := range cases {
		_, err := svc.UpsertAddress(context.Background(), UpsertAddressCommand{UserID: "user-1", Address: tc.addr})
		if !errors.Is(err, ErrUserInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
	}
}

func TestUserUpdateAddressKeepsDefaultFlag(t *testing.T) {
	addresses := &stubAddressRepo{
		getFn: func(_ context.Context, _, addressID string) (domain.Address, error) {
			return domain.Address{ID: addressID, Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US", IsDefault: true}, nil
		},
		upsertFn: func(_ context.Context, _ string, addressID *string, addr domain.Address) (domain.Address, error) {
			if addressID == nil {
				return domain.Address{}, errors.New("expected update, got insert")
			}
			return addr, nil
		},
	}
	svc := newTestUserService(t, &stubUserRepo{}, addresses, nil)

	id := "addr-1"
	addr, err := svc.UpsertAddress(context.Background(), UpsertAddressCommand{
		UserID:    "user-1",
		AddressID: &id,
		Address: domain.Address{
			Name:       "Ada Lovelace",
			Line1:      "2 Oak Ave",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "US",
		},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !addr.IsDefault {
		t.Fatalf("expected default flag preserved")
	}
	if addr.Line1 != "2 Oak Ave" {
		t.Fatalf("expected updated line1, got %s", addr.Line1)
	}
}

func TestUserDeleteDefaultAddressPromotesOldest(t *testing.T) {
	var promoted string
	addresses := &stubAddressRepo{
		getFn: func(_ context.Context, _, addressID string) (domain.Address, error) {
			return domain.Address{ID: addressID, IsDefault: true}, nil
		},
		listFn: func(_ context.Context, _ string) ([]domain.Address, error) {
			return []domain.Address{
				{ID: "addr-2", CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
				{ID: "addr-3", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
			}, nil
		},
		setDefaultFn: func(_ context.Context, _, addressID string) (domain.Address, error) {
			promoted = addressID
			return domain.Address{ID: addressID, IsDefault: true}, nil
		},
	}
	svc := newTestUserService(t, &stubUserRepo{}, addresses, nil)

	if err := svc.DeleteAddress(context.Background(), DeleteAddressCommand{UserID: "user-1", AddressID: "addr-1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if promoted != "addr-3" {
		t.Fatalf("expected oldest address promoted, got %s", promoted)
	}
}

func TestUserDeleteAddressNotFound(t *testing.T) {
	addresses := &stubAddressRepo{
		getFn: func(_ context.Context, _, _ string) (domain.Address, error) {
			return domain.Address{}, stubNotFoundError{}
		},
	}
	svc := newTestUserService(t, &stubUserRepo{}, addresses, nil)

	err := svc.DeleteAddress(context.Background(), DeleteAddressCommand{UserID: "user-1", AddressID: "addr-9"})
	if !errors.Is(err, ErrUserAddressNotFound) {
		t.Fatalf("expected address not found, got %v", err)
	}
}
