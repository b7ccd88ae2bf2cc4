package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/repositories"
)

const addrIDPrefix = "addr_"

var (
	// ErrUserInvalidInput indicates validation failures for profile or address operations.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the profile could not be located or seeded.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserInvalidDisplayName indicates the supplied display name failed validation.
	ErrUserInvalidDisplayName = errors.New("user: invalid display name")
	// ErrUserInvalidLanguageTag indicates the supplied locale tag is invalid.
	ErrUserInvalidLanguageTag = errors.New("user: invalid language tag")
	// ErrUserAddressNotFound indicates the requested address does not exist.
	ErrUserAddressNotFound = errors.New("user: address not found")
)

var (
	addressPhonePattern   = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
	addressCountryPattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
	addressPostalPattern  = regexp.MustCompile(`^[0-9A-Za-z\-\s]{3,16}$`)
)

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Addresses   repositories.AddressRepository
	Firebase    auth.UserGetter
	Clock       func() time.Time
	IDGenerator func() string
}

type userService struct {
	users     repositories.UserRepository
	addresses repositories.AddressRepository
	firebase  auth.UserGetter
	now       func() time.Time
	newID     func() string
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("user service: address repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &userService{
		users:     deps.Users,
		addresses: deps.Addresses,
		firebase:  deps.Firebase,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
	}, nil
}

// GetProfile loads a stored profile. On a miss the profile is seeded from the
// Firebase user record so first-time callers get a document without an
// explicit signup step.
func (s *userService) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	profile, err := s.users.FindByID(ctx, uid)
	if err == nil {
		return profile, nil
	}
	if !isRepoNotFound(err) {
		return UserProfile{}, err
	}
	if s.firebase == nil {
		return UserProfile{}, ErrUserNotFound
	}

	record, err := s.firebase.GetUser(ctx, uid)
	if err != nil {
		return UserProfile{}, fmt.Errorf("fetch firebase user: %w", err)
	}

	fresh := profileFromFirebase(record, s.now())
	fresh.ID = uid

	saved, err := s.users.UpdateProfile(ctx, fresh)
	if err != nil {
		return UserProfile{}, err
	}
	return saved, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error) {
	profile, err := s.GetProfile(ctx, cmd.UserID)
	if err != nil {
		return UserProfile{}, err
	}

	changed := false
	if cmd.DisplayName != nil {
		name := strings.TrimSpace(*cmd.DisplayName)
		if err := validateDisplayName(name); err != nil {
			return UserProfile{}, err
		}
		if name != profile.DisplayName {
			profile.DisplayName = name
			changed = true
		}
	}
	if cmd.Locale != nil {
		canonical, err := canonicaliseLanguageTag(*cmd.Locale)
		if err != nil {
			return UserProfile{}, err
		}
		if canonical != profile.Locale {
			profile.Locale = canonical
			changed = true
		}
	}

	if !changed {
		return profile, nil
	}

	profile.UpdatedAt = s.now()
	saved, err := s.users.UpdateProfile(ctx, profile)
	if err != nil {
		return UserProfile{}, err
	}
	return saved, nil
}

func (s *userService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	return s.addresses.List(ctx, uid)
}

// UpsertAddress creates or replaces an address. The first stored address
// becomes the default automatically.
func (s *userService) UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Address{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	sanitized, err := sanitizeAddress(cmd.Address)
	if err != nil {
		return Address{}, err
	}

	var targetID *string
	if cmd.AddressID != nil {
		id := strings.TrimSpace(*cmd.AddressID)
		if id == "" {
			return Address{}, fmt.Errorf("%w: address id is required", ErrUserInvalidInput)
		}
		existing, err := s.addresses.Get(ctx, uid, id)
		if err != nil {
			if isRepoNotFound(err) {
				return Address{}, ErrUserAddressNotFound
			}
			return Address{}, err
		}
		sanitized.ID = existing.ID
		sanitized.IsDefault = existing.IsDefault
		sanitized.CreatedAt = existing.CreatedAt
		targetID = &existing.ID
	} else {
		existing, err := s.addresses.List(ctx, uid)
		if err != nil {
			return Address{}, err
		}
		sanitized.ID = addrIDPrefix + s.newID()
		sanitized.IsDefault = len(existing) == 0
		sanitized.CreatedAt = s.now()
	}
	sanitized.UpdatedAt = s.now()

	saved, err := s.addresses.Upsert(ctx, uid, targetID, sanitized)
	if err != nil {
		return Address{}, err
	}
	return saved, nil
}

// DeleteAddress removes an address. When the default address is removed, the
// oldest remaining address is promoted.
func (s *userService) DeleteAddress(ctx context.Context, cmd DeleteAddressCommand) error {
	uid := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if uid == "" || addressID == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrUserInvalidInput)
	}

	target, err := s.addresses.Get(ctx, uid, addressID)
	if err != nil {
		if isRepoNotFound(err) {
			return ErrUserAddressNotFound
		}
		return err
	}

	if err := s.addresses.Delete(ctx, uid, addressID); err != nil {
		if isRepoNotFound(err) {
			return ErrUserAddressNotFound
		}
		return err
	}

	if !target.IsDefault {
		return nil
	}

	remaining, err := s.addresses.List(ctx, uid)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return nil
	}

	oldest := remaining[0]
	for _, addr := range remaining[1:] {
		if addr.CreatedAt.Before(oldest.CreatedAt) {
			oldest = addr
		}
	}
	_, err = s.addresses.SetDefault(ctx, uid, oldest.ID)
	return err
}

func (s *userService) SetDefaultAddress(ctx context.Context, cmd SetDefaultAddressCommand) (Address, error) {
	uid := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if uid == "" || addressID == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrUserInvalidInput)
	}

	addr, err := s.addresses.SetDefault(ctx, uid, addressID)
	if err != nil {
		if isRepoNotFound(err) {
			return Address{}, ErrUserAddressNotFound
		}
		return Address{}, err
	}
	return addr, nil
}

func validateDisplayName(name string) error {
	length := utf8.RuneCountInString(name)
	if length < 2 || length > 100 {
		return ErrUserInvalidDisplayName
	}
	return nil
}

func canonicaliseLanguageTag(tag string) (string, error) {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", errors.Join(ErrUserInvalidLanguageTag, err)
	}
	return parsed.String(), nil
}

func sanitizeAddress(addr Address) (Address, error) {
	sanitized := Address{
		Name:       strings.TrimSpace(addr.Name),
		Phone:      strings.TrimSpace(addr.Phone),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
	}

	if sanitized.Name == "" || utf8.RuneCountInString(sanitized.Name) > 200 {
		return Address{}, fmt.Errorf("%w: recipient name", ErrUserInvalidInput)
	}
	if sanitized.Line1 == "" {
		return Address{}, fmt.Errorf("%w: address line1", ErrUserInvalidInput)
	}
	if sanitized.City == "" {
		return Address{}, fmt.Errorf("%w: city", ErrUserInvalidInput)
	}
	if !addressCountryPattern.MatchString(sanitized.Country) {
		return Address{}, fmt.Errorf("%w: country must be a two-letter code", ErrUserInvalidInput)
	}
	if !addressPostalPattern.MatchString(sanitized.PostalCode) {
		return Address{}, fmt.Errorf("%w: postal code", ErrUserInvalidInput)
	}
	if sanitized.Phone != "" && !addressPhonePattern.MatchString(sanitized.Phone) {
		return Address{}, fmt.Errorf("%w: phone number", ErrUserInvalidInput)
	}
	return sanitized, nil
}

func profileFromFirebase(record *firebaseauth.UserRecord, now time.Time) domain.UserProfile {
	if record == nil {
		return domain.UserProfile{CreatedAt: now, UpdatedAt: now}
	}

	profile := domain.UserProfile{
		Roles:     []string{auth.RoleUser},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.UserInfo != nil {
		profile.ID = strings.TrimSpace(record.UserInfo.UID)
		profile.DisplayName = strings.TrimSpace(record.UserInfo.DisplayName)
		profile.Email = strings.ToLower(strings.TrimSpace(record.UserInfo.Email))
	}

	if locale, ok := record.CustomClaims["locale"].(string); ok {
		if canonical, err := canonicaliseLanguageTag(locale); err == nil {
			profile.Locale = canonical
		}
	}
	if value, ok := record.CustomClaims["role"].(string); ok {
		role := strings.ToLower(strings.TrimSpace(value))
		if role != "" && role != auth.RoleUser {
			profile.Roles = append(profile.Roles, role)
		}
	}

	return profile
}
