package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/repositories"
	"github.com/maplecart/api/internal/services"
)

const maxProfileBodySize = 16 * 1024

// MeHandlers exposes the authenticated account surface: profile, addresses,
// and the wishlist.
type MeHandlers struct {
	authn     *auth.Authenticator
	users     services.UserService
	wishlists services.WishlistService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before
// invoking the user facing services.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService, wishlists services.WishlistService) *MeHandlers {
	return &MeHandlers{
		authn:     authn,
		users:     users,
		wishlists: wishlists,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Patch("/", h.updateProfile)
	r.Route("/addresses", h.addressRoutes)
	r.Route("/wishlist", h.wishlistRoutes)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	profile, err := h.users.GetProfile(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(profile, identity)})
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxProfileBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		}
		return
	}

	updateReq, err := parseUpdateProfileRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpdateProfileCommand{UserID: strings.TrimSpace(identity.UID)}
	if updateReq.hasDisplayName {
		cmd.DisplayName = updateReq.displayName
	}
	if updateReq.hasLocale {
		cmd.Locale = updateReq.locale
	}

	updated, err := h.users.UpdateProfile(ctx, cmd)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(updated, identity)})
}

type meResponse struct {
	Profile meProfilePayload `json:"profile"`
}

type meProfilePayload struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	DisplayName   string   `json:"display_name"`
	Locale        string   `json:"locale,omitempty"`
	Roles         []string `json:"roles"`
	LoyaltyPoints int64    `json:"loyalty_points"`
	CreatedAt     string   `json:"created_at,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

type updateProfileRequest struct {
	displayName    *string
	locale         *string
	hasDisplayName bool
	hasLocale      bool
}

func parseUpdateProfileRequest(data []byte) (updateProfileRequest, error) {
	var req updateProfileRequest
	if len(strings.TrimSpace(string(data))) == 0 {
		return req, errEmptyBody
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return req, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if len(raw) == 0 {
		return req, errNoEditableFields
	}

	for key, value := range raw {
		switch key {
		case "display_name":
			if isJSONNull(value) {
				return req, errors.New("display_name must not be null")
			}
			var name string
			if err := json.Unmarshal(value, &name); err != nil {
				return req, errors.New("display_name must be a string")
			}
			req.displayName = &name
			req.hasDisplayName = true
		case "locale":
			if isJSONNull(value) {
				empty := ""
				req.locale = &empty
			} else {
				var locale string
				if err := json.Unmarshal(value, &locale); err != nil {
					return req, errors.New("locale must be a string")
				}
				req.locale = &locale
			}
			req.hasLocale = true
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
	}

	if !req.hasDisplayName && !req.hasLocale {
		return req, errNoEditableFields
	}
	return req, nil
}

func buildProfilePayload(profile services.UserProfile, identity *auth.Identity) meProfilePayload {
	email := strings.TrimSpace(strings.ToLower(profile.Email))
	if email == "" && identity != nil {
		email = strings.TrimSpace(strings.ToLower(identity.Email))
	}

	locale := strings.TrimSpace(profile.Locale)
	if locale == "" && identity != nil {
		locale = strings.TrimSpace(identity.Locale)
	}

	roles := slices.Clone(profile.Roles)
	if len(roles) == 0 && identity != nil {
		roles = slices.Clone(identity.Roles)
	}
	if len(roles) == 0 {
		roles = []string{}
	}

	return meProfilePayload{
		ID:            strings.TrimSpace(profile.ID),
		Email:         email,
		DisplayName:   profile.DisplayName,
		Locale:        locale,
		Roles:         roles,
		LoyaltyPoints: profile.LoyaltyPoints,
		CreatedAt:     formatTime(profile.CreatedAt),
		UpdatedAt:     formatTime(profile.UpdatedAt),
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidDisplayName),
		errors.Is(err, services.ErrUserInvalidLanguageTag),
		errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "profile not found", http.StatusNotFound))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile repository unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("unexpected", "failed to process profile request", http.StatusInternalServerError))
	}
}
