package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/services"
)

const maxAddressBodySize = 16 * 1024

func (h *MeHandlers) addressRoutes(r chi.Router) {
	r.Get("/", h.listAddresses)
	r.Post("/", h.createAddress)
	r.Put("/{addressID}", h.updateAddress)
	r.Delete("/{addressID}", h.deleteAddress)
	r.Post("/{addressID}/default", h.setDefaultAddress)
}

func (h *MeHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
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

	addresses, err := h.users.ListAddresses(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	items := make([]addressPayload, 0, len(addresses))
	for _, address := range addresses {
		items = append(items, buildAddressPayload(address))
	}
	writeJSONResponse(w, http.StatusOK, addressListResponse{Items: items})
}

func (h *MeHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	h.upsertAddress(w, r, nil)
}

func (h *MeHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if addressID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("validation_error", "address id is required", http.StatusBadRequest))
		return
	}
	h.upsertAddress(w, r, &addressID)
}

func (h *MeHandlers) upsertAddress(w http.ResponseWriter, r *http.Request, addressID *string) {
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

	body, err := readLimitedBody(r, maxAddressBodySize)
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

	var req addressRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	address, err := h.users.UpsertAddress(ctx, services.UpsertAddressCommand{
		UserID:    strings.TrimSpace(identity.UID),
		AddressID: cloneStringPointer(addressID),
		Address: services.Address{
			Name:       strings.TrimSpace(req.Name),
			Phone:      strings.TrimSpace(req.Phone),
			Line1:      strings.TrimSpace(req.Line1),
			Line2:      strings.TrimSpace(req.Line2),
			City:       strings.TrimSpace(req.City),
			State:      strings.TrimSpace(req.State),
			PostalCode: strings.TrimSpace(req.PostalCode),
			Country:    strings.ToUpper(strings.TrimSpace(req.Country)),
			IsDefault:  req.IsDefault,
		},
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if addressID == nil {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, addressResponse{Address: buildAddressPayload(address)})
}

func (h *MeHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
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

	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if addressID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "address id is required", http.StatusBadRequest))
		return
	}

	err := h.users.DeleteAddress(ctx, services.DeleteAddressCommand{
		UserID:    strings.TrimSpace(identity.UID),
		AddressID: addressID,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteNoContent(ctx, w)
}

func (h *MeHandlers) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
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

	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if addressID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "address id is required", http.StatusBadRequest))
		return
	}

	address, err := h.users.SetDefaultAddress(ctx, services.SetDefaultAddressCommand{
		UserID:    strings.TrimSpace(identity.UID),
		AddressID: addressID,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Address: buildAddressPayload(address)})
}

type addressRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"is_default"`
}

type addressListResponse struct {
	Items []addressPayload `json:"items"`
}

type addressResponse struct {
	Address addressPayload `json:"address"`
}

type addressPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"is_default"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func buildAddressPayload(address services.Address) addressPayload {
	return addressPayload{
		ID:         strings.TrimSpace(address.ID),
		Name:       address.Name,
		Phone:      address.Phone,
		Line1:      address.Line1,
		Line2:      address.Line2,
		City:       address.City,
		State:      address.State,
		PostalCode: address.PostalCode,
		Country:    strings.ToUpper(strings.TrimSpace(address.Country)),
		IsDefault:  address.IsDefault,
		CreatedAt:  formatTime(address.CreatedAt),
		UpdatedAt:  formatTime(address.UpdatedAt),
	}
}
