package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/services"
)

const maxInternalBodySize = 4 * 1024

// InternalHandlers exposes operational endpoints for trusted callers. The
// router mounts these behind HMAC middleware.
type InternalHandlers struct {
	sweeper services.ReservationSweeper
	system  services.SystemService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(sweeper services.ReservationSweeper, system services.SystemService) *InternalHandlers {
	return &InternalHandlers{
		sweeper: sweeper,
		system:  system,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/reservations/sweep", h.sweepReservations)
	r.Post("/counters/{counterID}/next", h.nextCounterValue)
}

func (h *InternalHandlers) sweepReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweeper_unavailable", "reservation sweeper unavailable", http.StatusServiceUnavailable))
		return
	}

	released, err := h.sweeper.SweepExpired(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("unexpected", "reservation sweep failed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, sweepResponse{Released: released})
}

func (h *InternalHandlers) nextCounterValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service unavailable", http.StatusServiceUnavailable))
		return
	}

	counterID := strings.TrimSpace(chi.URLParam(r, "counterID"))
	if counterID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "counter id is required", http.StatusBadRequest))
		return
	}

	var req nextCounterRequest
	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{
		CounterID: counterID,
		Step:      req.Step,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCounterInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrCounterExhausted):
			httpx.WriteError(ctx, w, httpx.NewError("counter_exhausted", err.Error(), http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("unexpected", "failed to advance counter", http.StatusInternalServerError))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, nextCounterResponse{CounterID: counterID, Value: value})
}

type sweepResponse struct {
	Released int `json:"released"`
}

type nextCounterRequest struct {
	Step int64 `json:"step"`
}

type nextCounterResponse struct {
	CounterID string `json:"counter_id"`
	Value     int64  `json:"value"`
}
