package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maplecart/api/internal/payments"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/services"
)

const maxWebhookBodySize = 1 << 20

// WebhookHandlers receives payment provider callbacks, verifies their
// signatures, and applies the resulting events to orders.
type WebhookHandlers struct {
	payments *payments.Manager
	orders   services.OrderService
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(manager *payments.Manager, orders services.OrderService, logger func(ctx context.Context, event string, fields map[string]any)) *WebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		payments: manager,
		orders:   orders,
		logger:   logger,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePaymentWebhook)
}

func (h *WebhookHandlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_service_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.TrimSpace(chi.URLParam(r, "provider"))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "provider is required", http.StatusBadRequest))
		return
	}

	// Signature verification needs the untouched raw payload.
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.payments.VerifyWebhook(ctx, provider, payments.WebhookRequest{
		Payload: payload,
		Headers: r.Header,
	})
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrEventIgnored):
			// Verified but irrelevant to the order flow; ack so the provider
			// stops retrying.
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		case errors.Is(err, payments.ErrInvalidSignature):
			h.logger(ctx, "webhook.signature_rejected", map[string]any{"provider": provider})
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, payments.ErrUnsupportedProvider):
			httpx.WriteError(ctx, w, httpx.NewError("not_found", "unknown payment provider", http.StatusNotFound))
		default:
			h.logger(ctx, "webhook.verification_failed", map[string]any{"provider": provider, "error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "webhook could not be verified", http.StatusBadRequest))
		}
		return
	}

	cmd := services.PaymentEventCommand{
		Provider:      event.Provider,
		IntentID:      event.IntentID,
		TransactionID: event.TransactionID,
		FailureReason: event.FailureReason,
		OccurredAt:    event.OccurredAt,
	}
	switch event.Type {
	case payments.EventPaymentSucceeded:
		cmd.EventType = services.PaymentEventSucceeded
	case payments.EventPaymentFailed:
		cmd.EventType = services.PaymentEventFailed
	case payments.EventPaymentRefunded:
		cmd.EventType = services.PaymentEventRefunded
	default:
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
		return
	}

	order, err := h.orders.HandlePaymentEvent(ctx, cmd)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			// No matching order; retrying the delivery will not help.
			h.logger(ctx, "webhook.order_not_found", map[string]any{
				"provider": event.Provider,
				"intentID": event.IntentID,
			})
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
			return
		}
		h.logger(ctx, "webhook.apply_failed", map[string]any{
			"provider": event.Provider,
			"intentID": event.IntentID,
			"error":    err.Error(),
		})
		writeOrderError(ctx, w, err)
		return
	}

	h.logger(ctx, "webhook.applied", map[string]any{
		"provider":    event.Provider,
		"eventType":   string(event.Type),
		"orderID":     order.ID,
		"orderStatus": string(order.Status),
	})
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Received:    true,
		OrderID:     order.ID,
		OrderStatus: string(order.Status),
	})
}

type webhookAckResponse struct {
	Received    bool   `json:"received"`
	OrderID     string `json:"order_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
}
