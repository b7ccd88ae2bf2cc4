package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/payments"
	"github.com/maplecart/api/internal/services"
)

type stubPaymentProvider struct {
	verifyWebhookFunc func(ctx context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error)
}

func (s *stubPaymentProvider) CreatePayment(ctx context.Context, req payments.CreatePaymentRequest) (payments.PaymentResult, error) {
	return payments.PaymentResult{}, fmt.Errorf("unexpected CreatePayment call")
}

func (s *stubPaymentProvider) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	return payments.RefundResult{}, fmt.Errorf("unexpected Refund call")
}

func (s *stubPaymentProvider) VerifyWebhook(ctx context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error) {
	if s.verifyWebhookFunc == nil {
		return payments.WebhookEvent{}, fmt.Errorf("unexpected VerifyWebhook call")
	}
	return s.verifyWebhookFunc(ctx, req)
}

var _ payments.Provider = (*stubPaymentProvider)(nil)

func newWebhookRouter(t *testing.T, provider payments.Provider, orders services.OrderService) *chi.Mux {
	t.Helper()
	manager, err := payments.NewManager(map[string]payments.Provider{"stripe": provider})
	if err != nil {
		t.Fatalf("failed to build payments manager: %v", err)
	}
	handler := NewWebhookHandlers(manager, orders, nil)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func TestWebhookHandlersAppliesSucceededEvent(t *testing.T) {
	occurred := time.Date(2025, 7, 2, 15, 4, 0, 0, time.UTC)
	provider := &stubPaymentProvider{
		verifyWebhookFunc: func(ctx context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error) {
			if !strings.Contains(string(req.Payload), "pi_123") {
				t.Fatalf("expected raw payload to reach the provider, got %q", string(req.Payload))
			}
			if req.Headers.Get("Stripe-Signature") == "" {
				t.Fatalf("expected signature header forwarded")
			}
			return payments.WebhookEvent{
				Provider:      "stripe",
				Type:          payments.EventPaymentSucceeded,
				IntentID:      "pi_123",
				TransactionID: "ch_456",
				OccurredAt:    occurred,
			}, nil
		},
	}

	orders := &stubOrderService{
		handlePaymentEventFunc: func(ctx context.Context, cmd services.PaymentEventCommand) (services.Order, error) {
			if cmd.EventType != services.PaymentEventSucceeded {
				t.Fatalf("unexpected event type %q", cmd.EventType)
			}
			if cmd.IntentID != "pi_123" || cmd.TransactionID != "ch_456" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			if !cmd.OccurredAt.Equal(occurred) {
				t.Fatalf("unexpected occurred at %v", cmd.OccurredAt)
			}
			return services.Order{ID: "order-1", Status: domain.OrderStatusConfirmed}, nil
		},
	}

	router := newWebhookRouter(t, provider, orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1","data":{"object":{"id":"pi_123"}}}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp webhookAckResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if !resp.Received || resp.OrderID != "order-1" || resp.OrderStatus != string(domain.OrderStatusConfirmed) {
		t.Fatalf("unexpected ack %#v", resp)
	}
}

func TestWebhookHandlersInvalidSignature(t *testing.T) {
	provider := &stubPaymentProvider{
		verifyWebhookFunc: func(ctx context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{}, fmt.Errorf("%w: digest mismatch", payments.ErrInvalidSignature)
		},
	}

	router := newWebhookRouter(t, provider, &stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	envelope := decodeErrorEnvelope(t, rr.Body.Bytes())
	if envelope.Error != "invalid_signature" {
		t.Fatalf("expected invalid_signature code, got %q", envelope.Error)
	}
}

func TestWebhookHandlersIgnoredEventAcked(t *testing.T) {
	provider := &stubPaymentProvider{
		verifyWebhookFunc: func(ctx context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{}, fmt.Errorf("%w: customer.updated", payments.ErrEventIgnored)
		},
	}

	router := newWebhookRouter(t, provider, &stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 ack, got %d", rr.Code)
	}

	var resp webhookAckResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if !resp.Received || resp.OrderID != "" {
		t.Fatalf("unexpected ack %#v", resp)
	}
}

func TestWebhookHandlersUnknownProvider(t *testing.T) {
	router := newWebhookRouter(t, &stubPaymentProvider{}, &stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/squarespace", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestWebhookHandlersUnknownOrderAcked(t *testing.T) {
	provider := &stubPaymentProvider{
		verifyWebhookFunc: func(ctx context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{
				Provider: "stripe",
				Type:     payments.EventPaymentFailed,
				IntentID: "pi_orphan",
			}, nil
		},
	}
	orders := &stubOrderService{
		handlePaymentEventFunc: func(ctx context.Context, cmd services.PaymentEventCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: no order for intent", services.ErrOrderNotFound)
		},
	}

	router := newWebhookRouter(t, provider, orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 ack for unknown order, got %d", rr.Code)
	}
}

func TestWebhookHandlersConflictSurfaces(t *testing.T) {
	provider := &stubPaymentProvider{
		verifyWebhookFunc: func(ctx context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{
				Provider: "stripe",
				Type:     payments.EventPaymentFailed,
				IntentID: "pi_123",
			}, nil
		},
	}
	orders := &stubOrderService{
		handlePaymentEventFunc: func(ctx context.Context, cmd services.PaymentEventCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: payment already captured", services.ErrOrderConflict)
		},
	}

	router := newWebhookRouter(t, provider, orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}
