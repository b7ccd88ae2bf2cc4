package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type paypalCall struct {
	method string
	path   string
	body   map[string]any
}

// stubDoer answers each path with a canned JSON body and records calls.
type stubDoer struct {
	responses map[string]string
	statuses  map[string]int
	calls     []paypalCall
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	call := paypalCall{method: req.Method, path: req.URL.Path}
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		if len(data) > 0 && strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			_ = json.Unmarshal(data, &call.body)
		}
	}
	s.calls = append(s.calls, call)

	body, ok := s.responses[req.URL.Path]
	if !ok {
		return nil, errors.New("unexpected request to " + req.URL.Path)
	}
	status := http.StatusOK
	if s.statuses != nil {
		if code, ok := s.statuses[req.URL.Path]; ok {
			status = code
		}
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func newTestPayPalProvider(t *testing.T, doer *stubDoer) *PayPalProvider {
	t.Helper()
	if doer.responses == nil {
		doer.responses = map[string]string{}
	}
	if _, ok := doer.responses["/v1/oauth2/token"]; !ok {
		doer.responses["/v1/oauth2/token"] = `{"access_token":"tok_test","expires_in":32400}`
	}
	provider, err := NewPayPalProvider(PayPalProviderConfig{
		BaseURL:      "https://api-m.sandbox.paypal.com",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookID:    "wh-1",
		HTTPClient:   doer,
		Clock:        func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new paypal provider: %v", err)
	}
	return provider
}

func TestPayPalCreatePaymentBuildsOrder(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/v2/checkout/orders": `{"id":"PP-ORDER-1","status":"CREATED"}`,
	}}
	provider := newTestPayPalProvider(t, doer)

	result, err := provider.CreatePayment(context.Background(), CreatePaymentRequest{
		OrderID:        "order-1",
		OrderNumber:    "MC-2025-000042",
		Amount:         17280,
		Currency:       "usd",
		IdempotencyKey: "order-1",
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if result.IntentID != "PP-ORDER-1" || result.Status != StatusPending {
		t.Fatalf("unexpected result %+v", result)
	}

	// token fetch, then order creation
	if len(doer.calls) != 2 || doer.calls[1].path != "/v2/checkout/orders" {
		t.Fatalf("unexpected calls %+v", doer.calls)
	}
	units, ok := doer.calls[1].body["purchase_units"].([]any)
	if !ok || len(units) != 1 {
		t.Fatalf("expected one purchase unit, got %+v", doer.calls[1].body)
	}
	unit := units[0].(map[string]any)
	amount := unit["amount"].(map[string]any)
	if amount["value"] != "172.80" || amount["currency_code"] != "USD" {
		t.Fatalf("unexpected amount %+v", amount)
	}
	if unit["invoice_id"] != "MC-2025-000042" {
		t.Fatalf("expected order number as invoice id, got %+v", unit)
	}
}

func TestPayPalCreatePaymentReusesToken(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/v2/checkout/orders": `{"id":"PP-ORDER-1","status":"CREATED"}`,
	}}
	provider := newTestPayPalProvider(t, doer)

	for i := 0; i < 2; i++ {
		if _, err := provider.CreatePayment(context.Background(), CreatePaymentRequest{Amount: 100, Currency: "USD"}); err != nil {
			t.Fatalf("create payment %d: %v", i, err)
		}
	}

	tokenCalls := 0
	for _, call := range doer.calls {
		if call.path == "/v1/oauth2/token" {
			tokenCalls++
		}
	}
	if tokenCalls != 1 {
		t.Fatalf("expected 1 token fetch, got %d", tokenCalls)
	}
}

func TestPayPalRefundPartialAmount(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/v2/payments/captures/CAP-1/refund": `{"id":"REF-1","status":"COMPLETED"}`,
	}}
	provider := newTestPayPalProvider(t, doer)

	amount := int64(5000)
	result, err := provider.Refund(context.Background(), RefundRequest{
		IntentID: "CAP-1",
		Amount:   &amount,
		Currency: "USD",
		Reason:   "damaged item",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.RefundID != "REF-1" || result.Status != StatusRefunded {
		t.Fatalf("unexpected result %+v", result)
	}

	refundCall := doer.calls[len(doer.calls)-1]
	refundAmount := refundCall.body["amount"].(map[string]any)
	if refundAmount["value"] != "50.00" {
		t.Fatalf("unexpected refund amount %+v", refundAmount)
	}
	if refundCall.body["note_to_payer"] != "damaged item" {
		t.Fatalf("expected refund note, got %+v", refundCall.body)
	}
}

func TestPayPalVerifyWebhookAcceptsCapture(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/v1/notifications/verify-webhook-signature": `{"verification_status":"SUCCESS"}`,
	}}
	provider := newTestPayPalProvider(t, doer)

	payload := `{
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"create_time": "2025-06-01T11:58:00Z",
		"resource": {
			"id": "CAP-1",
			"supplementary_data": {"related_ids": {"order_id": "PP-ORDER-1"}}
		}
	}`
	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "tx-1")
	headers.Set("Paypal-Transmission-Sig", "sig")

	event, err := provider.VerifyWebhook(context.Background(), WebhookRequest{Payload: []byte(payload), Headers: headers})
	if err != nil {
		t.Fatalf("verify webhook: %v", err)
	}
	if event.Type != EventPaymentSucceeded || event.IntentID != "PP-ORDER-1" || event.TransactionID != "CAP-1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if !event.OccurredAt.Equal(time.Date(2025, 6, 1, 11, 58, 0, 0, time.UTC)) {
		t.Fatalf("unexpected occurredAt %s", event.OccurredAt)
	}

	verifyCall := doer.calls[len(doer.calls)-1]
	if verifyCall.body["webhook_id"] != "wh-1" || verifyCall.body["transmission_id"] != "tx-1" {
		t.Fatalf("unexpected verification body %+v", verifyCall.body)
	}
}

func TestPayPalVerifyWebhookRejectsFailure(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/v1/notifications/verify-webhook-signature": `{"verification_status":"FAILURE"}`,
	}}
	provider := newTestPayPalProvider(t, doer)

	_, err := provider.VerifyWebhook(context.Background(), WebhookRequest{Payload: []byte(`{}`), Headers: http.Header{}})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestPayPalVerifyWebhookIgnoresUnhandledEvents(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/v1/notifications/verify-webhook-signature": `{"verification_status":"SUCCESS"}`,
	}}
	provider := newTestPayPalProvider(t, doer)

	payload := `{"event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"PP-ORDER-1"}}`
	_, err := provider.VerifyWebhook(context.Background(), WebhookRequest{Payload: []byte(payload), Headers: http.Header{}})
	if !errors.Is(err, ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}
