package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const paypalLiveBaseURL = "https://api-m.paypal.com"

// Doer sends an HTTP request. Satisfied by *http.Client and test doubles.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PayPalLogger defines the logging contract for PayPal provider operations.
type PayPalLogger func(ctx context.Context, event string, fields map[string]any)

// PayPalProviderConfig configures the PayPalProvider.
type PayPalProviderConfig struct {
	// BaseURL defaults to the live API host; point it at the sandbox in tests.
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	HTTPClient   Doer
	Clock        func() time.Time
	Logger       PayPalLogger
}

// PayPalProvider implements the Provider interface against the PayPal REST v2 API.
// There is no official Go SDK, so requests go through an injected HTTP client.
type PayPalProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   Doer
	clock        func() time.Time
	logger       PayPalLogger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewPayPalProvider constructs a PayPal Provider using the given configuration.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = paypalLiveBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PayPalProvider{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    strings.TrimSpace(cfg.WebhookID),
		httpClient:   httpClient,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *PayPalProvider) accessToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.token != "" && p.clock().Before(p.tokenExpiry) {
		return p.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token paypalTokenResponse
	if err := p.send(req, &token); err != nil {
		return "", fmt.Errorf("paypal: fetch access token: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("paypal: token response missing access_token")
	}

	p.token = token.AccessToken
	// Renew a minute early so in-flight requests never carry a stale token.
	p.tokenExpiry = p.clock().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)
	return p.token, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreatePayment opens a PayPal checkout order in CAPTURE mode.
func (p *PayPalProvider) CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentResult, error) {
	if p == nil {
		return PaymentResult{}, errors.New("paypal: provider is nil")
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"invoice_id":   req.OrderNumber,
			"amount":       paypalMinorAmount(req.Amount, req.Currency),
		}},
	}

	httpReq, err := p.jsonRequest(ctx, http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		return PaymentResult{}, err
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("PayPal-Request-Id", key)
	}

	var order paypalOrderResponse
	if err := p.send(httpReq, &order); err != nil {
		return PaymentResult{}, fmt.Errorf("paypal: create order: %w", err)
	}

	p.logger(ctx, "payments.paypal.order.created", map[string]any{
		"paypalOrder": order.ID,
		"orderId":     req.OrderID,
		"status":      order.Status,
	})

	return PaymentResult{
		Provider: "paypal",
		IntentID: order.ID,
		Status:   paypalOrderStatus(order.Status),
	}, nil
}

type paypalRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund returns funds for a captured PayPal payment. The intent id must be
// the capture id reported by the capture webhook.
func (p *PayPalProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("paypal: provider is nil")
	}
	captureID := strings.TrimSpace(req.IntentID)
	if captureID == "" {
		return RefundResult{}, errors.New("paypal: capture id is required")
	}

	body := map[string]any{}
	if req.Amount != nil {
		body["amount"] = paypalMinorAmount(*req.Amount, req.Currency)
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		body["note_to_payer"] = reason
	}

	httpReq, err := p.jsonRequest(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund", body)
	if err != nil {
		return RefundResult{}, err
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("PayPal-Request-Id", key)
	}

	var refund paypalRefundResponse
	if err := p.send(httpReq, &refund); err != nil {
		return RefundResult{}, fmt.Errorf("paypal: refund capture: %w", err)
	}

	p.logger(ctx, "payments.paypal.capture.refunded", map[string]any{
		"capture": captureID,
		"refund":  refund.ID,
		"status":  refund.Status,
	})

	status := StatusRefunded
	switch strings.ToUpper(refund.Status) {
	case "PENDING":
		status = StatusPending
	case "CANCELLED", "FAILED":
		status = StatusFailed
	}

	return RefundResult{RefundID: refund.ID, Status: status}, nil
}

type paypalWebhookEvent struct {
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Resource   struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		StatusDetails struct {
			Reason string `json:"reason"`
		} `json:"status_details"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// VerifyWebhook checks the transmission signature with PayPal's verification
// endpoint and normalises the event.
func (p *PayPalProvider) VerifyWebhook(ctx context.Context, req WebhookRequest) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("paypal: provider is nil")
	}
	if p.webhookID == "" {
		return WebhookEvent{}, errors.New("paypal: webhook id is not configured")
	}

	body := map[string]any{
		"auth_algo":         req.Headers.Get("Paypal-Auth-Algo"),
		"cert_url":          req.Headers.Get("Paypal-Cert-Url"),
		"transmission_id":   req.Headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  req.Headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": req.Headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(req.Payload),
	}

	httpReq, err := p.jsonRequest(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body)
	if err != nil {
		return WebhookEvent{}, err
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.send(httpReq, &verification); err != nil {
		return WebhookEvent{}, fmt.Errorf("paypal: verify webhook signature: %w", err)
	}
	if !strings.EqualFold(verification.VerificationStatus, "SUCCESS") {
		return WebhookEvent{}, fmt.Errorf("%w: verification status %q", ErrInvalidSignature, verification.VerificationStatus)
	}

	var event paypalWebhookEvent
	if err := json.Unmarshal(req.Payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("paypal: decode webhook event: %w", err)
	}

	occurredAt := p.clock()
	if parsed, err := time.Parse(time.RFC3339, event.CreateTime); err == nil {
		occurredAt = parsed.UTC()
	}

	intentID := event.Resource.SupplementaryData.RelatedIDs.OrderID
	if intentID == "" {
		intentID = event.Resource.ID
	}

	normalised := WebhookEvent{
		Provider:      "paypal",
		IntentID:      intentID,
		TransactionID: event.Resource.ID,
		OccurredAt:    occurredAt,
	}
	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		normalised.Type = EventPaymentSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		normalised.Type = EventPaymentFailed
		normalised.FailureReason = event.Resource.StatusDetails.Reason
	case "PAYMENT.CAPTURE.REFUNDED":
		normalised.Type = EventPaymentRefunded
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrEventIgnored, event.EventType)
	}
	if normalised.IntentID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing order reference", ErrEventIgnored)
	}

	p.logger(ctx, "payments.paypal.webhook.verified", map[string]any{
		"eventType":   event.EventType,
		"paypalOrder": normalised.IntentID,
	})
	return normalised, nil
}

func (p *PayPalProvider) jsonRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("paypal: encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("paypal: build request: %w", err)
	}
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *PayPalProvider) send(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// paypalMinorAmount renders a minor-unit amount as the decimal string PayPal
// expects. All supported currencies use two decimal places.
func paypalMinorAmount(amount int64, currency string) paypalAmount {
	return paypalAmount{
		CurrencyCode: strings.ToUpper(strings.TrimSpace(currency)),
		Value:        fmt.Sprintf("%d.%02d", amount/100, amount%100),
	}
}

func paypalOrderStatus(status string) Status {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return StatusSucceeded
	case "VOIDED":
		return StatusFailed
	default:
		return StatusPending
	}
}
