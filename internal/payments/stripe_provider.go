package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripeIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
	// VerifySignature overrides webhook signature checking in tests.
	VerifySignature func(payload []byte, header string, secret string) (stripe.Event, error)
}

// StripeProvider implements the Provider interface using Stripe APIs.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	verify        func(payload []byte, header string, secret string) (stripe.Event, error)
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	verify := cfg.VerifySignature
	if verify == nil {
		verify = webhook.ConstructEvent
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		verify:        verify,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePayment opens a Stripe Payment Intent for the order amount.
func (p *StripeProvider) CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentResult, error) {
	if p == nil {
		return PaymentResult{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	params.Metadata = map[string]string{
		"orderId":     req.OrderID,
		"orderNumber": req.OrderNumber,
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderId":       req.OrderID,
		"amount":        intent.Amount,
	})

	return PaymentResult{
		Provider:     "stripe",
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       stripeIntentStatus(intent.Status),
	}, nil
}

// Refund creates a refund for the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.IntentID,
		"refund":        refund.ID,
	})

	status := StatusRefunded
	switch refund.Status {
	case stripe.RefundStatusPending:
		status = StatusPending
	case stripe.RefundStatusFailed:
		status = StatusFailed
	}

	return RefundResult{RefundID: refund.ID, Status: status}, nil
}

// VerifyWebhook checks the Stripe-Signature header and normalises the event.
func (p *StripeProvider) VerifyWebhook(ctx context.Context, req WebhookRequest) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: provider is nil")
	}

	event, err := p.verify(req.Payload, req.Headers.Get("Stripe-Signature"), p.webhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	occurredAt := p.clock()
	if event.Created != 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}

	var object struct {
		ID            string `json:"id"`
		PaymentIntent string `json:"payment_intent"`
		LastError     *struct {
			Message string `json:"message"`
		} `json:"last_payment_error"`
	}
	if event.Data != nil {
		if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode webhook object: %w", err)
		}
	}

	normalised := WebhookEvent{Provider: "stripe", OccurredAt: occurredAt}
	switch string(event.Type) {
	case "payment_intent.succeeded":
		normalised.Type = EventPaymentSucceeded
		normalised.IntentID = object.ID
	case "payment_intent.payment_failed":
		normalised.Type = EventPaymentFailed
		normalised.IntentID = object.ID
		if object.LastError != nil {
			normalised.FailureReason = object.LastError.Message
		}
	case "charge.refunded":
		normalised.Type = EventPaymentRefunded
		normalised.IntentID = object.PaymentIntent
		normalised.TransactionID = object.ID
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
	}
	if normalised.IntentID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing payment intent reference", ErrEventIgnored)
	}

	p.logger(ctx, "payments.stripe.webhook.verified", map[string]any{
		"eventType":     string(event.Type),
		"paymentIntent": normalised.IntentID,
	})
	return normalised, nil
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
