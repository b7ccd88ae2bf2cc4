package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

// EventType enumerates the webhook outcomes the order flow reacts to.
type EventType string

const (
	EventPaymentSucceeded EventType = "succeeded"
	EventPaymentFailed    EventType = "failed"
	EventPaymentRefunded  EventType = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrEventIgnored is returned for verified webhook events the order flow
	// does not act on. Handlers acknowledge these without processing.
	ErrEventIgnored = errors.New("payments: event ignored")
)

// CreatePaymentRequest captures the payload required to open a payment with a PSP.
type CreatePaymentRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	CustomerEmail  string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentResult is the normalised outcome of opening a payment.
type PaymentResult struct {
	Provider     string
	IntentID     string
	ClientSecret string
	Status       Status
}

// RefundRequest defines a PSP refund attempt. A nil amount refunds the full charge.
type RefundRequest struct {
	IntentID string
	Amount   *int64
	// Currency is required by providers that denominate partial refunds.
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult reports the PSP-assigned refund reference.
type RefundResult struct {
	RefundID string
	Status   Status
}

// WebhookRequest carries the raw webhook body and headers for verification.
type WebhookRequest struct {
	Payload []byte
	Headers http.Header
}

// WebhookEvent is a verified, normalised webhook notification.
type WebhookEvent struct {
	Provider      string
	Type          EventType
	IntentID      string
	TransactionID string
	FailureReason string
	OccurredAt    time.Time
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	VerifyWebhook(ctx context.Context, req WebhookRequest) (WebhookEvent, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when a request names none.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.TrimSpace(strings.ToLower(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registry := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registry[key] = v
	}
	m := &Manager{providers: registry}
	if _, ok := registry["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(name string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	key := strings.TrimSpace(strings.ToLower(name))
	if key == "" {
		key = m.defaultProvider
	}
	if key == "" && len(m.providers) == 1 {
		for k := range m.providers {
			key = k
		}
	}
	if p, ok := m.providers[key]; ok {
		return key, p, nil
	}
	return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
}

// CreatePayment delegates to the named provider, falling back to the default.
func (m *Manager) CreatePayment(ctx context.Context, provider string, req CreatePaymentRequest) (PaymentResult, error) {
	key, p, err := m.resolve(provider)
	if err != nil {
		return PaymentResult{}, err
	}
	result, err := p.CreatePayment(ctx, req)
	if err != nil {
		return PaymentResult{}, err
	}
	result.Provider = key
	return result, nil
}

// Refund delegates to the named provider.
func (m *Manager) Refund(ctx context.Context, provider string, req RefundRequest) (RefundResult, error) {
	_, p, err := m.resolve(provider)
	if err != nil {
		return RefundResult{}, err
	}
	return p.Refund(ctx, req)
}

// VerifyWebhook checks the payload signature with the named provider and
// returns the normalised event.
func (m *Manager) VerifyWebhook(ctx context.Context, provider string, req WebhookRequest) (WebhookEvent, error) {
	key, p, err := m.resolve(provider)
	if err != nil {
		return WebhookEvent{}, err
	}
	event, err := p.VerifyWebhook(ctx, req)
	if err != nil {
		return WebhookEvent{}, err
	}
	event.Provider = key
	return event, nil
}
