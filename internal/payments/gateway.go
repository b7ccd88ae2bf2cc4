package payments

import (
	"context"
	"errors"

	"github.com/maplecart/api/internal/platform/textutil"
	"github.com/maplecart/api/internal/services"
)

// Gateway adapts the Manager to the dispatch surface the order flow consumes.
type Gateway struct {
	manager *Manager
}

// NewGateway wraps a Manager for use as the order service payment gateway.
func NewGateway(manager *Manager) (*Gateway, error) {
	if manager == nil {
		return nil, errors.New("payments: manager is required")
	}
	return &Gateway{manager: manager}, nil
}

// CreateIntent opens a payment with the provider named in the request.
func (g *Gateway) CreateIntent(ctx context.Context, req services.PaymentIntentRequest) (services.PaymentIntentResult, error) {
	result, err := g.manager.CreatePayment(ctx, req.Provider, CreatePaymentRequest{
		OrderID:        req.OrderID,
		OrderNumber:    req.OrderNumber,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CustomerEmail:  req.CustomerEmail,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       textutil.NormalizeStringMap(req.Metadata),
	})
	if err != nil {
		return services.PaymentIntentResult{}, err
	}
	return services.PaymentIntentResult{
		Provider:     result.Provider,
		IntentID:     result.IntentID,
		ClientSecret: result.ClientSecret,
		Status:       string(result.Status),
	}, nil
}

// Refund returns funds for a captured payment.
func (g *Gateway) Refund(ctx context.Context, req services.PaymentRefundRequest) (services.PaymentRefundResult, error) {
	result, err := g.manager.Refund(ctx, req.Provider, RefundRequest{
		IntentID:       req.IntentID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IntentID,
	})
	if err != nil {
		return services.PaymentRefundResult{}, err
	}
	return services.PaymentRefundResult{
		RefundID: result.RefundID,
		Status:   string(result.Status),
	}, nil
}

var _ services.PaymentGateway = (*Gateway)(nil)
