package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/maplecart/api/internal/services"
)

// PubSubOrderEvents publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEvents struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEvents constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEvents(topic *pubsub.Topic) (*PubSubOrderEvents, error) {
	if topic == nil {
		return nil, errors.New("pubsub order events: topic is required")
	}
	return &PubSubOrderEvents{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order event message on the configured topic.
func (p *PubSubOrderEvents) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order events: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", string(event.CurrentStatus))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PubSubStockEvents publishes inventory movement events to a Pub/Sub topic.
// Low stock notifications for back-office consumers ride on the same stream.
type PubSubStockEvents struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubStockEvents constructs a Pub/Sub backed stock event publisher.
func NewPubSubStockEvents(topic *pubsub.Topic) (*PubSubStockEvents, error) {
	if topic == nil {
		return nil, errors.New("pubsub stock events: topic is required")
	}
	return &PubSubStockEvents{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishStockEvent enqueues a stock movement message on the configured topic.
func (p *PubSubStockEvents) PublishStockEvent(ctx context.Context, event services.StockEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub stock events: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "productId", event.ProductID)
	setAttr(attrs, "variantSku", event.VariantSKU)
	attrs["lowStock"] = strconv.FormatBool(event.LowStock)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish stock event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var (
	_ services.OrderEventPublisher = (*PubSubOrderEvents)(nil)
	_ services.StockEventPublisher = (*PubSubStockEvents)(nil)
)
