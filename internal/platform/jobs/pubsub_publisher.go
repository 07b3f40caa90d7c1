// Package jobs publishes order lifecycle events for downstream consumers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

// OrderEventPublisher publishes order events to a Pub/Sub topic. Messages
// carry the order id as ordering key so consumers see one order's events in
// sequence.
type OrderEventPublisher struct {
	topic *pubsub.Topic
}

// NewOrderEventPublisher wraps topic and enables message ordering on it.
func NewOrderEventPublisher(topic *pubsub.Topic) (*OrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("jobs: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &OrderEventPublisher{topic: topic}, nil
}

// PublishOrderEvent blocks until the server acknowledges the message.
func (p *OrderEventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal order event: %w", err)
	}
	attrs := map[string]string{
		"type":        event.Type,
		"orderId":     event.OrderID,
		"orderNumber": event.OrderNumber,
		"status":      string(event.Status),
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs, OrderingKey: event.OrderID})
	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(event.OrderID)
		return "", fmt.Errorf("jobs: publish %s: %w", event.Type, err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *OrderEventPublisher) Stop() {
	p.topic.Stop()
}
