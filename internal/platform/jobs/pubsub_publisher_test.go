package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rise-n-smoke/ordering/internal/domain"
)

func TestOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	event := domain.OrderEvent{
		Type:        domain.OrderEventConfirmed,
		OrderID:     "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		OrderNumber: "RNS-LX1-AB12",
		Status:      domain.OrderStatusConfirmed,
		OrderType:   domain.OrderTypePickup,
		Total:       4328,
		OccurredAt:  time.Date(2024, 5, 10, 17, 0, 0, 0, time.UTC),
	}
	if _, err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload domain.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderNumber != event.OrderNumber || payload.Total != 4328 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if messages[0].Attributes["type"] != domain.OrderEventConfirmed || messages[0].OrderingKey != event.OrderID {
		t.Fatalf("unexpected attributes %#v key=%q", messages[0].Attributes, messages[0].OrderingKey)
	}
}

func TestNewOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error")
	}
}
