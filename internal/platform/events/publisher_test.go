package events

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

	domain "github.com/sokoline/payments-api/internal/domain"
	"github.com/sokoline/payments-api/internal/services"
)

func TestPubSubReconciliationPublisherPublishesMessage(t *testing.T) {
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
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "reconciliation-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubReconciliationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubReconciliationPublisher: %v", err)
	}

	event := services.ReconciliationEvent{
		Kind:        services.EventKindWebhookUnmatched,
		Flow:        "webhook",
		PayableType: domain.PayableNone,
		Token:       "tok_orphan",
		Status:      domain.TransactionStatusPaid,
		OccurredAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishReconciliationEvent(ctx, event); err != nil {
		t.Fatalf("PublishReconciliationEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload reconciliationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Kind != services.EventKindWebhookUnmatched || payload.Token != "tok_orphan" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Status != string(domain.TransactionStatusPaid) {
		t.Fatalf("payload status = %q", payload.Status)
	}
	if attr := messages[0].Attributes["kind"]; attr != services.EventKindWebhookUnmatched {
		t.Fatalf("kind attribute = %q", attr)
	}
	if _, ok := messages[0].Attributes["payableId"]; ok {
		t.Fatalf("blank payableId should not become an attribute")
	}
}

func TestNewPubSubReconciliationPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubReconciliationPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
