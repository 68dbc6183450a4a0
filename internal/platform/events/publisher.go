package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/sokoline/payments-api/internal/services"
)

// PubSubReconciliationPublisher queues reconciliation anomalies on a Pub/Sub
// topic for the manual review workflow.
type PubSubReconciliationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReconciliationPublisher constructs a Pub/Sub backed anomaly publisher.
func NewPubSubReconciliationPublisher(topic *pubsub.Topic) (*PubSubReconciliationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub reconciliation publisher: topic is required")
	}
	return &PubSubReconciliationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishReconciliationEvent enqueues the anomaly on the configured topic and
// returns the broker message id.
func (p *PubSubReconciliationPublisher) PublishReconciliationEvent(ctx context.Context, event services.ReconciliationEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub reconciliation publisher: not initialised")
	}

	data, err := p.marshal(reconciliationMessage{
		Kind:        event.Kind,
		Flow:        event.Flow,
		PayableType: string(event.PayableType),
		PayableID:   event.PayableID,
		Token:       event.Token,
		Status:      string(event.Status),
		Reason:      event.Reason,
		OccurredAt:  event.OccurredAt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal reconciliation event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", event.Kind)
	setAttr(attrs, "flow", event.Flow)
	setAttr(attrs, "payableType", string(event.PayableType))
	setAttr(attrs, "payableId", event.PayableID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish reconciliation event: %w", err)
	}
	return id, nil
}

// reconciliationMessage is the wire shape consumed by the review workflow.
type reconciliationMessage struct {
	Kind        string    `json:"kind"`
	Flow        string    `json:"flow"`
	PayableType string    `json:"payableType,omitempty"`
	PayableID   string    `json:"payableId,omitempty"`
	Token       string    `json:"token,omitempty"`
	Status      string    `json:"status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// Ensure interface compliance.
var _ services.ReconciliationEventPublisher = (*PubSubReconciliationPublisher)(nil)
