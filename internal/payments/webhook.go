package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidSignature is returned when the webhook payload fails signature
// verification. Unlike processing failures this must surface as a 4xx so a
// forged delivery is rejected rather than acknowledged.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// WebhookEvent is the normalised shape of a push notification: the gateway's
// opaque object id used as correlation token, and its reported status.
type WebhookEvent struct {
	Type     string
	Token    string
	Status   string
	Livemode bool
}

// webhookObject mirrors the data.object fields shared by the event types we
// reconcile (payment intents and charges both carry id and status).
type webhookObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ParseWebhookEvent verifies the signature when a secret is configured and
// extracts the correlation token and status from the event body. With an
// empty secret the payload is decoded unverified; callers should only allow
// that outside production.
func ParseWebhookEvent(payload []byte, signatureHeader, secret string) (WebhookEvent, error) {
	var event stripe.Event

	if strings.TrimSpace(secret) != "" {
		verified, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		event = verified
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("payments: decode webhook payload: %w", err)
	}

	var object webhookObject
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
			return WebhookEvent{}, fmt.Errorf("payments: decode webhook object: %w", err)
		}
	}

	return WebhookEvent{
		Type:     string(event.Type),
		Token:    strings.TrimSpace(object.ID),
		Status:   strings.ToLower(strings.TrimSpace(object.Status)),
		Livemode: event.Livemode,
	}, nil
}
