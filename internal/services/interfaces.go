package services

import (
	"context"
	"time"

	domain "github.com/sokoline/payments-api/internal/domain"
)

// RedirectResultCommand carries the raw parameters of a 3-D Secure browser
// return trip. Ids arrive as strings straight from the query; blank means
// absent.
type RedirectResultCommand struct {
	OrderID          string
	ParcelID         string
	SubscriptionID   string
	ShopID           string
	PaymentID        string
	ConversationID   string
	ConversationData string
}

// RedirectResult is the terminal outcome of the redirect flow. The flow has no
// user-visible failure state: a redirect target is always present.
type RedirectResult struct {
	RedirectURL string
	Status      domain.TransactionStatus
	Applied     bool
}

// WebhookResultCommand carries the normalised push notification fields.
type WebhookResultCommand struct {
	Token         string
	GatewayStatus string
	EventType     string
}

// WebhookResult reports what the push flow did. The handler acknowledges the
// delivery regardless, so unmatched tokens are data here, not errors.
type WebhookResult struct {
	Status  domain.TransactionStatus
	Matched bool
	Applied bool
}

// PaymentResultService reconciles gateway outcomes with internal transactions.
type PaymentResultService interface {
	// FinalizeRedirect verifies the payment with the gateway, applies the
	// mapped status to the referenced entity's transaction, and computes the
	// post-payment redirect. It never fails: degraded paths fall back to a
	// sane redirect target.
	FinalizeRedirect(ctx context.Context, cmd RedirectResultCommand) RedirectResult
	// FinalizeWebhook applies a push notification by gateway token.
	FinalizeWebhook(ctx context.Context, cmd WebhookResultCommand) WebhookResult
	// SubscriptionRedirect computes the admin destination for the
	// subscription result return trip without reconciling anything.
	SubscriptionRedirect(ctx context.Context, subscriptionID string) string
}

// SubscriptionService owns the attach side effect of subscription payments.
type SubscriptionService interface {
	// Attach returns the current attachment for the shop/plan pair, creating
	// it together with its owned transaction when none is active. The paid
	// flag seeds the attachment's active state.
	Attach(ctx context.Context, subscription domain.Subscription, shopID string, paid bool) (domain.ShopSubscription, error)
}

// ReconciliationEvent describes a reconciliation anomaly queued for manual
// review: unmatched webhook tokens, unreachable gateway verifications, and
// updates skipped because the owning transaction is missing.
type ReconciliationEvent struct {
	Kind        string
	Flow        string
	PayableType domain.PayableKind
	PayableID   string
	Token       string
	Status      domain.TransactionStatus
	Reason      string
	OccurredAt  time.Time
}

// Event kinds published for manual reconciliation.
const (
	EventKindGatewayUnverified  = "gateway_unverified"
	EventKindWebhookUnmatched   = "webhook_unmatched"
	EventKindTransactionMissing = "transaction_missing"
	EventKindUpdateFailed       = "update_failed"
)

// ReconciliationEventPublisher queues anomalies on the ops channel. Publishing
// is best effort; failures are logged, never propagated to the payer.
type ReconciliationEventPublisher interface {
	PublishReconciliationEvent(ctx context.Context, event ReconciliationEvent) (string, error)
}
