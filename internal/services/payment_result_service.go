package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/sokoline/payments-api/internal/domain"
	"github.com/sokoline/payments-api/internal/payments"
	"github.com/sokoline/payments-api/internal/repositories"
)

// PaymentResultServiceDeps wires the collaborators of the reconciliation core.
type PaymentResultServiceDeps struct {
	Repos         repositories.Registry
	Verifier      payments.ThreeDSVerifier
	Subscriptions SubscriptionService
	Publisher     ReconciliationEventPublisher
	FrontBaseURL  string
	AdminBaseURL  string
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentResultService struct {
	repos         repositories.Registry
	verifier      payments.ThreeDSVerifier
	subscriptions SubscriptionService
	publisher     ReconciliationEventPublisher
	frontBaseURL  string
	adminBaseURL  string
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentResultService constructs the reconciliation service validating
// required dependencies. The event publisher is optional; anomalies are still
// logged when it is absent.
func NewPaymentResultService(deps PaymentResultServiceDeps) (PaymentResultService, error) {
	if deps.Repos == nil {
		return nil, errors.New("payment result service: repository registry is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("payment result service: gateway verifier is required")
	}
	if deps.Subscriptions == nil {
		return nil, errors.New("payment result service: subscription service is required")
	}
	front := strings.TrimRight(strings.TrimSpace(deps.FrontBaseURL), "/")
	admin := strings.TrimRight(strings.TrimSpace(deps.AdminBaseURL), "/")
	if front == "" {
		return nil, errors.New("payment result service: front base url is required")
	}
	if admin == "" {
		return nil, errors.New("payment result service: admin base url is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentResultService{
		repos:         deps.Repos,
		verifier:      deps.Verifier,
		subscriptions: deps.Subscriptions,
		publisher:     deps.Publisher,
		frontBaseURL:  front,
		adminBaseURL:  admin,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// FinalizeRedirect finalises a 3-D Secure return trip. The redirect target is
// computed before anything can fail so the payer always lands somewhere sane;
// verification or persistence trouble degrades to a no-write redirect with an
// anomaly queued for manual reconciliation.
func (s *paymentResultService) FinalizeRedirect(ctx context.Context, cmd RedirectResultCommand) RedirectResult {
	ref := domain.NewPayableReference(cmd.OrderID, cmd.ParcelID, cmd.SubscriptionID, cmd.ShopID)
	result := RedirectResult{
		RedirectURL: s.redirectTarget(ref),
		Status:      domain.TransactionStatusProgress,
	}

	verification, err := s.verifier.VerifyThreeDSecure(ctx, payments.ThreeDSVerifyRequest{
		PaymentID:        cmd.PaymentID,
		ConversationID:   cmd.ConversationID,
		ConversationData: cmd.ConversationData,
	})
	if err != nil {
		s.logger(ctx, "payments.redirect_verify_failed", map[string]any{
			"payableType": string(ref.Kind),
			"payableId":   ref.EntityID(),
			"error":       err.Error(),
		})
		s.publish(ctx, ReconciliationEvent{
			Kind:        EventKindGatewayUnverified,
			Flow:        string(FlowRedirect),
			PayableType: ref.Kind,
			PayableID:   ref.EntityID(),
			Reason:      err.Error(),
		})
		return result
	}

	result.Status = MapGatewayStatus(FlowRedirect, verification.Status)

	switch ref.Kind {
	case domain.PayableOrder:
		result.Applied = s.reconcileOrder(ctx, ref, result.Status)
	case domain.PayableParcel:
		result.Applied = s.reconcileParcel(ctx, ref, result.Status)
	case domain.PayableSubscription:
		url, applied := s.reconcileSubscription(ctx, ref, result.Status)
		result.RedirectURL = url
		result.Applied = applied
	default:
		s.logger(ctx, "payments.redirect_without_reference", map[string]any{
			"paymentId": cmd.PaymentID,
		})
	}

	s.logger(ctx, "payments.redirect_finalized", map[string]any{
		"payableType": string(ref.Kind),
		"payableId":   ref.EntityID(),
		"status":      string(result.Status),
		"applied":     result.Applied,
	})
	return result
}

func (s *paymentResultService) reconcileOrder(ctx context.Context, ref domain.PayableReference, status domain.TransactionStatus) bool {
	order, err := s.repos.Orders().FindByID(ctx, ref.OrderID)
	if err != nil {
		s.reportLookupMiss(ctx, ref, status, err)
		return false
	}
	return s.applyEntityResult(ctx, ref, order.TransactionID, status)
}

func (s *paymentResultService) reconcileParcel(ctx context.Context, ref domain.PayableReference, status domain.TransactionStatus) bool {
	parcel, err := s.repos.ParcelOrders().FindByID(ctx, ref.ParcelID)
	if err != nil {
		s.reportLookupMiss(ctx, ref, status, err)
		return false
	}
	return s.applyEntityResult(ctx, ref, parcel.TransactionID, status)
}

// reconcileSubscription resolves the plan and shop, creates or reuses the
// billing-period attachment, and applies the result to the attachment's own
// transaction. A failed resolution abandons the branch and falls back to the
// default redirect; the payer is never shown an error.
func (s *paymentResultService) reconcileSubscription(ctx context.Context, ref domain.PayableReference, status domain.TransactionStatus) (string, bool) {
	fallback := s.defaultRedirect()
	if ref.ShopID == "" {
		s.logger(ctx, "payments.subscription_without_shop", map[string]any{
			"subscriptionId": ref.SubscriptionID,
		})
		return fallback, false
	}

	subscription, err := s.repos.Subscriptions().FindByID(ctx, ref.SubscriptionID)
	if err != nil {
		s.reportLookupMiss(ctx, ref, status, err)
		return fallback, false
	}
	if _, err := s.repos.Shops().FindByID(ctx, ref.ShopID); err != nil {
		s.reportLookupMiss(ctx, ref, status, err)
		return fallback, false
	}

	url := s.subscriptionRedirect(ref.SubscriptionID)
	if !status.Terminal() {
		// The gateway outcome is still unknown; creating the attachment now
		// would start a billing period for a payment that may never settle.
		return url, false
	}

	attachment, err := s.subscriptions.Attach(ctx, subscription, ref.ShopID, status == domain.TransactionStatusPaid)
	if err != nil {
		s.logger(ctx, "payments.subscription_attach_failed", map[string]any{
			"subscriptionId": ref.SubscriptionID,
			"shopId":         ref.ShopID,
			"error":          err.Error(),
		})
		s.publish(ctx, ReconciliationEvent{
			Kind:        EventKindUpdateFailed,
			Flow:        string(FlowRedirect),
			PayableType: ref.Kind,
			PayableID:   ref.SubscriptionID,
			Status:      status,
			Reason:      err.Error(),
		})
		return url, false
	}

	return url, s.applyEntityResult(ctx, ref, attachment.TransactionID, status)
}

// applyEntityResult performs the conditional transaction write. An entity
// without a transaction id is skipped, never failed: the callback may predate
// charge creation or reference a record created through another channel.
func (s *paymentResultService) applyEntityResult(ctx context.Context, ref domain.PayableReference, trxID string, status domain.TransactionStatus) bool {
	if trxID == "" {
		s.logger(ctx, "payments.transaction_missing", map[string]any{
			"payableType": string(ref.Kind),
			"payableId":   ref.EntityID(),
			"status":      string(status),
		})
		s.publish(ctx, ReconciliationEvent{
			Kind:        EventKindTransactionMissing,
			Flow:        string(FlowRedirect),
			PayableType: ref.Kind,
			PayableID:   ref.EntityID(),
			Status:      status,
		})
		return false
	}

	application, err := s.repos.Transactions().ApplyResult(ctx, trxID, ref.EntityID(), status)
	if err != nil {
		s.logger(ctx, "payments.result_apply_failed", map[string]any{
			"payableType":   string(ref.Kind),
			"payableId":     ref.EntityID(),
			"transactionId": trxID,
			"error":         err.Error(),
		})
		s.publish(ctx, ReconciliationEvent{
			Kind:        EventKindUpdateFailed,
			Flow:        string(FlowRedirect),
			PayableType: ref.Kind,
			PayableID:   ref.EntityID(),
			Status:      status,
			Reason:      err.Error(),
		})
		return false
	}
	if !application.Applied {
		s.logger(ctx, "payments.result_skipped_terminal", map[string]any{
			"payableType":   string(ref.Kind),
			"payableId":     ref.EntityID(),
			"transactionId": trxID,
			"stored":        string(application.Transaction.Status),
			"incoming":      string(status),
		})
	}
	return application.Applied
}

// FinalizeWebhook reconciles a push notification by its gateway token.
// Transactions are checked first, wallet top-ups second; an unmatched token is
// queued for manual review but still counts as handled so the gateway stops
// redelivering.
func (s *paymentResultService) FinalizeWebhook(ctx context.Context, cmd WebhookResultCommand) WebhookResult {
	token := strings.TrimSpace(cmd.Token)
	result := WebhookResult{Status: MapGatewayStatus(FlowWebhook, cmd.GatewayStatus)}

	if token == "" {
		s.logger(ctx, "payments.webhook_without_token", map[string]any{
			"eventType": cmd.EventType,
		})
		s.publish(ctx, ReconciliationEvent{
			Kind:   EventKindWebhookUnmatched,
			Flow:   string(FlowWebhook),
			Status: result.Status,
			Reason: "payload carried no object id",
		})
		return result
	}

	application, err := s.repos.Transactions().ApplyResultByToken(ctx, token, result.Status)
	switch {
	case err == nil:
		result.Matched = true
		result.Applied = application.Applied
	case isNotFound(err):
		history, applied, werr := s.repos.WalletHistories().ApplyResultByToken(ctx, token, result.Status)
		switch {
		case werr == nil:
			result.Matched = true
			result.Applied = applied
			s.logger(ctx, "payments.webhook_matched_wallet", map[string]any{
				"walletHistoryId": history.ID,
				"status":          string(result.Status),
				"applied":         applied,
			})
		case isNotFound(werr):
			s.logger(ctx, "payments.webhook_unmatched", map[string]any{
				"token":     token,
				"eventType": cmd.EventType,
				"status":    string(result.Status),
			})
			s.publish(ctx, ReconciliationEvent{
				Kind:   EventKindWebhookUnmatched,
				Flow:   string(FlowWebhook),
				Token:  token,
				Status: result.Status,
			})
		default:
			s.reportWebhookFailure(ctx, token, result.Status, werr)
		}
	default:
		s.reportWebhookFailure(ctx, token, result.Status, err)
	}

	s.logger(ctx, "payments.webhook_finalized", map[string]any{
		"token":   token,
		"status":  string(result.Status),
		"matched": result.Matched,
		"applied": result.Applied,
	})
	return result
}

// SubscriptionRedirect computes the admin destination for the subscription
// return trip. No reconciliation happens here; the destination page reads the
// state the redirect or webhook flow already wrote.
func (s *paymentResultService) SubscriptionRedirect(ctx context.Context, subscriptionID string) string {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return s.defaultRedirect()
	}
	if _, err := s.repos.Subscriptions().FindByID(ctx, subscriptionID); err != nil {
		s.logger(ctx, "payments.subscription_redirect_unknown", map[string]any{
			"subscriptionId": subscriptionID,
			"error":          err.Error(),
		})
	}
	return s.subscriptionRedirect(subscriptionID)
}

func (s *paymentResultService) redirectTarget(ref domain.PayableReference) string {
	switch ref.Kind {
	case domain.PayableOrder:
		return s.frontBaseURL + "/orders/" + ref.OrderID
	case domain.PayableParcel:
		return s.frontBaseURL + "/parcels/" + ref.ParcelID
	case domain.PayableSubscription:
		return s.subscriptionRedirect(ref.SubscriptionID)
	default:
		return s.defaultRedirect()
	}
}

func (s *paymentResultService) subscriptionRedirect(subscriptionID string) string {
	return s.adminBaseURL + "/seller/subscriptions/" + subscriptionID
}

// defaultRedirect is the parcel-shaped fallback used when the callback carries
// no usable reference.
func (s *paymentResultService) defaultRedirect() string {
	return s.frontBaseURL + "/parcels/"
}

func (s *paymentResultService) reportLookupMiss(ctx context.Context, ref domain.PayableReference, status domain.TransactionStatus, err error) {
	event := "payments.entity_lookup_failed"
	if isNotFound(err) {
		// Permissive by contract: a stale or foreign id drops the update but
		// never the redirect. Logged and queued so it cannot vanish silently.
		event = "payments.entity_not_found"
	}
	s.logger(ctx, event, map[string]any{
		"payableType": string(ref.Kind),
		"payableId":   ref.EntityID(),
		"status":      string(status),
		"error":       err.Error(),
	})
	s.publish(ctx, ReconciliationEvent{
		Kind:        EventKindUpdateFailed,
		Flow:        string(FlowRedirect),
		PayableType: ref.Kind,
		PayableID:   ref.EntityID(),
		Status:      status,
		Reason:      err.Error(),
	})
}

func (s *paymentResultService) reportWebhookFailure(ctx context.Context, token string, status domain.TransactionStatus, err error) {
	s.logger(ctx, "payments.webhook_apply_failed", map[string]any{
		"token":  token,
		"status": string(status),
		"error":  err.Error(),
	})
	s.publish(ctx, ReconciliationEvent{
		Kind:   EventKindUpdateFailed,
		Flow:   string(FlowWebhook),
		Token:  token,
		Status: status,
		Reason: err.Error(),
	})
}

func (s *paymentResultService) publish(ctx context.Context, event ReconciliationEvent) {
	if s.publisher == nil {
		return
	}
	event.OccurredAt = s.now()
	if _, err := s.publisher.PublishReconciliationEvent(ctx, event); err != nil {
		s.logger(ctx, "payments.reconciliation_event_publish_failed", map[string]any{
			"kind":  event.Kind,
			"error": err.Error(),
		})
	}
}
