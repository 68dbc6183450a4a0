package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sokoline/payments-api/internal/domain"
	"github.com/sokoline/payments-api/internal/repositories"
)

const defaultSubscriptionMonths = 1

var (
	// ErrSubscriptionInvalidInput indicates the caller supplied an unusable subscription or shop reference.
	ErrSubscriptionInvalidInput = errors.New("subscriptions: invalid input")
	// ErrSubscriptionUnavailable indicates the attachment store is currently unreachable.
	ErrSubscriptionUnavailable = errors.New("subscriptions: unavailable")
)

// SubscriptionServiceDeps wires the dependencies required by the subscription service.
type SubscriptionServiceDeps struct {
	Attachments repositories.ShopSubscriptionRepository
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	NewID       func() string
}

type subscriptionService struct {
	attachments repositories.ShopSubscriptionRepository
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string
}

// NewSubscriptionService constructs a SubscriptionService validating required dependencies.
func NewSubscriptionService(deps SubscriptionServiceDeps) (SubscriptionService, error) {
	if deps.Attachments == nil {
		return nil, errors.New("subscription service: attachment repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	return &subscriptionService{
		attachments: deps.Attachments,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  newID,
	}, nil
}

// Attach returns the active attachment for the shop/plan pair, creating one
// together with its owned transaction when none is current. Re-invoking for
// the same pair within the billing period returns the existing record, which
// keeps the reconciliation side effect single-shot under duplicate callbacks.
func (s *subscriptionService) Attach(ctx context.Context, subscription domain.Subscription, shopID string, paid bool) (domain.ShopSubscription, error) {
	shopID = strings.TrimSpace(shopID)
	if s == nil || s.attachments == nil {
		return domain.ShopSubscription{}, ErrSubscriptionUnavailable
	}
	if subscription.ID == "" || shopID == "" {
		return domain.ShopSubscription{}, ErrSubscriptionInvalidInput
	}

	now := s.now()

	existing, err := s.attachments.FindCurrent(ctx, shopID, subscription.ID)
	switch {
	case err == nil:
		if !existing.Expired(now) {
			s.logger(ctx, "subscriptions.attach_reused", map[string]any{
				"shopId":         shopID,
				"subscriptionId": subscription.ID,
				"attachmentId":   existing.ID,
			})
			return existing, nil
		}
	case !isNotFound(err):
		s.logger(ctx, "subscriptions.attach_lookup_failed", map[string]any{
			"shopId":         shopID,
			"subscriptionId": subscription.ID,
			"error":          err.Error(),
		})
		return domain.ShopSubscription{}, ErrSubscriptionUnavailable
	}

	months := subscription.Months
	if months <= 0 {
		months = defaultSubscriptionMonths
	}

	attachment := domain.ShopSubscription{
		ID:             s.newID(),
		ShopID:         shopID,
		SubscriptionID: subscription.ID,
		Active:         paid,
		ExpiredAt:      now.AddDate(0, months, 0),
		TransactionID:  s.newID(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	trx := domain.Transaction{
		ID:          attachment.TransactionID,
		PayableType: domain.PayableSubscription,
		PayableID:   attachment.ID,
		Status:      domain.TransactionStatusProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	saved, err := s.attachments.Insert(ctx, attachment, trx)
	if err != nil {
		s.logger(ctx, "subscriptions.attach_insert_failed", map[string]any{
			"shopId":         shopID,
			"subscriptionId": subscription.ID,
			"error":          err.Error(),
		})
		return domain.ShopSubscription{}, ErrSubscriptionUnavailable
	}

	s.logger(ctx, "subscriptions.attached", map[string]any{
		"shopId":         shopID,
		"subscriptionId": subscription.ID,
		"attachmentId":   saved.ID,
		"active":         saved.Active,
	})
	return saved, nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
