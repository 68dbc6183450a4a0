package repositories

import (
	"context"

	domain "github.com/sokoline/payments-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	ParcelOrders() ParcelOrderRepository
	Subscriptions() SubscriptionRepository
	Shops() ShopRepository
	ShopSubscriptions() ShopSubscriptionRepository
	Transactions() TransactionRepository
	WalletHistories() WalletHistoryRepository
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository reads shop orders by id.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// ParcelOrderRepository reads parcel delivery orders by id.
type ParcelOrderRepository interface {
	FindByID(ctx context.Context, parcelID string) (domain.ParcelOrder, error)
}

// SubscriptionRepository reads subscription plan definitions by id.
type SubscriptionRepository interface {
	FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error)
}

// ShopRepository reads seller storefronts by id.
type ShopRepository interface {
	FindByID(ctx context.Context, shopID string) (domain.Shop, error)
}

// ShopSubscriptionRepository persists subscription attachments and their owned transactions.
type ShopSubscriptionRepository interface {
	// FindCurrent returns the newest attachment for the shop/plan pair. Should
	// return a RepositoryError with IsNotFound when no attachment exists.
	FindCurrent(ctx context.Context, shopID, subscriptionID string) (domain.ShopSubscription, error)
	// Insert stores the attachment together with its owned transaction in one
	// transactional write.
	Insert(ctx context.Context, attachment domain.ShopSubscription, trx domain.Transaction) (domain.ShopSubscription, error)
}

// ResultApplication reports the outcome of a conditional reconciliation write.
type ResultApplication struct {
	Transaction domain.Transaction
	// Applied is false when the write was skipped because the stored status is
	// already terminal and the incoming status conflicts with it.
	Applied bool
}

// TransactionRepository owns the conditional status updates driven by gateway results.
// Both update methods must be implemented as a single atomic conditional write so a
// racing redirect and webhook cannot produce a lost update, and must skip the write
// when the stored status is terminal and the incoming status differs.
type TransactionRepository interface {
	FindByID(ctx context.Context, trxID string) (domain.Transaction, error)
	// ApplyResult assigns the gateway reference and status to the transaction.
	ApplyResult(ctx context.Context, trxID, gatewayRef string, status domain.TransactionStatus) (ResultApplication, error)
	// ApplyResultByToken locates the transaction whose gateway reference equals
	// the webhook token and applies the status. IsNotFound when no match exists.
	ApplyResultByToken(ctx context.Context, token string, status domain.TransactionStatus) (ResultApplication, error)
}

// WalletHistoryRepository reconciles wallet top-up records by gateway token.
type WalletHistoryRepository interface {
	// ApplyResultByToken mirrors TransactionRepository.ApplyResultByToken for
	// wallet top-ups. IsNotFound when the token matches no history record.
	ApplyResultByToken(ctx context.Context, token string, status domain.TransactionStatus) (domain.WalletHistory, bool, error)
}
