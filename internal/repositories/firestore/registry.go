package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/sokoline/payments-api/internal/platform/firestore"
	"github.com/sokoline/payments-api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	orders            *OrderRepository
	parcelOrders      *ParcelOrderRepository
	subscriptions     *SubscriptionRepository
	shops             *ShopRepository
	shopSubscriptions *ShopSubscriptionRepository
	transactions      *TransactionRepository
	walletHistories   *WalletHistoryRepository
}

// NewRegistry wires every repository against the shared Firestore provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	parcels, err := NewParcelOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	subscriptions, err := NewSubscriptionRepository(provider)
	if err != nil {
		return nil, err
	}
	shops, err := NewShopRepository(provider)
	if err != nil {
		return nil, err
	}
	attachments, err := NewShopSubscriptionRepository(provider)
	if err != nil {
		return nil, err
	}
	transactions, err := NewTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	walletHistories, err := NewWalletHistoryRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:          provider,
		orders:            orders,
		parcelOrders:      parcels,
		subscriptions:     subscriptions,
		shops:             shops,
		shopSubscriptions: attachments,
		transactions:      transactions,
		walletHistories:   walletHistories,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// ParcelOrders returns the parcel order repository.
func (r *Registry) ParcelOrders() repositories.ParcelOrderRepository { return r.parcelOrders }

// Subscriptions returns the subscription plan repository.
func (r *Registry) Subscriptions() repositories.SubscriptionRepository { return r.subscriptions }

// Shops returns the shop repository.
func (r *Registry) Shops() repositories.ShopRepository { return r.shops }

// ShopSubscriptions returns the attachment repository.
func (r *Registry) ShopSubscriptions() repositories.ShopSubscriptionRepository {
	return r.shopSubscriptions
}

// Transactions returns the transaction repository.
func (r *Registry) Transactions() repositories.TransactionRepository { return r.transactions }

// WalletHistories returns the wallet history repository.
func (r *Registry) WalletHistories() repositories.WalletHistoryRepository { return r.walletHistories }

// Ensure interface compliance.
var _ repositories.Registry = (*Registry)(nil)
