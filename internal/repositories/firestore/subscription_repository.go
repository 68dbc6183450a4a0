package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/sokoline/payments-api/internal/domain"
	pfirestore "github.com/sokoline/payments-api/internal/platform/firestore"
	"github.com/sokoline/payments-api/internal/repositories"
)

const subscriptionCollection = "subscriptions"

// SubscriptionRepository reads subscription plan definitions from Firestore.
type SubscriptionRepository struct {
	base *pfirestore.BaseRepository[subscriptionDocument]
}

// NewSubscriptionRepository constructs a Firestore-backed subscription plan repository.
func NewSubscriptionRepository(provider *pfirestore.Provider) (*SubscriptionRepository, error) {
	if provider == nil {
		return nil, errors.New("subscription repository requires firestore provider")
	}
	return &SubscriptionRepository{
		base: pfirestore.NewBaseRepository[subscriptionDocument](provider, subscriptionCollection, nil, nil),
	}, nil
}

// FindByID loads a single subscription plan by document id.
func (r *SubscriptionRepository) FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(subscriptionID))
	if err != nil {
		return domain.Subscription{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type subscriptionDocument struct {
	Title  string `firestore:"title,omitempty"`
	Price  int64  `firestore:"price"`
	Months int    `firestore:"months"`
	Active bool   `firestore:"active"`
}

func (d subscriptionDocument) toDomain(id string) domain.Subscription {
	return domain.Subscription{
		ID:     id,
		Title:  d.Title,
		Price:  d.Price,
		Months: d.Months,
		Active: d.Active,
	}
}

// Ensure interface compliance.
var _ repositories.SubscriptionRepository = (*SubscriptionRepository)(nil)
