package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/sokoline/payments-api/internal/domain"
	pfirestore "github.com/sokoline/payments-api/internal/platform/firestore"
	"github.com/sokoline/payments-api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository reads shop orders from Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
	}, nil
}

// FindByID loads a single order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type orderDocument struct {
	UserID        string    `firestore:"userId,omitempty"`
	ShopID        string    `firestore:"shopId,omitempty"`
	Total         int64     `firestore:"total"`
	Currency      string    `firestore:"currency,omitempty"`
	TransactionID string    `firestore:"transactionId,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d orderDocument) toDomain(id string) domain.Order {
	return domain.Order{
		ID:            id,
		UserID:        d.UserID,
		ShopID:        d.ShopID,
		Total:         d.Total,
		Currency:      d.Currency,
		TransactionID: strings.TrimSpace(d.TransactionID),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
