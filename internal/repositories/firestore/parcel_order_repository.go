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

const parcelOrderCollection = "parcelOrders"

// ParcelOrderRepository reads parcel delivery orders from Firestore.
type ParcelOrderRepository struct {
	base *pfirestore.BaseRepository[parcelOrderDocument]
}

// NewParcelOrderRepository constructs a Firestore-backed parcel order repository.
func NewParcelOrderRepository(provider *pfirestore.Provider) (*ParcelOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("parcel order repository requires firestore provider")
	}
	return &ParcelOrderRepository{
		base: pfirestore.NewBaseRepository[parcelOrderDocument](provider, parcelOrderCollection, nil, nil),
	}, nil
}

// FindByID loads a single parcel order by document id.
func (r *ParcelOrderRepository) FindByID(ctx context.Context, parcelID string) (domain.ParcelOrder, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(parcelID))
	if err != nil {
		return domain.ParcelOrder{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type parcelOrderDocument struct {
	UserID        string    `firestore:"userId,omitempty"`
	Total         int64     `firestore:"total"`
	Currency      string    `firestore:"currency,omitempty"`
	TransactionID string    `firestore:"transactionId,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d parcelOrderDocument) toDomain(id string) domain.ParcelOrder {
	return domain.ParcelOrder{
		ID:            id,
		UserID:        d.UserID,
		Total:         d.Total,
		Currency:      d.Currency,
		TransactionID: strings.TrimSpace(d.TransactionID),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.ParcelOrderRepository = (*ParcelOrderRepository)(nil)
