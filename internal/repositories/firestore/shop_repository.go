package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/sokoline/payments-api/internal/domain"
	pfirestore "github.com/sokoline/payments-api/internal/platform/firestore"
	"github.com/sokoline/payments-api/internal/repositories"
)

const shopCollection = "shops"

// ShopRepository reads seller storefronts from Firestore.
type ShopRepository struct {
	base *pfirestore.BaseRepository[shopDocument]
}

// NewShopRepository constructs a Firestore-backed shop repository.
func NewShopRepository(provider *pfirestore.Provider) (*ShopRepository, error) {
	if provider == nil {
		return nil, errors.New("shop repository requires firestore provider")
	}
	return &ShopRepository{
		base: pfirestore.NewBaseRepository[shopDocument](provider, shopCollection, nil, nil),
	}, nil
}

// FindByID loads a single shop by document id.
func (r *ShopRepository) FindByID(ctx context.Context, shopID string) (domain.Shop, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(shopID))
	if err != nil {
		return domain.Shop{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type shopDocument struct {
	UserID string `firestore:"userId,omitempty"`
	Title  string `firestore:"title,omitempty"`
}

func (d shopDocument) toDomain(id string) domain.Shop {
	return domain.Shop{
		ID:     id,
		UserID: d.UserID,
		Title:  d.Title,
	}
}

// Ensure interface compliance.
var _ repositories.ShopRepository = (*ShopRepository)(nil)
