package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sokoline/payments-api/internal/domain"
	pfirestore "github.com/sokoline/payments-api/internal/platform/firestore"
	"github.com/sokoline/payments-api/internal/repositories"
)

const shopSubscriptionCollection = "shopSubscriptions"

// ShopSubscriptionRepository persists subscription attachments and their owned
// transactions in Firestore.
type ShopSubscriptionRepository struct {
	provider *pfirestore.Provider
}

// NewShopSubscriptionRepository constructs a Firestore-backed attachment repository.
func NewShopSubscriptionRepository(provider *pfirestore.Provider) (*ShopSubscriptionRepository, error) {
	if provider == nil {
		return nil, errors.New("shop subscription repository requires firestore provider")
	}
	return &ShopSubscriptionRepository{provider: provider}, nil
}

// FindCurrent returns the newest attachment for the shop/plan pair.
func (r *ShopSubscriptionRepository) FindCurrent(ctx context.Context, shopID, subscriptionID string) (domain.ShopSubscription, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.ShopSubscription{}, err
	}
	shopID = strings.TrimSpace(shopID)
	subscriptionID = strings.TrimSpace(subscriptionID)
	if shopID == "" || subscriptionID == "" {
		return domain.ShopSubscription{}, errors.New("shop subscription repository: shop and subscription ids are required")
	}

	snaps, err := coll.
		Where("shopId", "==", shopID).
		Where("subscriptionId", "==", subscriptionID).
		OrderBy("createdAt", firestore.Desc).
		Limit(1).
		Documents(ctx).
		GetAll()
	if err != nil {
		return domain.ShopSubscription{}, pfirestore.WrapError("shop_subscriptions.find_current", err)
	}
	if len(snaps) == 0 {
		return domain.ShopSubscription{}, pfirestore.WrapError("shop_subscriptions.find_current",
			status.Error(codes.NotFound, "no attachment for shop/subscription pair"))
	}

	var doc shopSubscriptionDocument
	if err := snaps[0].DataTo(&doc); err != nil {
		return domain.ShopSubscription{}, pfirestore.WrapError("shop_subscriptions.find_current", err)
	}
	return doc.toDomain(snaps[0].Ref.ID), nil
}

// Insert stores the attachment together with its owned transaction in a single
// Firestore transaction so a crash cannot leave an attachment without a
// payment record.
func (r *ShopSubscriptionRepository) Insert(ctx context.Context, attachment domain.ShopSubscription, trx domain.Transaction) (domain.ShopSubscription, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.ShopSubscription{}, err
	}
	if strings.TrimSpace(attachment.ID) == "" || strings.TrimSpace(trx.ID) == "" {
		return domain.ShopSubscription{}, errors.New("shop subscription repository: attachment and transaction ids are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ShopSubscription{}, err
	}
	trxColl := client.Collection(transactionCollection)

	now := time.Now().UTC()
	doc := shopSubscriptionDocument{
		ShopID:         strings.TrimSpace(attachment.ShopID),
		SubscriptionID: strings.TrimSpace(attachment.SubscriptionID),
		Active:         attachment.Active,
		ExpiredAt:      attachment.ExpiredAt,
		TransactionID:  strings.TrimSpace(attachment.TransactionID),
		CreatedAt:      attachment.CreatedAt,
		UpdatedAt:      now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	trxDoc := transactionDocument{
		PayableType:  string(trx.PayableType),
		PayableID:    strings.TrimSpace(trx.PayableID),
		GatewayTrxID: strings.TrimSpace(trx.GatewayTrxID),
		Status:       string(trx.Status),
		CreatedAt:    trx.CreatedAt,
		UpdatedAt:    now,
	}
	if trxDoc.CreatedAt.IsZero() {
		trxDoc.CreatedAt = now
	}
	if trxDoc.Status == "" {
		trxDoc.Status = string(domain.TransactionStatusProgress)
	}

	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(coll.Doc(attachment.ID), doc); err != nil {
			return err
		}
		return tx.Set(trxColl.Doc(trx.ID), trxDoc)
	})
	if err != nil {
		return domain.ShopSubscription{}, pfirestore.WrapError("shop_subscriptions.insert", err)
	}
	return doc.toDomain(attachment.ID), nil
}

func (r *ShopSubscriptionRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("shop subscription repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(shopSubscriptionCollection), nil
}

type shopSubscriptionDocument struct {
	ShopID         string    `firestore:"shopId"`
	SubscriptionID string    `firestore:"subscriptionId"`
	Active         bool      `firestore:"active"`
	ExpiredAt      time.Time `firestore:"expiredAt"`
	TransactionID  string    `firestore:"transactionId"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (d shopSubscriptionDocument) toDomain(id string) domain.ShopSubscription {
	return domain.ShopSubscription{
		ID:             id,
		ShopID:         d.ShopID,
		SubscriptionID: d.SubscriptionID,
		Active:         d.Active,
		ExpiredAt:      d.ExpiredAt,
		TransactionID:  strings.TrimSpace(d.TransactionID),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.ShopSubscriptionRepository = (*ShopSubscriptionRepository)(nil)
