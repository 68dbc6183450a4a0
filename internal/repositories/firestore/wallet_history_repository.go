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

const walletHistoryCollection = "walletHistories"

// WalletHistoryRepository reconciles wallet top-up records by gateway token.
type WalletHistoryRepository struct {
	provider *pfirestore.Provider
}

// NewWalletHistoryRepository constructs a Firestore-backed wallet history repository.
func NewWalletHistoryRepository(provider *pfirestore.Provider) (*WalletHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("wallet history repository requires firestore provider")
	}
	return &WalletHistoryRepository{provider: provider}, nil
}

// ApplyResultByToken locates the wallet history whose gateway token matches
// and applies the status under the same terminal-state guard as transactions.
func (r *WalletHistoryRepository) ApplyResultByToken(ctx context.Context, token string, newStatus domain.TransactionStatus) (domain.WalletHistory, bool, error) {
	if r == nil || r.provider == nil {
		return domain.WalletHistory{}, false, errors.New("wallet history repository not initialised")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.WalletHistory{}, false, errors.New("wallet history repository: token is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.WalletHistory{}, false, err
	}
	coll := client.Collection(walletHistoryCollection)

	var history domain.WalletHistory
	var applied bool
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll.Where("gatewayTrxId", "==", token).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return status.Error(codes.NotFound, "no wallet history for gateway token")
		}

		var doc walletHistoryDocument
		if err := snaps[0].DataTo(&doc); err != nil {
			return err
		}
		history = doc.toDomain(snaps[0].Ref.ID)

		if history.Status.Terminal() && history.Status != newStatus {
			applied = false
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Update(snaps[0].Ref, []firestore.Update{
			{Path: "status", Value: string(newStatus)},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		history.Status = newStatus
		history.UpdatedAt = now
		applied = true
		return nil
	})
	if err != nil {
		return domain.WalletHistory{}, false, pfirestore.WrapError("wallet_histories.apply_result_by_token", err)
	}
	return history, applied, nil
}

type walletHistoryDocument struct {
	WalletID     string    `firestore:"walletId,omitempty"`
	UserID       string    `firestore:"userId,omitempty"`
	Amount       int64     `firestore:"amount"`
	GatewayTrxID string    `firestore:"gatewayTrxId,omitempty"`
	Status       string    `firestore:"status"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d walletHistoryDocument) toDomain(id string) domain.WalletHistory {
	return domain.WalletHistory{
		ID:           id,
		WalletID:     d.WalletID,
		UserID:       d.UserID,
		Amount:       d.Amount,
		GatewayTrxID: strings.TrimSpace(d.GatewayTrxID),
		Status:       domain.ParseTransactionStatus(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.WalletHistoryRepository = (*WalletHistoryRepository)(nil)
