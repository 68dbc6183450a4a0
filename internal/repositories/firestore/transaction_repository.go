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

const transactionCollection = "transactions"

// TransactionRepository owns the conditional reconciliation writes in Firestore.
// Every status update runs as a read-then-write inside one Firestore
// transaction so a racing redirect and webhook serialise instead of losing an
// update, and terminal states are never downgraded by a conflicting signal.
type TransactionRepository struct {
	provider *pfirestore.Provider
}

// NewTransactionRepository constructs a Firestore-backed transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{provider: provider}, nil
}

// FindByID loads a single transaction by document id.
func (r *TransactionRepository) FindByID(ctx context.Context, trxID string) (domain.Transaction, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	id := strings.TrimSpace(trxID)
	if id == "" {
		return domain.Transaction{}, errors.New("transaction repository: id is required")
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Transaction{}, pfirestore.WrapError("transactions.get", err)
	}
	return decodeTransactionDocument(snap)
}

// ApplyResult assigns the gateway reference and status to the transaction.
func (r *TransactionRepository) ApplyResult(ctx context.Context, trxID, gatewayRef string, newStatus domain.TransactionStatus) (repositories.ResultApplication, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return repositories.ResultApplication{}, err
	}
	id := strings.TrimSpace(trxID)
	if id == "" {
		return repositories.ResultApplication{}, errors.New("transaction repository: id is required")
	}

	var application repositories.ResultApplication
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(coll.Doc(id))
		if err != nil {
			return err
		}
		app, updates, err := planResultWrite(snap, strings.TrimSpace(gatewayRef), newStatus)
		if err != nil {
			return err
		}
		application = app
		if updates == nil {
			return nil
		}
		return tx.Update(snap.Ref, updates)
	})
	if err != nil {
		return repositories.ResultApplication{}, pfirestore.WrapError("transactions.apply_result", err)
	}
	return application, nil
}

// ApplyResultByToken locates the transaction whose gateway reference equals
// the webhook token and applies the status.
func (r *TransactionRepository) ApplyResultByToken(ctx context.Context, token string, newStatus domain.TransactionStatus) (repositories.ResultApplication, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return repositories.ResultApplication{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return repositories.ResultApplication{}, errors.New("transaction repository: token is required")
	}

	var application repositories.ResultApplication
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll.Where("gatewayTrxId", "==", token).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return status.Error(codes.NotFound, "no transaction for gateway token")
		}
		app, updates, err := planResultWrite(snaps[0], token, newStatus)
		if err != nil {
			return err
		}
		application = app
		if updates == nil {
			return nil
		}
		return tx.Update(snaps[0].Ref, updates)
	})
	if err != nil {
		return repositories.ResultApplication{}, pfirestore.WrapError("transactions.apply_result_by_token", err)
	}
	return application, nil
}

// planResultWrite decides the conditional write for a reconciliation signal.
// A stored terminal status that conflicts with the incoming one skips the
// write; everything else is a last-write-wins assignment.
func planResultWrite(snap *firestore.DocumentSnapshot, gatewayRef string, newStatus domain.TransactionStatus) (repositories.ResultApplication, []firestore.Update, error) {
	current, err := decodeTransactionDocument(snap)
	if err != nil {
		return repositories.ResultApplication{}, nil, err
	}

	if current.Status.Terminal() && current.Status != newStatus {
		return repositories.ResultApplication{Transaction: current}, nil, nil
	}

	now := time.Now().UTC()
	updates := []firestore.Update{
		{Path: "status", Value: string(newStatus)},
		{Path: "updatedAt", Value: now},
	}
	if gatewayRef != "" {
		updates = append(updates, firestore.Update{Path: "gatewayTrxId", Value: gatewayRef})
		current.GatewayTrxID = gatewayRef
	}
	current.Status = newStatus
	current.UpdatedAt = now
	return repositories.ResultApplication{Transaction: current, Applied: true}, updates, nil
}

func (r *TransactionRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("transaction repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(transactionCollection), nil
}

func decodeTransactionDocument(snap *firestore.DocumentSnapshot) (domain.Transaction, error) {
	var doc transactionDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Transaction{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type transactionDocument struct {
	PayableType  string    `firestore:"payableType,omitempty"`
	PayableID    string    `firestore:"payableId,omitempty"`
	GatewayTrxID string    `firestore:"gatewayTrxId,omitempty"`
	Status       string    `firestore:"status"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d transactionDocument) toDomain(id string) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		PayableType:  domain.PayableKind(d.PayableType),
		PayableID:    d.PayableID,
		GatewayTrxID: strings.TrimSpace(d.GatewayTrxID),
		Status:       domain.ParseTransactionStatus(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.TransactionRepository = (*TransactionRepository)(nil)
