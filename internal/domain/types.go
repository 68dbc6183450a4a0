package domain

import (
	"strings"
	"time"
)

// TransactionStatus enumerates the internal payment states a transaction moves through.
type TransactionStatus string

const (
	// TransactionStatusProgress is the initial state while the gateway outcome is unknown.
	TransactionStatusProgress TransactionStatus = "progress"
	// TransactionStatusPaid indicates the gateway confirmed the payment.
	TransactionStatusPaid TransactionStatus = "paid"
	// TransactionStatusCanceled indicates the gateway reported a declined or aborted payment.
	TransactionStatusCanceled TransactionStatus = "canceled"
)

// Terminal reports whether the status is final. Terminal transactions must not be
// downgraded by late or duplicate gateway signals.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusPaid || s == TransactionStatusCanceled
}

// ParseTransactionStatus normalises a stored status string, defaulting to progress.
func ParseTransactionStatus(value string) TransactionStatus {
	switch TransactionStatus(strings.ToLower(strings.TrimSpace(value))) {
	case TransactionStatusPaid:
		return TransactionStatusPaid
	case TransactionStatusCanceled:
		return TransactionStatusCanceled
	default:
		return TransactionStatusProgress
	}
}

// PayableKind identifies which entity family a payment settles.
type PayableKind string

const (
	// PayableNone marks a callback that carried no usable entity reference.
	PayableNone PayableKind = ""
	// PayableOrder marks a regular shop order.
	PayableOrder PayableKind = "order"
	// PayableParcel marks a parcel delivery order.
	PayableParcel PayableKind = "parcel"
	// PayableSubscription marks a seller subscription period.
	PayableSubscription PayableKind = "subscription"
)

// PayableReference is the identifying tuple extracted from a gateway callback.
// Exactly one of the entity ids is set; Kind records which one won. Shop id is
// only meaningful for subscription references.
type PayableReference struct {
	Kind           PayableKind
	OrderID        string
	ParcelID       string
	SubscriptionID string
	ShopID         string
}

// NewPayableReference resolves the callback id tuple into a tagged reference.
// Precedence mirrors the callback contract: order, then parcel, then
// subscription. Blank everywhere yields PayableNone.
func NewPayableReference(orderID, parcelID, subscriptionID, shopID string) PayableReference {
	orderID = strings.TrimSpace(orderID)
	parcelID = strings.TrimSpace(parcelID)
	subscriptionID = strings.TrimSpace(subscriptionID)
	shopID = strings.TrimSpace(shopID)

	switch {
	case orderID != "":
		return PayableReference{Kind: PayableOrder, OrderID: orderID}
	case parcelID != "":
		return PayableReference{Kind: PayableParcel, ParcelID: parcelID}
	case subscriptionID != "":
		return PayableReference{Kind: PayableSubscription, SubscriptionID: subscriptionID, ShopID: shopID}
	default:
		return PayableReference{Kind: PayableNone}
	}
}

// EntityID returns the id of whichever entity the reference points at.
func (r PayableReference) EntityID() string {
	switch r.Kind {
	case PayableOrder:
		return r.OrderID
	case PayableParcel:
		return r.ParcelID
	case PayableSubscription:
		return r.SubscriptionID
	default:
		return ""
	}
}

// Transaction is the payment record owned by the entity it settles. The gateway
// reference is assigned during reconciliation and the status only ever moves
// forward: once terminal it is protected against conflicting signals.
type Transaction struct {
	ID           string
	PayableType  PayableKind
	PayableID    string
	GatewayTrxID string
	Status       TransactionStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Order is the minimal handle of a shop order needed for reconciliation.
type Order struct {
	ID            string
	UserID        string
	ShopID        string
	Total         int64
	Currency      string
	TransactionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ParcelOrder is the minimal handle of a parcel delivery order.
type ParcelOrder struct {
	ID            string
	UserID        string
	Total         int64
	Currency      string
	TransactionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Subscription is a seller subscription plan definition.
type Subscription struct {
	ID     string
	Title  string
	Price  int64
	Months int
	Active bool
}

// Shop is the seller storefront a subscription attaches to.
type Shop struct {
	ID     string
	UserID string
	Title  string
}

// ShopSubscription links a subscription plan to a shop for one billing period.
// It owns its own transaction and is created at most once per reconciled
// subscription payment.
type ShopSubscription struct {
	ID             string
	ShopID         string
	SubscriptionID string
	Active         bool
	ExpiredAt      time.Time
	TransactionID  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired reports whether the billing period has lapsed at the given instant.
func (s ShopSubscription) Expired(now time.Time) bool {
	return !s.ExpiredAt.IsZero() && s.ExpiredAt.Before(now)
}

// WalletHistory records a wallet top-up awaiting gateway confirmation. The
// gateway token set at charge creation is the correlation key the webhook
// flow reconciles against.
type WalletHistory struct {
	ID           string
	WalletID     string
	UserID       string
	Amount       int64
	GatewayTrxID string
	Status       TransactionStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
