package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bookstore-payments/pkg/models"
)

var (
	// ErrNotFound means no order or membership payment matches the event.
	ErrNotFound = errors.New("settlement target not found")
	// ErrAlreadySettled is returned by a commit that lost the race to another
	// delivery: the target left pending, or the transaction row already exists.
	ErrAlreadySettled = errors.New("settlement target already settled")
)

// OrderSettlement is everything written for one order transition. The store
// must apply it atomically and only while the order is still pending.
type OrderSettlement struct {
	OrderID       string
	Status        string
	PaymentID     string
	Metadata      json.RawMessage
	Transaction   *models.Transaction
	LedgerEntries []models.LedgerEntry
	Notification  *models.Notification
}

// MembershipSettlement is the membership counterpart of OrderSettlement.
// ActivateUntil is zero unless the payment succeeded.
type MembershipSettlement struct {
	MembershipPaymentID string
	UserID              string
	Status              string
	PaymentID           string
	Metadata            json.RawMessage
	ActivateFrom        time.Time
	ActivateUntil       time.Time
	Notification        *models.Notification
}

type Store interface {
	// GetOrder returns the order with its items, or ErrNotFound.
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// FindMembershipPayment matches by payment id first, then by reference id.
	FindMembershipPayment(ctx context.Context, paymentID, referenceID string) (*models.MembershipPayment, error)
	TransactionExists(ctx context.Context, providerReference string) (bool, error)
	// PlatformCommissionRate returns nil when no active platform rate exists.
	PlatformCommissionRate(ctx context.Context) (*models.CommissionRate, error)
	// MembershipDurationDays returns 0 when the setting is absent.
	MembershipDurationDays(ctx context.Context) (int, error)
	CommitOrderSettlement(ctx context.Context, s OrderSettlement) error
	CommitMembershipSettlement(ctx context.Context, s MembershipSettlement) error
}

type Publisher interface {
	PublishSettled(msg models.SettledMessage) error
}

type PasswordDecrypter interface {
	Decrypt(encoded string) (string, error)
}
