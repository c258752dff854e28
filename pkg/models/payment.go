package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MembershipPending   = "pending"
	MembershipCompleted = "completed"
	MembershipFailed    = "failed"
)

type MembershipPayment struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ReferenceID string          `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	PaymentID   string          `json:"payment_id"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (m *MembershipPayment) IsPending() bool {
	return m.Status == MembershipPending
}

const TransactionSuccess = "success"

// Transaction is one accepted provider confirmation.
type Transaction struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	UserID            string          `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	Status            string          `json:"status"`
	ProviderReference string          `json:"provider_reference"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

const PayoutPending = "pending"

// LedgerEntry is the platform commission owed on one order line.
type LedgerEntry struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	OrderItemID      string          `json:"order_item_id"`
	PartnerServiceID string          `json:"partner_service_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	PayoutStatus     string          `json:"payout_status"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Profile struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	FullName            string     `json:"full_name"`
	IsMember            bool       `json:"is_member"`
	MembershipStartedAt *time.Time `json:"membership_started_at"`
	MembershipExpiresAt *time.Time `json:"membership_expires_at"`
}

// CommissionRate is the active platform partnership rate in percent.
type CommissionRate struct {
	PartnerServiceID string
	Percent          decimal.Decimal
}
