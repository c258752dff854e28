package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CanonicalEvent is a provider confirmation flattened out of whatever shape
// the aggregator sent it in.
type CanonicalEvent struct {
	TransactionID string          `json:"transaction_id"`
	ReferenceID   string          `json:"reference_id"`
	IsSuccess     bool            `json:"is_success"`
	Amount        decimal.Decimal `json:"amount"`
	Phone         string          `json:"phone"`
	EventType     string          `json:"event_type"`
	SenderName    string          `json:"sender_name"`
	RawStatus     string          `json:"raw_status"`
}

// SettledMessage is published once a payable reaches a terminal status.
type SettledMessage struct {
	ReferenceID   string    `json:"reference_id"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	SettledAt     time.Time `json:"settled_at"`
	CorrelationID string    `json:"correlation_id"`
}
