package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderPending    = "pending"
	OrderPaid       = "paid"
	OrderFailed     = "failed"
	OrderProcessing = "processing"
	OrderCompleted  = "completed"
)

type ShippingAddress struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Status          string          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentID       string          `json:"payment_id"`
	PaymentMetadata json.RawMessage `json:"payment_metadata,omitempty"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (o *Order) IsPending() bool {
	return o.Status == OrderPending
}

type OrderItem struct {
	ID                      string          `json:"id"`
	OrderID                 string          `json:"order_id"`
	BookID                  string          `json:"book_id"`
	Title                   string          `json:"title"`
	Quantity                int             `json:"quantity"`
	UnitPrice               decimal.Decimal `json:"unit_price"`
	IsDigital               bool            `json:"is_digital"`
	EncryptedAccessPassword string          `json:"-"`
}

func (i OrderItem) LineAmount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
