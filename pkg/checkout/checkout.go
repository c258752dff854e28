package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/utils"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPhone = errors.New("phone number is not a valid Kenyan mobile number")
	ErrEmptyCart    = errors.New("cart has no items")
	ErrInvalidItem  = errors.New("cart item needs a positive quantity and price")
)

type CartItem struct {
	BookID    string          `json:"book_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsDigital bool            `json:"is_digital"`
}

type Cart struct {
	UserID string     `json:"user_id"`
	Items  []CartItem `json:"items"`
}

func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// Started is the result of a checkout whose push was handed to the aggregator.
type Started struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Demo      bool            `json:"demo,omitempty"`
}

// Store is what the orchestrator needs from persistence.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	SetOrderPaymentID(ctx context.Context, orderID, paymentID string) error
}

// Catalog holds the encrypted access passwords of digital books, keyed by
// book id. Shoppers never supply them.
type Catalog interface {
	AccessPasswords(ctx context.Context, bookIDs []string) (map[string]string, error)
}

// PaymentRequest is the body the payment service accepts on /payments/init.
type PaymentRequest struct {
	OrderID   string          `json:"orderId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Phone     string          `json:"phone"`
	Amount    decimal.Decimal `json:"amount"`
	FirstName string          `json:"firstName,omitempty"`
	LastName  string          `json:"lastName,omitempty"`
	Email     string          `json:"email,omitempty"`
	Type      string          `json:"type,omitempty"`
}

type PaymentResponse struct {
	ID          string `json:"id"`
	Location    string `json:"location"`
	ReferenceID string `json:"referenceId"`
	Demo        bool   `json:"demo"`
}

// PaymentInitiator starts a push payment for an existing payable.
type PaymentInitiator interface {
	InitPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
}

type Orchestrator struct {
	store    Store
	catalog  Catalog
	payments PaymentInitiator
}

func NewOrchestrator(store Store, catalog Catalog, payments PaymentInitiator) *Orchestrator {
	return &Orchestrator{store: store, catalog: catalog, payments: payments}
}

// StartCheckout creates a pending order for cart and asks the aggregator to
// push a payment prompt to the shopper's phone. The order id is the payment
// reference. When the push cannot be started the order stays pending and the
// error is returned so the shopper can retry.
func (o *Orchestrator) StartCheckout(ctx context.Context, cart Cart, shipping models.ShippingAddress) (*Started, error) {
	logPrefix := utils.LogPrefix(ctx)

	if !utils.ValidKenyanPhone(shipping.Phone) {
		return nil, ErrInvalidPhone
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	order := &models.Order{
		ID:              utils.GenerateUUID7(),
		UserID:          cart.UserID,
		Status:          models.OrderPending,
		TotalAmount:     cart.Total(),
		ShippingAddress: shipping,
	}
	for _, item := range cart.Items {
		if item.Quantity <= 0 || !item.UnitPrice.IsPositive() {
			return nil, ErrInvalidItem
		}
		order.Items = append(order.Items, models.OrderItem{
			ID:        utils.GenerateUUID7(),
			OrderID:   order.ID,
			BookID:    item.BookID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			IsDigital: item.IsDigital,
		})
	}
	if err := o.attachAccessPasswords(ctx, order.Items); err != nil {
		slog.Error(logPrefix+"Failed to look up access passwords", "error", err)
		return nil, err
	}

	if err := o.store.CreateOrder(ctx, order); err != nil {
		slog.Error(logPrefix+"Failed to create order", "error", err)
		return nil, fmt.Errorf("create order: %w", err)
	}
	slog.Info(logPrefix+"Order created", "order_id", order.ID, "total", order.TotalAmount.StringFixed(2), "items", len(order.Items))

	first, last := splitName(shipping.FullName)
	resp, err := o.payments.InitPayment(ctx, PaymentRequest{
		OrderID:   order.ID,
		UserID:    cart.UserID,
		Phone:     shipping.Phone,
		Amount:    order.TotalAmount,
		FirstName: first,
		LastName:  last,
		Email:     shipping.Email,
	})
	if err != nil {
		slog.Error(logPrefix+"Failed to start payment", "order_id", order.ID, "error", err)
		return &Started{OrderID: order.ID, Amount: order.TotalAmount}, err
	}

	started := &Started{OrderID: order.ID, PaymentID: resp.ID, Amount: order.TotalAmount, Demo: resp.Demo}
	if resp.ID != "" {
		if err := o.store.SetOrderPaymentID(ctx, order.ID, resp.ID); err != nil {
			// The webhook still carries the order id, so settlement is unaffected.
			slog.Warn(logPrefix+"Failed to record payment id", "order_id", order.ID, "payment_id", resp.ID, "error", err)
		}
	}

	slog.Info(logPrefix+"Payment prompt sent", "order_id", order.ID, "payment_id", resp.ID, "demo", resp.Demo)
	return started, nil
}

func (o *Orchestrator) attachAccessPasswords(ctx context.Context, items []models.OrderItem) error {
	var bookIDs []string
	seen := make(map[string]bool)
	for _, item := range items {
		if item.IsDigital && !seen[item.BookID] {
			seen[item.BookID] = true
			bookIDs = append(bookIDs, item.BookID)
		}
	}
	if len(bookIDs) == 0 {
		return nil
	}

	passwords, err := o.catalog.AccessPasswords(ctx, bookIDs)
	if err != nil {
		return fmt.Errorf("look up access passwords: %w", err)
	}
	for i := range items {
		if items[i].IsDigital {
			items[i].EncryptedAccessPassword = passwords[items[i].BookID]
		}
	}
	return nil
}

func splitName(full string) (string, string) {
	first, rest, _ := strings.Cut(strings.TrimSpace(full), " ")
	return first, strings.TrimSpace(rest)
}
