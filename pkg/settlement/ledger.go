package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookstore-payments/pkg/mailer"
	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/paymenterr"
	"bookstore-payments/pkg/utils"

	"github.com/shopspring/decimal"
)

const defaultMembershipDays = 30

type Outcome string

const (
	Applied   Outcome = "applied"
	Discarded Outcome = "discarded"
)

const (
	TargetOrder      = "order"
	TargetMembership = "membership"
)

type Result struct {
	Outcome Outcome `json:"outcome"`
	Target  string  `json:"target"`
	Status  string  `json:"status,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

type Options struct {
	Publisher Publisher
	Mailer    mailer.Sender
	Passwords PasswordDecrypter
	VATRate   decimal.Decimal
	// MembershipDays is used when the store has no membership_duration_days setting.
	MembershipDays int
	Now            func() time.Time
}

// Ledger moves a pending order or membership payment to its terminal status
// exactly once, however many times the confirmation is delivered.
type Ledger struct {
	store          Store
	publisher      Publisher
	mailer         mailer.Sender
	passwords      PasswordDecrypter
	vatRate        decimal.Decimal
	membershipDays int
	now            func() time.Time
}

func NewLedger(store Store, opts Options) *Ledger {
	l := &Ledger{
		store:          store,
		publisher:      opts.Publisher,
		mailer:         opts.Mailer,
		passwords:      opts.Passwords,
		vatRate:        opts.VATRate,
		membershipDays: opts.MembershipDays,
		now:            opts.Now,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.membershipDays <= 0 {
		l.membershipDays = defaultMembershipDays
	}
	if l.mailer == nil {
		l.mailer = mailer.LogSender{}
	}
	return l
}

// Apply settles the target named by ev. Duplicate and late deliveries are
// discarded without error. Store failures come back as
// *paymenterr.PersistenceError so the caller can ask for redelivery.
func (l *Ledger) Apply(ctx context.Context, ev models.CanonicalEvent, raw json.RawMessage) (Result, error) {
	if len(raw) == 0 {
		raw, _ = json.Marshal(ev)
	}
	if utils.IsMembershipReference(ev.ReferenceID) {
		return l.applyMembership(ctx, ev, raw)
	}
	return l.applyOrder(ctx, ev, raw)
}

func (l *Ledger) applyOrder(ctx context.Context, ev models.CanonicalEvent, raw json.RawMessage) (Result, error) {
	logPrefix := utils.LogPrefix(ctx)
	res := Result{Target: TargetOrder}

	order, err := l.store.GetOrder(ctx, ev.ReferenceID)
	if errors.Is(err, ErrNotFound) {
		slog.Warn(logPrefix+"No order for settlement event, discarding", "order_id", ev.ReferenceID, "transaction_id", ev.TransactionID)
		return discard(res, "order not found"), nil
	}
	if err != nil {
		return res, &paymenterr.PersistenceError{Op: "load order", Err: err}
	}

	if reason, dup, err := l.alreadySettled(ctx, order.Status, order.IsPending(), ev.TransactionID); err != nil {
		return res, err
	} else if dup {
		slog.Info(logPrefix+"Order already settled, discarding event", "order_id", order.ID, "status", order.Status, "transaction_id", ev.TransactionID, "reason", reason)
		res.Status = order.Status
		return discard(res, reason), nil
	}

	s := OrderSettlement{
		OrderID:   order.ID,
		Status:    models.OrderFailed,
		PaymentID: ev.TransactionID,
		Metadata:  raw,
	}

	if ev.IsSuccess {
		s.Status = models.OrderPaid

		rate, err := l.store.PlatformCommissionRate(ctx)
		if err != nil {
			return res, &paymenterr.PersistenceError{Op: "load commission rate", Err: err}
		}

		amount := ev.Amount
		if amount.IsZero() {
			amount = order.TotalAmount
		}
		txMeta, _ := json.Marshal(map[string]interface{}{
			"phone":       ev.Phone,
			"sender_name": ev.SenderName,
			"event_type":  ev.EventType,
			"raw_status":  ev.RawStatus,
		})

		s.Transaction = &models.Transaction{
			ID:                utils.GenerateUUID7(),
			OrderID:           order.ID,
			UserID:            order.UserID,
			Amount:            amount,
			Status:            models.TransactionSuccess,
			ProviderReference: ev.TransactionID,
			Metadata:          txMeta,
		}
		s.LedgerEntries = CommissionEntries(order, rate)
		s.Notification = &models.Notification{
			ID:      utils.GenerateUUID7(),
			UserID:  order.UserID,
			Title:   "Payment received",
			Message: fmt.Sprintf("We received KES %s for order #%s.", amount.StringFixed(2), shortRef(order.ID)),
			Type:    "order",
			Link:    "/orders/" + order.ID,
		}
	}

	if err := l.store.CommitOrderSettlement(ctx, s); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			slog.Info(logPrefix+"Concurrent delivery settled order first, discarding", "order_id", order.ID, "transaction_id", ev.TransactionID)
			return discard(res, "settled concurrently"), nil
		}
		return res, &paymenterr.PersistenceError{Op: "commit order settlement", Err: err}
	}

	slog.Info(logPrefix+"Order settled", "order_id", order.ID, "status", s.Status, "transaction_id", ev.TransactionID, "ledger_entries", len(s.LedgerEntries))
	order.Status = s.Status
	l.publish(ctx, order.ID, s.Status, ev.TransactionID)

	if s.Status == models.OrderPaid {
		l.sendConfirmation(ctx, order)
	}

	res.Outcome = Applied
	res.Status = s.Status
	return res, nil
}

func (l *Ledger) applyMembership(ctx context.Context, ev models.CanonicalEvent, raw json.RawMessage) (Result, error) {
	logPrefix := utils.LogPrefix(ctx)
	res := Result{Target: TargetMembership}

	mp, err := l.store.FindMembershipPayment(ctx, ev.TransactionID, ev.ReferenceID)
	if errors.Is(err, ErrNotFound) {
		slog.Warn(logPrefix+"No membership payment for settlement event, discarding", "reference_id", ev.ReferenceID, "transaction_id", ev.TransactionID)
		return discard(res, "membership payment not found"), nil
	}
	if err != nil {
		return res, &paymenterr.PersistenceError{Op: "load membership payment", Err: err}
	}

	if reason, dup, err := l.alreadySettled(ctx, mp.Status, mp.IsPending(), ev.TransactionID); err != nil {
		return res, err
	} else if dup {
		slog.Info(logPrefix+"Membership payment already settled, discarding event", "membership_payment_id", mp.ID, "status", mp.Status, "reason", reason)
		res.Status = mp.Status
		return discard(res, reason), nil
	}

	s := MembershipSettlement{
		MembershipPaymentID: mp.ID,
		UserID:              mp.UserID,
		Status:              models.MembershipFailed,
		PaymentID:           ev.TransactionID,
		Metadata:            raw,
	}

	if ev.IsSuccess {
		days, err := l.store.MembershipDurationDays(ctx)
		if err != nil {
			return res, &paymenterr.PersistenceError{Op: "load membership duration", Err: err}
		}
		if days <= 0 {
			days = l.membershipDays
		}

		now := l.now()
		s.Status = models.MembershipCompleted
		s.ActivateFrom = now
		s.ActivateUntil = now.AddDate(0, 0, days)
		s.Notification = &models.Notification{
			ID:      utils.GenerateUUID7(),
			UserID:  mp.UserID,
			Title:   "Membership activated",
			Message: fmt.Sprintf("Your membership is active until %s.", s.ActivateUntil.Format("2 Jan 2006")),
			Type:    "membership",
			Link:    "/account",
		}
	}

	if err := l.store.CommitMembershipSettlement(ctx, s); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			slog.Info(logPrefix+"Concurrent delivery settled membership first, discarding", "membership_payment_id", mp.ID)
			return discard(res, "settled concurrently"), nil
		}
		return res, &paymenterr.PersistenceError{Op: "commit membership settlement", Err: err}
	}

	slog.Info(logPrefix+"Membership payment settled", "membership_payment_id", mp.ID, "user_id", mp.UserID, "status", s.Status)
	l.publish(ctx, mp.ReferenceID, s.Status, ev.TransactionID)

	res.Outcome = Applied
	res.Status = s.Status
	return res, nil
}

// alreadySettled is the idempotency guard: a target that left pending, or a
// provider reference already recorded, means this delivery is a repeat.
func (l *Ledger) alreadySettled(ctx context.Context, status string, pending bool, transactionID string) (string, bool, error) {
	if !pending {
		return "target is " + status, true, nil
	}
	exists, err := l.store.TransactionExists(ctx, transactionID)
	if err != nil {
		return "", false, &paymenterr.PersistenceError{Op: "check transaction", Err: err}
	}
	if exists {
		return "transaction already recorded", true, nil
	}
	return "", false, nil
}

func (l *Ledger) publish(ctx context.Context, referenceID, status, transactionID string) {
	if l.publisher == nil {
		return
	}
	err := l.publisher.PublishSettled(models.SettledMessage{
		ReferenceID:   referenceID,
		Status:        status,
		TransactionID: transactionID,
		SettledAt:     l.now(),
		CorrelationID: utils.CorrelationID(ctx),
	})
	if err != nil {
		slog.Error(utils.LogPrefix(ctx)+"Failed to publish settlement", "reference_id", referenceID, "error", err)
	}
}

// sendConfirmation runs after the commit. Its failures are logged and never
// reach the caller.
func (l *Ledger) sendConfirmation(ctx context.Context, order *models.Order) {
	logPrefix := utils.LogPrefix(ctx)
	if order.ShippingAddress.Email == "" {
		slog.Warn(logPrefix+"Order has no email address, skipping confirmation", "order_id", order.ID)
		return
	}

	passwords := make(map[string]string)
	for _, item := range order.Items {
		if !item.IsDigital || item.EncryptedAccessPassword == "" || l.passwords == nil {
			continue
		}
		plain, err := l.passwords.Decrypt(item.EncryptedAccessPassword)
		if err != nil {
			slog.Error(logPrefix+"Failed to decrypt access password", "order_id", order.ID, "order_item_id", item.ID, "error", err)
			continue
		}
		passwords[item.ID] = plain
	}

	email, err := mailer.RenderOrderConfirmation(order, passwords, l.vatRate)
	if err != nil {
		slog.Error(logPrefix+"Failed to render confirmation email", "order_id", order.ID, "error", err)
		return
	}
	if err := l.mailer.Send(ctx, email); err != nil {
		slog.Error(logPrefix+"Failed to send confirmation email", "order_id", order.ID, "error", err)
		return
	}
	slog.Info(logPrefix+"Confirmation email sent", "order_id", order.ID)
}

func discard(res Result, reason string) Result {
	res.Outcome = Discarded
	res.Reason = reason
	return res
}

func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
