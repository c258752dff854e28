package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookstore-payments/pkg/database"
	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/settlement"
	"bookstore-payments/pkg/utils"

	"github.com/spf13/cast"
)

const membershipDurationKey = "membership_duration_days"

// Store is the MySQL persistence layer shared by the payment and checkout
// services.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FromDefault wraps the connection opened by database.Init.
func FromDefault() *Store {
	return New(database.DB)
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, status, total_amount, shipping_address) VALUES (?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.Status, order.TotalAmount, shipping)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, book_id, title, quantity, unit_price, is_digital, encrypted_access_password)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, order.ID, item.BookID, item.Title, item.Quantity, item.UnitPrice, item.IsDigital, nullString(item.EncryptedAccessPassword))
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// AccessPasswords returns the stored encrypted access password for each of
// bookIDs that has one.
func (s *Store) AccessPasswords(ctx context.Context, bookIDs []string) (map[string]string, error) {
	passwords := make(map[string]string, len(bookIDs))
	if len(bookIDs) == 0 {
		return passwords, nil
	}

	args := make([]interface{}, len(bookIDs))
	for i, id := range bookIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT book_id, encrypted_access_password FROM book_access WHERE book_id IN (?`+strings.Repeat(", ?", len(bookIDs)-1)+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("select access passwords: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bookID, password string
		if err := rows.Scan(&bookID, &password); err != nil {
			return nil, fmt.Errorf("scan access password: %w", err)
		}
		passwords[bookID] = password
	}
	return passwords, rows.Err()
}

func (s *Store) SetOrderPaymentID(ctx context.Context, orderID, paymentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET payment_id = ? WHERE id = ? AND status = ?`,
		paymentID, orderID, models.OrderPending)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var (
		order     models.Order
		paymentID sql.NullString
		metadata  []byte
		shipping  []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, status, total_amount, payment_id, payment_metadata, shipping_address, created_at, updated_at
		 FROM orders WHERE id = ?`, id).
		Scan(&order.ID, &order.UserID, &order.Status, &order.TotalAmount, &paymentID, &metadata, &shipping, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	order.PaymentID = paymentID.String
	if len(metadata) > 0 {
		order.PaymentMetadata = json.RawMessage(metadata)
	}
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
			return nil, fmt.Errorf("decode shipping address: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, book_id, title, quantity, unit_price, is_digital, encrypted_access_password
		 FROM order_items WHERE order_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item     models.OrderItem
			password sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.BookID, &item.Title, &item.Quantity, &item.UnitPrice, &item.IsDigital, &password); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.EncryptedAccessPassword = password.String
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &order, nil
}

// PayableStatus reads the current status of an order or membership payment.
func (s *Store) PayableStatus(ctx context.Context, referenceID string) (string, error) {
	query := `SELECT status FROM orders WHERE id = ?`
	if utils.IsMembershipReference(referenceID) {
		query = `SELECT status FROM membership_payments WHERE reference_id = ?`
	}

	var status string
	err := s.db.QueryRowContext(ctx, query, referenceID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", settlement.ErrNotFound
	}
	return status, err
}

// StalePendingOrders lists pending orders that have a payment id and were
// created before cutoff, oldest first.
func (s *Store) StalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, status, total_amount, payment_id, created_at
		 FROM orders
		 WHERE status = ? AND payment_id IS NOT NULL AND payment_id <> '' AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		models.OrderPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select stale orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var (
			order     models.Order
			paymentID sql.NullString
		)
		if err := rows.Scan(&order.ID, &order.UserID, &order.Status, &order.TotalAmount, &paymentID, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stale order: %w", err)
		}
		order.PaymentID = paymentID.String
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Store) CreateMembershipPayment(ctx context.Context, mp *models.MembershipPayment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO membership_payments (id, user_id, reference_id, amount, status) VALUES (?, ?, ?, ?, ?)`,
		mp.ID, mp.UserID, mp.ReferenceID, mp.Amount, mp.Status)
	if err != nil {
		return fmt.Errorf("insert membership payment: %w", err)
	}
	return nil
}

func (s *Store) SetMembershipPaymentID(ctx context.Context, referenceID, paymentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE membership_payments SET payment_id = ? WHERE reference_id = ? AND status = ?`,
		paymentID, referenceID, models.MembershipPending)
	return err
}

func (s *Store) FindMembershipPayment(ctx context.Context, paymentID, referenceID string) (*models.MembershipPayment, error) {
	const cols = `SELECT id, user_id, reference_id, amount, status, payment_id, metadata, created_at FROM membership_payments `

	if paymentID != "" {
		mp, err := s.scanMembership(s.db.QueryRowContext(ctx, cols+`WHERE payment_id = ? LIMIT 1`, paymentID))
		if !errors.Is(err, settlement.ErrNotFound) {
			return mp, err
		}
	}
	return s.scanMembership(s.db.QueryRowContext(ctx, cols+`WHERE reference_id = ?`, referenceID))
}

// StaleMembershipPayments is StalePendingOrders for membership payments.
func (s *Store) StaleMembershipPayments(ctx context.Context, cutoff time.Time, limit int) ([]models.MembershipPayment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, reference_id, amount, status, payment_id, created_at
		 FROM membership_payments
		 WHERE status = ? AND payment_id IS NOT NULL AND payment_id <> '' AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		models.MembershipPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select stale membership payments: %w", err)
	}
	defer rows.Close()

	var payments []models.MembershipPayment
	for rows.Next() {
		var (
			mp        models.MembershipPayment
			paymentID sql.NullString
		)
		if err := rows.Scan(&mp.ID, &mp.UserID, &mp.ReferenceID, &mp.Amount, &mp.Status, &paymentID, &mp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stale membership payment: %w", err)
		}
		mp.PaymentID = paymentID.String
		payments = append(payments, mp)
	}
	return payments, rows.Err()
}

func (s *Store) scanMembership(row *sql.Row) (*models.MembershipPayment, error) {
	var (
		mp        models.MembershipPayment
		paymentID sql.NullString
		metadata  []byte
	)
	err := row.Scan(&mp.ID, &mp.UserID, &mp.ReferenceID, &mp.Amount, &mp.Status, &paymentID, &metadata, &mp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select membership payment: %w", err)
	}
	mp.PaymentID = paymentID.String
	if len(metadata) > 0 {
		mp.Metadata = json.RawMessage(metadata)
	}
	return &mp, nil
}

func (s *Store) TransactionExists(ctx context.Context, providerReference string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE provider_reference = ?)`, providerReference).Scan(&exists)
	return exists, err
}

func (s *Store) PlatformCommissionRate(ctx context.Context) (*models.CommissionRate, error) {
	var rate models.CommissionRate
	err := s.db.QueryRowContext(ctx,
		`SELECT id, commission_rate FROM partnership_services
		 WHERE type = 'platform' AND is_active = TRUE
		 ORDER BY created_at DESC LIMIT 1`).Scan(&rate.PartnerServiceID, &rate.Percent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

func (s *Store) MembershipDurationDays(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE `key` = ?", membershipDurationKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cast.ToIntE(value)
}

// CommitOrderSettlement applies s in one transaction. The status update is
// conditional on the order still being pending; losing that race or hitting a
// unique key returns settlement.ErrAlreadySettled.
func (s *Store) CommitOrderSettlement(ctx context.Context, st settlement.OrderSettlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, payment_id = ?, payment_metadata = ? WHERE id = ? AND status = ?`,
		st.Status, st.PaymentID, nullJSON(st.Metadata), st.OrderID, models.OrderPending)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return settlement.ErrAlreadySettled
	}

	if t := st.Transaction; t != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (id, order_id, user_id, amount, status, provider_reference, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.OrderID, t.UserID, t.Amount, t.Status, t.ProviderReference, nullJSON(t.Metadata))
		if err != nil {
			return duplicateAsSettled("insert transaction", err)
		}
	}

	for _, e := range st.LedgerEntries {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO fulfillment_ledger (id, order_id, order_item_id, partner_service_id, amount, payout_status, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.OrderID, e.OrderItemID, nullString(e.PartnerServiceID), e.Amount, e.PayoutStatus, nullJSON(e.Metadata))
		if err != nil {
			return duplicateAsSettled("insert ledger entry", err)
		}
	}

	if n := st.Notification; n != nil {
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	return nil
}

func (s *Store) CommitMembershipSettlement(ctx context.Context, st settlement.MembershipSettlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin membership settlement: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE membership_payments SET status = ?, payment_id = ?, metadata = ? WHERE id = ? AND status = ?`,
		st.Status, st.PaymentID, nullJSON(st.Metadata), st.MembershipPaymentID, models.MembershipPending)
	if err != nil {
		return fmt.Errorf("update membership payment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return settlement.ErrAlreadySettled
	}

	if st.Status == models.MembershipCompleted {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO profiles (id, is_member, membership_started_at, membership_expires_at) VALUES (?, TRUE, ?, ?)
			 ON DUPLICATE KEY UPDATE is_member = TRUE,
			   membership_started_at = VALUES(membership_started_at),
			   membership_expires_at = VALUES(membership_expires_at)`,
			st.UserID, st.ActivateFrom, st.ActivateUntil)
		if err != nil {
			return fmt.Errorf("activate membership: %w", err)
		}
	}

	if n := st.Notification; n != nil {
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit membership settlement: %w", err)
	}
	return nil
}

func insertNotification(ctx context.Context, tx *sql.Tx, n *models.Notification) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, message, type, link) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type, nullString(n.Link))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func duplicateAsSettled(op string, err error) error {
	if database.IsDuplicateKey(err) {
		return settlement.ErrAlreadySettled
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

var _ settlement.Store = (*Store)(nil)
