package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"bookstore-payments/pkg/database"
	"bookstore-payments/pkg/models"

	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02 15:04:05"

func money(v interface{}) string {
	if d, ok := v.(decimal.Decimal); ok {
		return d.StringFixed(2)
	}
	return fmt.Sprintf("%v", v)
}

func printTransactions(ctx context.Context, out io.Writer) error {
	today, start, end := todayRange()
	loc := reportLocation()
	slog.Info("Printing transactions", "date", today, "timezone", loc.String())

	rows, err := database.DB.QueryContext(ctx, `SELECT id, order_id, amount, status, provider_reference, created_at
		FROM transactions
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`, start, end)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	table := NewTable(out, "Transactions for "+today+" ("+loc.String()+")").
		AddColumn("Order / Reference", 38, "left", nil).
		AddColumn("Amount", 12, "right", money).
		AddColumn("Status", 9, "left", nil).
		AddColumn("Provider Ref", 38, "left", nil).
		AddColumn("Created At", 21, "left", nil)
	table.PrintHeader()

	total := decimal.Zero
	count := 0
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.OrderID, &tx.Amount, &tx.Status, &tx.ProviderReference, &tx.CreatedAt); err != nil {
			slog.Error("Failed to scan transaction", "error", err)
			continue
		}
		total = total.Add(tx.Amount)
		count++
		table.PrintRow([]interface{}{tx.OrderID, tx.Amount, tx.Status, tx.ProviderReference, tx.CreatedAt.In(loc).Format(timeLayout)})
	}
	if count == 0 {
		table.PrintEmptyRow("No transactions today")
	}
	table.PrintFooter()

	fmt.Fprintf(out, "Total transactions: %d\n", count)
	fmt.Fprintf(out, "Total collected: %s\n", total.StringFixed(2))
	return rows.Err()
}

func printLedger(ctx context.Context, out io.Writer) error {
	today, start, end := todayRange()
	loc := reportLocation()
	slog.Info("Printing commission ledger", "date", today, "timezone", loc.String())

	rows, err := database.DB.QueryContext(ctx, `SELECT l.order_id, l.order_item_id, i.title, l.amount, l.payout_status, l.created_at
		FROM fulfillment_ledger l
		LEFT JOIN order_items i ON i.id = l.order_item_id
		WHERE l.created_at >= ? AND l.created_at < ?
		ORDER BY l.order_id, l.created_at ASC`, start, end)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	table := NewTable(out, "Commission Ledger for "+today+" ("+loc.String()+")").
		AddColumn("Order ID", 38, "left", nil).
		AddColumn("Item", 30, "left", nil).
		AddColumn("Commission", 12, "right", money).
		AddColumn("Payout", 9, "left", nil).
		AddColumn("Created At", 21, "left", nil)
	table.PrintHeader()

	owed := decimal.Zero
	count := 0
	for rows.Next() {
		var e models.LedgerEntry
		var title sql.NullString
		if err := rows.Scan(&e.OrderID, &e.OrderItemID, &title, &e.Amount, &e.PayoutStatus, &e.CreatedAt); err != nil {
			slog.Error("Failed to scan ledger entry", "error", err)
			continue
		}
		item := e.OrderItemID
		if title.Valid && title.String != "" {
			item = title.String
		}
		if e.PayoutStatus == models.PayoutPending {
			owed = owed.Add(e.Amount)
		}
		count++
		table.PrintRow([]interface{}{e.OrderID, item, e.Amount, e.PayoutStatus, e.CreatedAt.In(loc).Format(timeLayout)})
	}
	if count == 0 {
		table.PrintEmptyRow("No commission entries today")
	}
	table.PrintFooter()

	fmt.Fprintf(out, "Total entries: %d\n", count)
	fmt.Fprintf(out, "Commission pending payout: %s\n", owed.StringFixed(2))
	return rows.Err()
}

type orderAudit struct {
	ID           string
	Status       string
	Total        decimal.Decimal
	Transactions int
	LedgerLines  int
	Items        int
	CreatedAt    time.Time
}

// violation names what is wrong with a settled order, if anything.
func (a orderAudit) violation() string {
	switch {
	case a.Transactions > 1:
		return "DUPLICATE TX"
	case a.Status == models.OrderPaid && a.Transactions == 0:
		return "PAID, NO TX"
	case a.Status == models.OrderPaid && a.LedgerLines != a.Items:
		return "LEDGER GAP"
	case a.Status != models.OrderPaid && a.LedgerLines > 0:
		return "UNPAID LEDGER"
	}
	return "ok"
}

func printOrders(ctx context.Context, out io.Writer) error {
	today, start, end := todayRange()
	loc := reportLocation()
	slog.Info("Printing order audit", "date", today, "timezone", loc.String())

	rows, err := database.DB.QueryContext(ctx, `SELECT o.id, o.status, o.total_amount, o.created_at,
			(SELECT COUNT(*) FROM transactions t WHERE t.order_id = o.id) AS tx_count,
			(SELECT COUNT(*) FROM fulfillment_ledger l WHERE l.order_id = o.id) AS ledger_count,
			(SELECT COUNT(*) FROM order_items i WHERE i.order_id = o.id) AS item_count
		FROM orders o
		WHERE o.created_at >= ? AND o.created_at < ?
		ORDER BY o.created_at ASC`, start, end)
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	table := NewTable(out, "Order Audit for "+today+" ("+loc.String()+")").
		AddColumn("Order ID", 38, "left", nil).
		AddColumn("Status", 11, "left", nil).
		AddColumn("Total", 12, "right", money).
		AddColumn("TX", 4, "right", nil).
		AddColumn("Ledger", 8, "right", nil).
		AddColumn("Check", 15, "left", nil).
		AddColumn("Created At", 21, "left", nil)
	table.PrintHeader()

	counts := map[string]int{}
	violations := 0
	for rows.Next() {
		var a orderAudit
		if err := rows.Scan(&a.ID, &a.Status, &a.Total, &a.CreatedAt, &a.Transactions, &a.LedgerLines, &a.Items); err != nil {
			slog.Error("Failed to scan order", "error", err)
			continue
		}
		counts[a.Status]++
		check := a.violation()
		if check != "ok" {
			violations++
		}
		table.PrintRow([]interface{}{a.ID, a.Status, a.Total, a.Transactions, a.LedgerLines, check, a.CreatedAt.In(loc).Format(timeLayout)})
	}
	if len(counts) == 0 {
		table.PrintEmptyRow("No orders created today")
	}
	table.PrintFooter()

	fmt.Fprintf(out, "Paid: %d, Pending: %d, Failed: %d\n", counts[models.OrderPaid], counts[models.OrderPending], counts[models.OrderFailed])
	fmt.Fprintf(out, "Idempotency violations: %d\n", violations)
	return rows.Err()
}
