package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"bookstore-payments/pkg/database"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	prev := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = prev
		db.Close()
	})
	return mock
}

func TestPrintOrdersFlagsViolations(t *testing.T) {
	mock := withMockDB(t)
	now := time.Now()

	mock.ExpectQuery(`FROM orders o`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "total_amount", "created_at", "tx_count", "ledger_count", "item_count"}).
			AddRow("O1", "paid", "2500.00", now, 1, 2, 2).
			AddRow("O2", "paid", "900.00", now, 2, 1, 1).
			AddRow("O3", "pending", "100.00", now, 0, 0, 1).
			AddRow("O4", "failed", "100.00", now, 0, 1, 1))

	var out bytes.Buffer
	require.NoError(t, printOrders(context.Background(), &out))
	require.NoError(t, mock.ExpectationsWereMet())

	s := out.String()
	assert.Contains(t, s, "DUPLICATE TX")
	assert.Contains(t, s, "UNPAID LEDGER")
	assert.Contains(t, s, "Paid: 2, Pending: 1, Failed: 1")
	assert.Contains(t, s, "Idempotency violations: 2")
}

func TestPrintLedgerTotalsPendingPayouts(t *testing.T) {
	mock := withMockDB(t)
	now := time.Now()

	mock.ExpectQuery(`FROM fulfillment_ledger l`).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "order_item_id", "title", "amount", "payout_status", "created_at"}).
			AddRow("O1", "I1", "The Go Programming Language", "215.52", "pending", now).
			AddRow("O1", "I2", nil, "34.48", "pending", now).
			AddRow("O2", "I3", "SRE", "10.00", "paid", now))

	var out bytes.Buffer
	require.NoError(t, printLedger(context.Background(), &out))

	s := out.String()
	assert.Contains(t, s, "I2")
	assert.Contains(t, s, "Total entries: 3")
	assert.Contains(t, s, "Commission pending payout: 250.00")
}

func TestPrintTransactionsEmpty(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery(`FROM transactions`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "amount", "status", "provider_reference", "created_at"}))

	var out bytes.Buffer
	require.NoError(t, printTransactions(context.Background(), &out))
	assert.Contains(t, out.String(), "No transactions today")
	assert.Contains(t, out.String(), "Total collected: 0.00")
}
