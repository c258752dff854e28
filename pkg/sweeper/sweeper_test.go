package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/provider"
	"bookstore-payments/pkg/settlement"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPending struct {
	orders      []models.Order
	memberships []models.MembershipPayment
	ordersErr   error
	cutoff      time.Time
	limit       int
}

func (s *staticPending) StalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	s.cutoff, s.limit = cutoff, limit
	return s.orders, s.ordersErr
}

func (s *staticPending) StaleMembershipPayments(ctx context.Context, cutoff time.Time, limit int) ([]models.MembershipPayment, error) {
	return s.memberships, nil
}

type statusTable map[string]*provider.StatusResult

func (t statusTable) QueryStatus(ctx context.Context, id string) (*provider.StatusResult, error) {
	if r, ok := t[id]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

type recordingLedger struct {
	mu     sync.Mutex
	events []models.CanonicalEvent
}

func (l *recordingLedger) Apply(ctx context.Context, ev models.CanonicalEvent, raw json.RawMessage) (settlement.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return settlement.Result{Outcome: settlement.Applied}, nil
}

func TestRunOnceAppliesTerminalStatuses(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := &staticPending{orders: []models.Order{
		{ID: "O1", PaymentID: "INC-1"},
		{ID: "O2", PaymentID: "INC-2"},
		{ID: "O3", PaymentID: "INC-3"},
		{ID: "O4", PaymentID: "INC-4"},
	}}
	statuses := statusTable{
		"INC-1": {ID: "INC-1", Status: "Success", Event: models.CanonicalEvent{TransactionID: "INC-1", IsSuccess: true}},
		"INC-2": {ID: "INC-2", Status: "Failed", Event: models.CanonicalEvent{TransactionID: "INC-2", ReferenceID: "O2"}},
		"INC-3": {ID: "INC-3", Status: "Pending", Event: models.CanonicalEvent{TransactionID: "INC-3"}},
	}
	ledger := &recordingLedger{}

	s := New(orders, statuses, ledger, Options{StaleAfter: 2 * time.Minute, BatchSize: 10, WorkerCount: 2, Now: func() time.Time { return now }})
	settled := s.RunOnce(context.Background())

	assert.Equal(t, 2, settled)
	assert.Equal(t, now.Add(-2*time.Minute), orders.cutoff)
	assert.Equal(t, 10, orders.limit)

	require.Len(t, ledger.events, 2)
	refs := map[string]bool{}
	for _, ev := range ledger.events {
		refs[ev.ReferenceID] = ev.IsSuccess
	}
	assert.Equal(t, map[string]bool{"O1": true, "O2": false}, refs, "missing reference falls back to the order id")
}

func TestRunOnceSettlesStaleMembershipPayments(t *testing.T) {
	pending := &staticPending{
		ordersErr: errors.New("orders table locked"),
		memberships: []models.MembershipPayment{
			{ID: "mp-1", ReferenceID: "MEMB-u1-1700000000000", PaymentID: "INC-M1"},
			{ID: "mp-2", ReferenceID: "MEMB-u2-1700000000001", PaymentID: "INC-M2"},
		},
	}
	statuses := statusTable{
		"INC-M1": {ID: "INC-M1", Status: "Success", Event: models.CanonicalEvent{TransactionID: "INC-M1", IsSuccess: true}},
		"INC-M2": {ID: "INC-M2", Status: "Pending", Event: models.CanonicalEvent{TransactionID: "INC-M2"}},
	}
	ledger := &recordingLedger{}

	s := New(pending, statuses, ledger, Options{})
	assert.Equal(t, 1, s.RunOnce(context.Background()), "an order lookup failure does not block memberships")

	require.Len(t, ledger.events, 1)
	assert.Equal(t, "MEMB-u1-1700000000000", ledger.events[0].ReferenceID)
	assert.True(t, ledger.events[0].IsSuccess)
}

func TestRunOnceWithNothingStale(t *testing.T) {
	ledger := &recordingLedger{}
	s := New(&staticPending{}, statusTable{}, ledger, Options{})
	assert.Zero(t, s.RunOnce(context.Background()))
	assert.Empty(t, ledger.events)
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(&staticPending{}, statusTable{}, &recordingLedger{}, Options{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
