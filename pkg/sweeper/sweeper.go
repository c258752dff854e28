package sweeper

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/provider"
	"bookstore-payments/pkg/settlement"
	"bookstore-payments/pkg/utils"
)

const (
	defaultBatchSize   = 50
	defaultWorkerCount = 5
)

// PendingSource lists payments still waiting on the aggregator. Orders and
// membership payments settle through the same ledger.
type PendingSource interface {
	StalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	StaleMembershipPayments(ctx context.Context, cutoff time.Time, limit int) ([]models.MembershipPayment, error)
}

type StatusQuerier interface {
	QueryStatus(ctx context.Context, transactionID string) (*provider.StatusResult, error)
}

type Applier interface {
	Apply(ctx context.Context, ev models.CanonicalEvent, raw json.RawMessage) (settlement.Result, error)
}

type Options struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	BatchSize   int
	WorkerCount int
	Now         func() time.Time
}

// stalePayment is one pending order or membership payment to check.
type stalePayment struct {
	referenceID string
	paymentID   string
}

// Sweeper settles payments whose webhook never arrived by asking the aggregator
// for the payment status.
type Sweeper struct {
	pending     PendingSource
	provider    StatusQuerier
	ledger      Applier
	interval    time.Duration
	staleAfter  time.Duration
	batchSize   int
	workerCount int
	now         func() time.Time
}

func New(pending PendingSource, statuses StatusQuerier, ledger Applier, opts Options) *Sweeper {
	s := &Sweeper{
		pending:     pending,
		provider:    statuses,
		ledger:      ledger,
		interval:    opts.Interval,
		staleAfter:  opts.StaleAfter,
		batchSize:   opts.BatchSize,
		workerCount: opts.WorkerCount,
		now:         opts.Now,
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 2 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.workerCount <= 0 {
		s.workerCount = defaultWorkerCount
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Info("Sweeper started", "interval", s.interval, "stale_after", s.staleAfter)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps one batch of orders and one of membership payments and
// returns how many were settled.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.staleAfter)
	var batch []stalePayment

	orders, err := s.pending.StalePendingOrders(ctx, cutoff, s.batchSize)
	if err != nil {
		slog.Error("Failed to load stale orders", "error", err)
	}
	for _, o := range orders {
		batch = append(batch, stalePayment{referenceID: o.ID, paymentID: o.PaymentID})
	}

	memberships, err := s.pending.StaleMembershipPayments(ctx, cutoff, s.batchSize)
	if err != nil {
		slog.Error("Failed to load stale membership payments", "error", err)
	}
	for _, mp := range memberships {
		batch = append(batch, stalePayment{referenceID: mp.ReferenceID, paymentID: mp.PaymentID})
	}

	if len(batch) == 0 {
		return 0
	}
	slog.Info("Sweeping stale pending payments", "orders", len(orders), "memberships", len(memberships))

	jobs := make(chan stalePayment, len(batch))
	var settled atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < s.workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if s.sweep(ctx, p) {
					settled.Add(1)
				}
			}
		}()
	}

	for _, p := range batch {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	n := int(settled.Load())
	slog.Info("Sweep completed", "checked", len(batch), "settled", n)
	return n
}

func (s *Sweeper) sweep(ctx context.Context, p stalePayment) bool {
	ctx = utils.WithCorrelationID(ctx, utils.GenerateCorrelationID())
	logPrefix := utils.LogPrefix(ctx)

	res, err := s.provider.QueryStatus(ctx, p.paymentID)
	if err != nil {
		slog.Warn(logPrefix+"Status lookup failed", "reference_id", p.referenceID, "payment_id", p.paymentID, "error", err)
		return false
	}
	if !res.Terminal() {
		return false
	}

	ev := res.Event
	if ev.ReferenceID == "" {
		ev.ReferenceID = p.referenceID
	}
	result, err := s.ledger.Apply(ctx, ev, res.RawResponse)
	if err != nil {
		slog.Error(logPrefix+"Failed to settle swept payment", "reference_id", p.referenceID, "error", err)
		return false
	}
	return result.Outcome == settlement.Applied
}
