package checkout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/nats"
	"bookstore-payments/pkg/utils"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollAttempts = 20
)

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultTimeout Result = "timeout"
)

const (
	ChannelPush = "push"
	ChannelPoll = "poll"
)

// Outcome is the single resolution of one reconciliation.
type Outcome struct {
	Result  Result `json:"result"`
	Status  string `json:"status,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Subscriber delivers settlement messages for one reference.
type Subscriber interface {
	SubscribeSettled(referenceID string, fn func(models.SettledMessage)) (nats.Unsubscriber, error)
}

// StatusReader reads the persisted status of an order or membership payment.
type StatusReader interface {
	PayableStatus(ctx context.Context, referenceID string) (string, error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type ReconcilerOptions struct {
	Interval  time.Duration
	Attempts  int
	NewTicker TickerFactory
}

// Reconciler races the settlement push channel against polling the store.
type Reconciler struct {
	subscriber Subscriber
	statuses   StatusReader
	interval   time.Duration
	attempts   int
	newTicker  TickerFactory
}

func NewReconciler(subscriber Subscriber, statuses StatusReader, opts ReconcilerOptions) *Reconciler {
	r := &Reconciler{
		subscriber: subscriber,
		statuses:   statuses,
		interval:   opts.Interval,
		attempts:   opts.Attempts,
		newTicker:  opts.NewTicker,
	}
	if r.interval <= 0 {
		r.interval = DefaultPollInterval
	}
	if r.attempts <= 0 {
		r.attempts = DefaultPollAttempts
	}
	if r.newTicker == nil {
		r.newTicker = NewTimeTicker
	}
	return r
}

// Budget is how long Reconcile waits before resolving as a timeout.
func (r *Reconciler) Budget() time.Duration {
	return r.interval * time.Duration(r.attempts)
}

// Reconcile resolves referenceID exactly once: whichever channel sees a
// terminal status first wins. Before returning, the subscription is removed,
// the ticker stopped and the poll goroutine joined. An exhausted poll budget
// resolves as ResultTimeout, as does cancellation of ctx.
func (r *Reconciler) Reconcile(ctx context.Context, referenceID string) Outcome {
	logPrefix := utils.LogPrefix(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Both channels may resolve; only the first value is read.
	results := make(chan Outcome, 2)
	offer := func(o Outcome) {
		select {
		case results <- o:
		default:
		}
	}

	var sub nats.Unsubscriber
	if r.subscriber != nil {
		var err error
		sub, err = r.subscriber.SubscribeSettled(referenceID, func(msg models.SettledMessage) {
			if o, ok := classify(msg.Status, ChannelPush); ok {
				offer(o)
			}
		})
		if err != nil {
			slog.Warn(logPrefix+"Push channel unavailable, polling only", "reference_id", referenceID, "error", err)
			sub = nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.poll(ctx, referenceID, offer)
	}()

	var out Outcome
	select {
	case out = <-results:
	case <-ctx.Done():
		out = Outcome{Result: ResultTimeout}
	}

	cancel()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(logPrefix+"Failed to unsubscribe push channel", "reference_id", referenceID, "error", err)
		}
	}
	wg.Wait()

	slog.Info(logPrefix+"Payment reconciled", "reference_id", referenceID, "result", out.Result, "channel", out.Channel, "status", out.Status)
	return out
}

func (r *Reconciler) poll(ctx context.Context, referenceID string, offer func(Outcome)) {
	ticker := r.newTicker(r.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= r.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		status, err := r.statuses.PayableStatus(ctx, referenceID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn(utils.LogPrefix(ctx)+"Status poll failed", "reference_id", referenceID, "attempt", attempt, "error", err)
			continue
		}
		if o, ok := classify(status, ChannelPoll); ok {
			offer(o)
			return
		}
	}
	offer(Outcome{Result: ResultTimeout, Channel: ChannelPoll})
}

func classify(status, channel string) (Outcome, bool) {
	switch status {
	case models.OrderPaid, models.OrderProcessing, models.OrderCompleted:
		return Outcome{Result: ResultSuccess, Status: status, Channel: channel}, true
	case models.OrderFailed:
		return Outcome{Result: ResultFailure, Status: status, Channel: channel}, true
	}
	return Outcome{}, false
}
