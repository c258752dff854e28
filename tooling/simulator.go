package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"bookstore-payments/pkg/checkout"
	"bookstore-payments/pkg/httpclient"
	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/utils"

	"github.com/shopspring/decimal"
)

var catalogue = []checkout.CartItem{
	{BookID: "B-GO", Title: "The Go Programming Language", UnitPrice: decimal.NewFromInt(2500)},
	{BookID: "B-DDIA", Title: "Designing Data-Intensive Applications", UnitPrice: decimal.RequireFromString("3199.50")},
	{BookID: "B-SRE", Title: "Site Reliability Engineering", UnitPrice: decimal.NewFromInt(1800), IsDigital: true},
	{BookID: "B-NW", Title: "Ngugi: Weep Not, Child", UnitPrice: decimal.NewFromInt(950)},
}

type simulationResult struct {
	Iteration     int
	CorrelationID string
	OrderID       string
	Status        int
	Result        checkout.Result
	Channel       string
	Err           error
}

func (r simulationResult) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("Iteration %d [%s]: FAILED - %v", r.Iteration, r.CorrelationID, r.Err)
	case r.Result == "":
		return fmt.Sprintf("Iteration %d [%s]: NOT STARTED (HTTP %d) - Order: %s", r.Iteration, r.CorrelationID, r.Status, r.OrderID)
	}
	return fmt.Sprintf("Iteration %d [%s]: %s via %s - Order: %s", r.Iteration, r.CorrelationID, r.Result, r.Channel, r.OrderID)
}

// Simulator drives checkout-service the way a shopper would: start a
// checkout, then wait for its outcome.
type Simulator struct {
	CheckoutURL string
	Workers     int
	Out         io.Writer

	startClient   *httpclient.Client
	outcomeClient *httpclient.Client
}

type simulationSummary struct {
	Success, Failure, Timeout, NotStarted, Errors int
}

func (s *Simulator) Run(ctx context.Context, count int) simulationSummary {
	if s.Workers <= 0 {
		s.Workers = 1
	}
	s.startClient = httpclient.NewClient(30 * time.Second)
	s.outcomeClient = httpclient.NewClient(checkout.DefaultPollInterval*checkout.DefaultPollAttempts + 15*time.Second)

	fmt.Fprintf(s.Out, "Starting simulation with %d iterations using %d goroutines\n", count, s.Workers)

	jobs := make(chan int)
	results := make(chan simulationResult, count)

	var wg sync.WaitGroup
	for i := 0; i < s.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iteration := range jobs {
				results <- s.iterate(ctx, iteration)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 1; i <= count; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var summary simulationSummary
	for r := range results {
		switch {
		case r.Err != nil:
			summary.Errors++
		case r.Result == checkout.ResultSuccess:
			summary.Success++
		case r.Result == checkout.ResultFailure:
			summary.Failure++
		case r.Result == checkout.ResultTimeout:
			summary.Timeout++
		default:
			summary.NotStarted++
		}
		fmt.Fprintln(s.Out, r)
	}

	fmt.Fprintf(s.Out, "\nSimulation completed. Success: %d, Declined: %d, Timeouts: %d, Not started: %d, Errors: %d\n",
		summary.Success, summary.Failure, summary.Timeout, summary.NotStarted, summary.Errors)
	return summary
}

type checkoutReply struct {
	OrderID string            `json:"order_id"`
	Outcome *checkout.Outcome `json:"outcome"`
}

func (s *Simulator) iterate(ctx context.Context, iteration int) simulationResult {
	correlationID := utils.GenerateCorrelationID()
	logPrefix := "[" + correlationID + "] "
	headers := map[string]string{"X-Correlation-ID": correlationID}
	res := simulationResult{Iteration: iteration, CorrelationID: correlationID}

	resp, err := s.startClient.PostJSON(ctx, s.CheckoutURL+"/checkout", randomCheckout(), headers)
	if err != nil {
		res.Err = err
		return res
	}
	var started checkoutReply
	if err := resp.DecodeJSON(&started); err != nil {
		res.Err = fmt.Errorf("decode checkout response (HTTP %d): %w", resp.StatusCode, err)
		return res
	}
	res.OrderID = started.OrderID
	res.Status = resp.StatusCode
	if resp.StatusCode != http.StatusAccepted {
		return res
	}
	slog.Info(logPrefix+"Checkout started", "iteration", iteration, "order_id", started.OrderID)

	resp, err = s.outcomeClient.Get(ctx, s.CheckoutURL+"/checkout/"+started.OrderID+"/outcome", headers)
	if err != nil {
		res.Err = err
		return res
	}
	var resolved checkoutReply
	if err := resp.DecodeJSON(&resolved); err != nil || resolved.Outcome == nil {
		res.Err = fmt.Errorf("unusable outcome response (HTTP %d)", resp.StatusCode)
		return res
	}
	res.Result = resolved.Outcome.Result
	res.Channel = resolved.Outcome.Channel
	return res
}

func randomCheckout() map[string]interface{} {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var items []checkout.CartItem
	for _, idx := range rng.Perm(len(catalogue))[:1+rng.Intn(len(catalogue))] {
		item := catalogue[idx]
		item.Quantity = 1 + rng.Intn(2)
		items = append(items, item)
	}

	return map[string]interface{}{
		"cart": checkout.Cart{UserID: utils.GenerateUUID7(), Items: items},
		"shipping": models.ShippingAddress{
			FullName: "Sim Shopper",
			Email:    "shopper@example.com",
			Phone:    fmt.Sprintf("07%08d", rng.Intn(100000000)),
			Address:  "Moi Avenue",
			City:     "Nairobi",
		},
	}
}
