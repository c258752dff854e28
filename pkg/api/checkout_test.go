package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookstore-payments/pkg/checkout"
	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/paymenterr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStarter struct {
	started *checkout.Started
	err     error
	cart    checkout.Cart
}

func (s *stubStarter) StartCheckout(ctx context.Context, cart checkout.Cart, shipping models.ShippingAddress) (*checkout.Started, error) {
	s.cart = cart
	return s.started, s.err
}

type stubResolver struct {
	outcome checkout.Outcome
	refs    []string
}

func (s *stubResolver) Reconcile(ctx context.Context, referenceID string) checkout.Outcome {
	s.refs = append(s.refs, referenceID)
	return s.outcome
}

func postCheckout(t *testing.T, h http.Handler, body interface{}) (*httptest.ResponseRecorder, checkoutResponse) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(b)))

	var resp checkoutResponse
	if rec.Code != http.StatusBadRequest {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

var sampleCheckout = map[string]interface{}{
	"cart": map[string]interface{}{
		"user_id": "U1",
		"items":   []map[string]interface{}{{"book_id": "B1", "title": "Go", "quantity": 1, "unit_price": "2500"}},
	},
	"shipping": map[string]interface{}{"full_name": "Jane Doe", "phone": "0712345678"},
}

func TestCheckoutStarted(t *testing.T) {
	starter := &stubStarter{started: &checkout.Started{OrderID: "O1", PaymentID: "INC-1", Amount: decimal.NewFromInt(2500)}}
	h := NewCheckoutRouter(&CheckoutHandler{Orchestrator: starter, Reconciler: &stubResolver{}})

	rec, resp := postCheckout(t, h, sampleCheckout)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "O1", resp.OrderID)
	assert.Equal(t, "INC-1", resp.PaymentID)
	assert.Equal(t, "2500.00", resp.Amount)
	require.NotNil(t, resp.Flow)
	assert.Equal(t, checkout.StepPayment, resp.Flow.Step)
	assert.Equal(t, 1, resp.Flow.Attempts)
	assert.Equal(t, "U1", starter.cart.UserID)
}

func TestCheckoutPushFailureKeepsShopperOnPayment(t *testing.T) {
	starter := &stubStarter{
		started: &checkout.Started{OrderID: "O1", Amount: decimal.NewFromInt(2500)},
		err:     &paymenterr.PaymentInitiationError{StatusCode: 422, Body: `{"error":"till closed"}`},
	}
	h := NewCheckoutRouter(&CheckoutHandler{Orchestrator: starter, Reconciler: &stubResolver{}})

	rec, resp := postCheckout(t, h, sampleCheckout)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "O1", resp.OrderID)
	require.NotNil(t, resp.Flow)
	assert.Equal(t, checkout.StepPayment, resp.Flow.Step)
	assert.True(t, resp.Flow.CanRetry)
	assert.Equal(t, paymenterr.MsgNotStarted, resp.Flow.Message)
	assert.NotContains(t, rec.Body.String(), "till closed")
}

func TestCheckoutValidationErrors(t *testing.T) {
	for _, err := range []error{checkout.ErrInvalidPhone, checkout.ErrEmptyCart, checkout.ErrInvalidItem} {
		h := NewCheckoutRouter(&CheckoutHandler{Orchestrator: &stubStarter{err: err}, Reconciler: &stubResolver{}})
		rec, _ := postCheckout(t, h, sampleCheckout)
		assert.Equal(t, http.StatusBadRequest, rec.Code, err.Error())
	}
}

func TestCheckoutStoreFailure(t *testing.T) {
	h := NewCheckoutRouter(&CheckoutHandler{Orchestrator: &stubStarter{err: errors.New("db down")}, Reconciler: &stubResolver{}})
	rec, _ := postCheckout(t, h, sampleCheckout)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

const outcomeOrderID = "0190aaaa-bbbb-7ccc-8ddd-eeeeeeeeeeee"

func TestCheckoutOutcomeRejectsUnissuedReferences(t *testing.T) {
	resolver := &stubResolver{outcome: checkout.Outcome{Result: checkout.ResultSuccess}}
	h := NewCheckoutRouter(&CheckoutHandler{Orchestrator: &stubStarter{}, Reconciler: resolver})

	for _, target := range []string{"/checkout/%3E/outcome", "/checkout/*/outcome", "/checkout/O1.%3E/outcome", "/checkout/O1/outcome"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	assert.Empty(t, resolver.refs)
}

func TestCheckoutOutcome(t *testing.T) {
	tests := []struct {
		name     string
		outcome  checkout.Outcome
		step     checkout.Step
		message  string
		canRetry bool
	}{
		{"success", checkout.Outcome{Result: checkout.ResultSuccess, Status: models.OrderPaid, Channel: checkout.ChannelPush}, checkout.StepConfirmation, "", false},
		{"failure", checkout.Outcome{Result: checkout.ResultFailure, Status: models.OrderFailed, Channel: checkout.ChannelPoll}, checkout.StepPayment, paymenterr.MsgDeclined, true},
		{"timeout", checkout.Outcome{Result: checkout.ResultTimeout}, checkout.StepError, paymenterr.MsgTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &stubResolver{outcome: tt.outcome}
			h := NewCheckoutRouter(&CheckoutHandler{Orchestrator: &stubStarter{}, Reconciler: resolver})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/"+outcomeOrderID+"/outcome", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var resp checkoutResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, []string{outcomeOrderID}, resolver.refs)
			require.NotNil(t, resp.Outcome)
			assert.Equal(t, tt.outcome.Result, resp.Outcome.Result)
			assert.Equal(t, tt.step, resp.Flow.Step)
			assert.Equal(t, tt.message, resp.Flow.Message)
			assert.Equal(t, tt.canRetry, resp.Flow.CanRetry)
		})
	}
}
