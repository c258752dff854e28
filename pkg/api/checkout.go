package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bookstore-payments/pkg/checkout"
	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/utils"

	"github.com/go-chi/chi/v5"
)

type CheckoutStarter interface {
	StartCheckout(ctx context.Context, cart checkout.Cart, shipping models.ShippingAddress) (*checkout.Started, error)
}

type OutcomeResolver interface {
	Reconcile(ctx context.Context, referenceID string) checkout.Outcome
}

type CheckoutHandler struct {
	Orchestrator CheckoutStarter
	Reconciler   OutcomeResolver
}

func NewCheckoutRouter(h *CheckoutHandler) http.Handler {
	r := newRouter()
	r.Post("/checkout", h.startCheckout)
	r.Get("/checkout/{orderId}/outcome", h.outcome)
	return r
}

type checkoutRequest struct {
	Cart     checkout.Cart          `json:"cart"`
	Shipping models.ShippingAddress `json:"shipping"`
}

type checkoutResponse struct {
	OrderID   string            `json:"order_id,omitempty"`
	PaymentID string            `json:"payment_id,omitempty"`
	Amount    string            `json:"amount,omitempty"`
	Demo      bool              `json:"demo,omitempty"`
	Outcome   *checkout.Outcome `json:"outcome,omitempty"`
	Flow      *checkout.Flow    `json:"flow"`
}

func (h *CheckoutHandler) startCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logPrefix := utils.LogPrefix(ctx)

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flow := checkout.NewFlow()
	flow.SubmitShipping()

	started, err := h.Orchestrator.StartCheckout(ctx, req.Cart, req.Shipping)
	switch {
	case errors.Is(err, checkout.ErrInvalidPhone), errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && started == nil:
		slog.Error(logPrefix+"Checkout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Checkout failed")
		return
	case err != nil:
		flow.StartFailed()
		writeJSON(w, http.StatusBadGateway, checkoutResponse{OrderID: started.OrderID, Flow: flow})
		return
	}

	flow.PaymentStarted(started.OrderID)
	writeJSON(w, http.StatusAccepted, checkoutResponse{
		OrderID:   started.OrderID,
		PaymentID: started.PaymentID,
		Amount:    started.Amount.StringFixed(2),
		Demo:      started.Demo,
		Flow:      flow,
	})
}

// outcome blocks until the payment for orderId settles or the poll budget
// runs out.
func (h *CheckoutHandler) outcome(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if !utils.ValidReference(orderID) {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	out := h.Reconciler.Reconcile(r.Context(), orderID)

	flow := checkout.NewFlow()
	flow.SubmitShipping()
	flow.PaymentStarted(orderID)
	flow.Resolve(out)

	writeJSON(w, http.StatusOK, checkoutResponse{OrderID: orderID, Outcome: &out, Flow: flow})
}
