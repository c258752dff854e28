package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/paymenterr"
	"bookstore-payments/pkg/provider"
	"bookstore-payments/pkg/settlement"
	"bookstore-payments/pkg/utils"
	"bookstore-payments/pkg/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	paymentTypeMembership = "membership"
	unavailableMessage    = "Payments are temporarily unavailable. Please try again later."
)

type PaymentProvider interface {
	Configured() bool
	InitiatePush(ctx context.Context, req provider.PushPaymentRequest) (*provider.PushResult, error)
	QueryStatus(ctx context.Context, transactionID string) (*provider.StatusResult, error)
}

type Settler interface {
	Apply(ctx context.Context, ev models.CanonicalEvent, raw json.RawMessage) (settlement.Result, error)
}

type PaymentStore interface {
	CreateMembershipPayment(ctx context.Context, mp *models.MembershipPayment) error
	SetMembershipPaymentID(ctx context.Context, referenceID, paymentID string) error
	SetOrderPaymentID(ctx context.Context, orderID, paymentID string) error
}

type SignatureVerifier interface {
	Verify(rawBody []byte, signature string) error
}

type PaymentHandler struct {
	Provider        PaymentProvider
	Ledger          Settler
	Store           PaymentStore
	Verifier        SignatureVerifier
	SignatureHeader string
	CallbackURL     string
	Production      bool
	Now             func() time.Time
}

func NewPaymentRouter(h *PaymentHandler) http.Handler {
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.SignatureHeader == "" {
		h.SignatureHeader = "X-Signature"
	}

	r := newRouter()
	r.Route("/payments", func(r chi.Router) {
		r.Post("/init", h.initPayment)
		r.Post("/webhook", h.receiveWebhook)
		r.Get("/status", h.paymentStatus)
	})
	return r
}

type initRequest struct {
	OrderID   string          `json:"orderId"`
	UserID    string          `json:"userId"`
	Phone     string          `json:"phone"`
	Amount    decimal.Decimal `json:"amount"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Email     string          `json:"email"`
	Type      string          `json:"type"`
}

func (req initRequest) isMembership() bool {
	return req.Type == paymentTypeMembership || req.OrderID == ""
}

func (h *PaymentHandler) initPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logPrefix := utils.LogPrefix(ctx)

	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !utils.ValidKenyanPhone(req.Phone) {
		writeError(w, http.StatusBadRequest, "Invalid phone number")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}

	membership := req.isMembership()
	referenceID := req.OrderID
	if membership {
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "userId is required for membership payments")
			return
		}
		referenceID = utils.NewMembershipReference(req.UserID, h.Now())
	}

	if !h.Provider.Configured() {
		h.respondUnconfigured(ctx, w, referenceID)
		return
	}

	if membership {
		mp := &models.MembershipPayment{
			ID:          utils.GenerateUUID7(),
			UserID:      req.UserID,
			ReferenceID: referenceID,
			Amount:      req.Amount,
			Status:      models.MembershipPending,
		}
		if err := h.Store.CreateMembershipPayment(ctx, mp); err != nil {
			slog.Error(logPrefix+"Failed to create membership payment", "reference_id", referenceID, "error", err)
			writeError(w, http.StatusInternalServerError, "Could not start membership payment")
			return
		}
	}

	slog.Info(logPrefix+"Initiating push payment", "reference_id", referenceID, "amount", req.Amount.StringFixed(2), "membership", membership)

	result, err := h.Provider.InitiatePush(ctx, provider.PushPaymentRequest{
		Amount:          req.Amount,
		Phone:           req.Phone,
		ReferenceID:     referenceID,
		CallbackURL:     h.CallbackURL + "?orderId=" + url.QueryEscape(referenceID),
		SubscriberName:  strings.TrimSpace(req.FirstName + " " + req.LastName),
		SubscriberEmail: req.Email,
	})
	if err != nil {
		h.respondInitError(ctx, w, referenceID, err)
		return
	}

	if result.ID != "" {
		var err error
		if membership {
			err = h.Store.SetMembershipPaymentID(ctx, referenceID, result.ID)
		} else {
			err = h.Store.SetOrderPaymentID(ctx, referenceID, result.ID)
		}
		if err != nil {
			slog.Warn(logPrefix+"Failed to record payment id", "reference_id", referenceID, "payment_id", result.ID, "error", err)
		}
	}

	slog.Info(logPrefix+"Push payment initiated", "reference_id", referenceID, "payment_id", result.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          result.ID,
		"location":    result.Location,
		"referenceId": referenceID,
		"provider":    result.RawResponse,
	})
}

// respondUnconfigured degrades to demo mode outside production.
func (h *PaymentHandler) respondUnconfigured(ctx context.Context, w http.ResponseWriter, referenceID string) {
	if h.Production {
		slog.Error(utils.LogPrefix(ctx) + "Aggregator credentials missing in production")
		writeError(w, http.StatusServiceUnavailable, unavailableMessage)
		return
	}
	slog.Warn(utils.LogPrefix(ctx)+"Aggregator credentials missing, answering in demo mode", "reference_id", referenceID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"demo":        true,
		"referenceId": referenceID,
		"message":     "Payment simulated: aggregator credentials are not configured",
	})
}

func (h *PaymentHandler) respondInitError(ctx context.Context, w http.ResponseWriter, referenceID string, err error) {
	logPrefix := utils.LogPrefix(ctx)

	var cfgErr *paymenterr.ConfigurationError
	if errors.As(err, &cfgErr) {
		h.respondUnconfigured(ctx, w, referenceID)
		return
	}
	if paymenterr.IsTimeout(err) {
		slog.Error(logPrefix+"Push initiation timed out", "reference_id", referenceID, "error", err)
		writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{
			"error":   "Payment provider did not respond in time",
			"timeout": true,
		})
		return
	}

	slog.Error(logPrefix+"Push initiation failed", "reference_id", referenceID, "error", err)
	body := map[string]interface{}{"error": "Payment provider rejected the request"}
	var initErr *paymenterr.PaymentInitiationError
	if errors.As(err, &initErr) && initErr.StatusCode != 0 {
		body["status"] = initErr.StatusCode
		body["details"] = initErr.Body
	}
	writeJSON(w, http.StatusBadGateway, body)
}

func (h *PaymentHandler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logPrefix := utils.LogPrefix(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read body")
		return
	}

	if err := h.Verifier.Verify(body, r.Header.Get(h.SignatureHeader)); err != nil {
		slog.Warn(logPrefix+"Webhook signature rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	ev, _, err := webhook.Parse(body)
	if err != nil {
		slog.Warn(logPrefix+"Webhook body is not JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if ev.ReferenceID == "" {
		ev.ReferenceID = r.URL.Query().Get("orderId")
	}
	if err := webhook.Validate(ev); err != nil {
		// Redelivering the same body cannot fix it.
		slog.Warn(logPrefix+"Webhook ignored", "error", err, "transaction_id", ev.TransactionID, "reference_id", ev.ReferenceID)
		writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "ignored": true})
		return
	}

	slog.Info(logPrefix+"Webhook received", "transaction_id", ev.TransactionID, "reference_id", ev.ReferenceID, "success", ev.IsSuccess, "event_type", ev.EventType)

	res, err := h.Ledger.Apply(ctx, ev, body)
	if err != nil {
		slog.Error(logPrefix+"Settlement failed, asking for redelivery", "reference_id", ev.ReferenceID, "error", err)
		writeError(w, http.StatusInternalServerError, "Settlement failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"outcome":  res.Outcome,
		"status":   res.Status,
	})
}

func (h *PaymentHandler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logPrefix := utils.LogPrefix(ctx)

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	if !h.Provider.Configured() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": "pending", "demo": true})
		return
	}

	res, err := h.Provider.QueryStatus(ctx, id)
	if err != nil {
		var queryErr *paymenterr.PaymentQueryError
		switch {
		case paymenterr.IsTimeout(err):
			writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{"error": "Payment provider did not respond in time", "timeout": true})
		case errors.As(err, &queryErr) && queryErr.StatusCode == http.StatusNotFound:
			writeError(w, http.StatusNotFound, "Payment not found")
		default:
			slog.Error(logPrefix+"Status query failed", "id", id, "error", err)
			writeError(w, http.StatusBadGateway, "Payment provider query failed")
		}
		return
	}

	resp := map[string]interface{}{
		"id":          id,
		"status":      res.Status,
		"isSuccess":   res.Event.IsSuccess,
		"referenceId": res.Event.ReferenceID,
	}

	if res.Terminal() && res.Event.ReferenceID != "" {
		out, err := h.Ledger.Apply(ctx, res.Event, res.RawResponse)
		if err != nil {
			slog.Error(logPrefix+"Failed to settle from status query", "id", id, "error", err)
		} else {
			resp["settlement"] = out.Outcome
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
