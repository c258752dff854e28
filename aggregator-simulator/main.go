package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"bookstore-payments/pkg/config"
	"bookstore-payments/pkg/database"
	"bookstore-payments/pkg/httpclient"
	"bookstore-payments/pkg/utils"
	"bookstore-payments/pkg/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cast"
)

const incomingPaymentsPath = "/api/v1/incoming_payments"

var (
	cfg           *config.Config
	webhookDelay  time.Duration
	failPercent   int
	webhookClient = httpclient.NewClient(5 * time.Second)
)

type pushRequest struct {
	TillNumber string `json:"till_number"`
	Subscriber struct {
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		PhoneNumber string `json:"phone_number"`
	} `json:"subscriber"`
	Amount struct {
		Currency string `json:"currency"`
		Value    string `json:"value"`
	} `json:"amount"`
	Metadata struct {
		OrderID           string `json:"order_id"`
		CustomerReference string `json:"customer_reference"`
	} `json:"metadata"`
	Links struct {
		CallbackURL string `json:"callback_url"`
	} `json:"_links"`
}

func main() {
	cfg = config.Load()
	webhookDelay = cast.ToDuration(envOr("SIM_WEBHOOK_DELAY", "2s"))
	failPercent = cast.ToInt(envOr("SIM_FAIL_PERCENT", "10"))

	if err := database.Init(); err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.CreateTables(); err != nil {
		slog.Error("Failed to create tables", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/oauth/token", issueToken)
	r.Post(incomingPaymentsPath, createIncomingPayment)
	r.Get(incomingPaymentsPath+"/{id}", getIncomingPayment)
	r.Get("/health", healthCheck)

	slog.Info("Aggregator Simulator starting", "addr", cfg.AggregatorSimAddr, "webhook_delay", webhookDelay, "fail_percent", failPercent, "signed", cfg.WebhookSecret != "")
	if err := http.ListenAndServe(cfg.AggregatorSimAddr, r); err != nil {
		slog.Error("Failed to start server", "error", err)
	}
}

func issueToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if r.PostForm.Get("client_id") == "" || r.PostForm.Get("client_secret") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": "sim-" + utils.GenerateUUID7(),
		"token_type":   "Bearer",
		"expires_in":   7200,
	})
}

func createIncomingPayment(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	referenceID := req.Metadata.OrderID
	if referenceID == "" {
		referenceID = req.Metadata.CustomerReference
	}
	correlationID := utils.GenerateCorrelationID()
	logPrefix := "[" + correlationID + "] "

	if referenceID == "" || req.Subscriber.PhoneNumber == "" || cast.ToFloat64(req.Amount.Value) <= 0 {
		slog.Warn(logPrefix+"Rejected incoming payment", "reference_id", referenceID)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "reference, phone and amount are required"})
		return
	}

	id := utils.GenerateUUID7()
	query := `INSERT INTO aggregator_payments (id, reference_id, amount, phone, status, callback_url) VALUES (?, ?, ?, ?, 'Pending', ?)`
	if _, err := database.DB.ExecContext(r.Context(), query, id, referenceID, req.Amount.Value, req.Subscriber.PhoneNumber, req.Links.CallbackURL); err != nil {
		slog.Error(logPrefix+"Failed to store incoming payment", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	slog.Info(logPrefix+"Incoming payment created", "id", id, "reference_id", referenceID, "amount", req.Amount.Value, "phone", req.Subscriber.PhoneNumber)

	go settle(correlationID, id, referenceID, req)

	w.Header().Set("Location", "http://"+r.Host+incomingPaymentsPath+"/"+id)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{"id": id, "type": "incoming_payment", "attributes": map[string]string{"status": "Pending"}},
	})
}

// settle plays the shopper answering the prompt, then delivers the webhook
// one to three times.
func settle(correlationID, id, referenceID string, req pushRequest) {
	logPrefix := "[" + correlationID + "] "
	time.Sleep(webhookDelay)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	status := "Success"
	if rng.Intn(100) < failPercent {
		status = "Failed"
	}

	body, err := json.Marshal(eventBody(id, referenceID, status, req.Amount.Value, req.Subscriber.PhoneNumber, req.Subscriber.FirstName))
	if err != nil {
		slog.Error(logPrefix+"Failed to encode webhook", "error", err)
		return
	}

	ctx := context.Background()
	if _, err := database.DB.ExecContext(ctx, `UPDATE aggregator_payments SET status = ?, payload = ? WHERE id = ?`, status, string(body), id); err != nil {
		slog.Error(logPrefix+"Failed to update incoming payment", "error", err)
	}

	if req.Links.CallbackURL == "" {
		slog.Warn(logPrefix+"No callback url, skipping webhook", "id", id)
		return
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if cfg.WebhookSecret != "" {
		headers[cfg.WebhookSignatureHeader] = webhook.Sign(cfg.WebhookSecret, body)
	}

	publishCount := utils.DeterminePublishCount()
	slog.Info(logPrefix+"Publish count", "count", publishCount, "status", status)

	for i := 0; i < publishCount; i++ {
		resp, err := webhookClient.PostRaw(ctx, req.Links.CallbackURL, body, headers)
		if err != nil {
			slog.Error(logPrefix+"Failed to deliver webhook", "attempt", i+1, "error", err)
			continue
		}
		slog.Info(logPrefix+"Webhook delivered", "attempt", i+1, "reference_id", referenceID, "status_code", resp.StatusCode)
		database.DB.ExecContext(ctx, `UPDATE aggregator_payments SET deliveries = deliveries + 1 WHERE id = ?`, id)
	}
}

func getIncomingPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var referenceID, amount, phone, status string
	query := `SELECT reference_id, amount, phone, status FROM aggregator_payments WHERE id = ?`
	if err := database.DB.QueryRowContext(r.Context(), query, id).Scan(&referenceID, &amount, &phone, &status); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incoming payment not found"})
		return
	}
	writeJSON(w, http.StatusOK, eventBody(id, referenceID, status, amount, phone, ""))
}

func eventBody(id, referenceID, status, amount, phone, senderName string) map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"id":   id,
			"type": "incoming_payment",
			"attributes": map[string]interface{}{
				"status": status,
				"event": map[string]interface{}{
					"type": "buygoods_transaction_received",
					"resource": map[string]interface{}{
						"id":                  id,
						"amount":              amount,
						"status":              status,
						"sender_phone_number": phone,
						"sender_name":         senderName,
						"reference":           referenceID,
					},
				},
				"metadata": map[string]string{
					"order_id":           referenceID,
					"customer_reference": referenceID,
				},
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
