package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	"bookstore-payments/pkg/config"
	"bookstore-payments/pkg/httpclient"
	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/paymenterr"
	"bookstore-payments/pkg/utils"
	"bookstore-payments/pkg/webhook"

	"github.com/shopspring/decimal"
)

// CallTimeout bounds every outbound aggregator call.
const CallTimeout = 8 * time.Second

const (
	incomingPaymentsPath = "/api/v1/incoming_payments"
	pushChannel          = "M-PESA STK Push"
	DefaultCurrency      = "KES"
)

type PushPaymentRequest struct {
	Amount          decimal.Decimal
	Currency        string
	Phone           string
	ReferenceID     string
	CallbackURL     string
	SubscriberName  string
	SubscriberEmail string
}

type PushResult struct {
	Location    string          `json:"location"`
	ID          string          `json:"id"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

type StatusResult struct {
	ID          string
	Status      string
	Event       models.CanonicalEvent
	RawResponse json.RawMessage
}

// Terminal reports whether the aggregator has a final answer for the payment.
func (r *StatusResult) Terminal() bool {
	return r.Event.IsSuccess || strings.EqualFold(r.Status, "Failed")
}

type Settings struct {
	BaseURL     string
	TillNumber  string
	CallbackURL string
	Missing     []string
}

type Client struct {
	settings Settings
	tokens   TokenProvider
	http     *httpclient.Client
}

func NewClient(settings Settings, tokens TokenProvider, client *httpclient.Client) *Client {
	return &Client{settings: settings, tokens: tokens, http: client}
}

// NewFromConfig wires the token source and client for the configured tier.
func NewFromConfig(cfg *config.Config) *Client {
	hc := httpclient.NewClient(CallTimeout)
	tokens := NewCachedTokenSource(cfg.AggregatorBaseURL(), cfg.Aggregator.ClientID, cfg.Aggregator.ClientSecret, hc, time.Now)
	return NewClient(Settings{
		BaseURL:     cfg.AggregatorBaseURL(),
		TillNumber:  cfg.Aggregator.TillNumber,
		CallbackURL: cfg.WebhookCallbackURL(),
		Missing:     cfg.MissingCredentials(),
	}, tokens, hc)
}

func (c *Client) Configured() bool {
	return len(c.settings.Missing) == 0
}

func (c *Client) InitiatePush(ctx context.Context, req PushPaymentRequest) (*PushResult, error) {
	if !c.Configured() {
		return nil, &paymenterr.ConfigurationError{Missing: c.settings.Missing}
	}

	phone, err := utils.NormalizePhone(req.Phone)
	if err != nil {
		return nil, &paymenterr.PaymentInitiationError{Err: err}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &paymenterr.PaymentInitiationError{Err: err}
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = c.settings.CallbackURL
	}
	firstName, lastName := splitName(req.SubscriberName)

	payload := map[string]interface{}{
		"payment_channel": pushChannel,
		"till_number":     c.settings.TillNumber,
		"subscriber": map[string]string{
			"first_name":   firstName,
			"last_name":    lastName,
			"phone_number": "+" + phone,
			"email":        req.SubscriberEmail,
		},
		"amount": map[string]string{
			"currency": currency,
			"value":    req.Amount.StringFixed(2),
		},
		"metadata": map[string]string{
			"order_id":           req.ReferenceID,
			"customer_reference": req.ReferenceID,
		},
		"_links": map[string]string{
			"callback_url": callbackURL,
		},
	}

	resp, err := c.http.PostJSON(ctx, c.settings.BaseURL+incomingPaymentsPath, payload, bearer(token))
	if err != nil {
		if clientTimedOut(ctx, err) {
			err = &paymenterr.TimeoutError{Op: "push initiation", After: c.http.Timeout()}
		}
		return nil, &paymenterr.PaymentInitiationError{Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if !resp.OK() {
		return nil, &paymenterr.PaymentInitiationError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	location := resp.Header.Get("Location")
	result := &PushResult{Location: location, ID: locationID(location)}
	if len(resp.Body) > 0 && json.Valid(resp.Body) {
		result.RawResponse = json.RawMessage(resp.Body)
	}
	return result, nil
}

func (c *Client) QueryStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	if !c.Configured() {
		return nil, &paymenterr.ConfigurationError{Missing: c.settings.Missing}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &paymenterr.PaymentQueryError{Err: err}
	}

	resp, err := c.http.Get(ctx, c.settings.BaseURL+incomingPaymentsPath+"/"+transactionID, bearer(token))
	if err != nil {
		if clientTimedOut(ctx, err) {
			err = &paymenterr.TimeoutError{Op: "status query", After: c.http.Timeout()}
		}
		return nil, &paymenterr.PaymentQueryError{Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if !resp.OK() {
		return nil, &paymenterr.PaymentQueryError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, &paymenterr.PaymentQueryError{StatusCode: resp.StatusCode, Body: string(resp.Body), Err: err}
	}

	event := webhook.Normalize(raw)
	if event.TransactionID == "" {
		event.TransactionID = transactionID
	}
	return &StatusResult{
		ID:          transactionID,
		Status:      event.RawStatus,
		Event:       event,
		RawResponse: json.RawMessage(resp.Body),
	}, nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func locationID(location string) string {
	if location == "" {
		return ""
	}
	return path.Base(strings.TrimRight(location, "/"))
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// clientTimedOut is true only when the client's own deadline fired. A caller
// whose context ended gets its context error back unlabelled.
func clientTimedOut(ctx context.Context, err error) bool {
	return ctx.Err() == nil && httpclient.IsTimeout(err)
}
