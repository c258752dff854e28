package checkout

import (
	"context"
	"strings"
	"time"

	"bookstore-payments/pkg/httpclient"
	"bookstore-payments/pkg/paymenterr"
	"bookstore-payments/pkg/utils"
)

// initTimeout covers the payment service's own 8s aggregator bound plus
// token exchange.
const initTimeout = 20 * time.Second

// PaymentServiceClient calls the payment service over HTTP.
type PaymentServiceClient struct {
	baseURL string
	http    *httpclient.Client
}

func NewPaymentServiceClient(baseURL string) *PaymentServiceClient {
	return &PaymentServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.NewClient(initTimeout),
	}
}

func (c *PaymentServiceClient) InitPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	headers := map[string]string{"X-Correlation-ID": utils.CorrelationID(ctx)}

	resp, err := c.http.PostJSON(ctx, c.baseURL+"/payments/init", req, headers)
	if err != nil {
		if httpclient.IsTimeout(err) {
			err = &paymenterr.TimeoutError{Op: "payment init", After: c.http.Timeout()}
		}
		return nil, &paymenterr.PaymentInitiationError{Err: err}
	}
	if !resp.OK() {
		return nil, &paymenterr.PaymentInitiationError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var out PaymentResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, &paymenterr.PaymentInitiationError{StatusCode: resp.StatusCode, Body: string(resp.Body), Err: err}
	}
	return &out, nil
}
