package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"bookstore-payments/pkg/httpclient"
	"bookstore-payments/pkg/webhook"
)

type replayOptions struct {
	URL     string
	OrderID string
	Secret  string
	Header  string
	Times   int
}

// replayWebhook redelivers a captured aggregator body, signed the way the
// aggregator signs it.
func replayWebhook(ctx context.Context, out io.Writer, body []byte, opts replayOptions) error {
	target := opts.URL
	if opts.OrderID != "" {
		target += "?orderId=" + url.QueryEscape(opts.OrderID)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if opts.Secret != "" {
		headers[opts.Header] = webhook.Sign(opts.Secret, body)
	}
	if opts.Times <= 0 {
		opts.Times = 1
	}

	client := httpclient.NewClient(10 * time.Second)
	for i := 1; i <= opts.Times; i++ {
		resp, err := client.PostRaw(ctx, target, body, headers)
		if err != nil {
			return fmt.Errorf("delivery %d: %w", i, err)
		}
		fmt.Fprintf(out, "Delivery %d: HTTP %d %s\n", i, resp.StatusCode, resp.Body)
	}
	return nil
}
