package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookstore-payments/pkg/httpclient"
	"bookstore-payments/pkg/paymenterr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAggregator struct {
	tokenCalls  atomic.Int32
	tokenStatus int
	tokenDelay  time.Duration
	pushStatus  int
	pushDelay   time.Duration
	lastPush    map[string]interface{}
	mu          sync.Mutex
}

func (f *fakeAggregator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		if f.tokenDelay > 0 {
			time.Sleep(f.tokenDelay)
		}
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("tok-%d", n),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/v1/incoming_payments", func(w http.ResponseWriter, r *http.Request) {
		if f.pushDelay > 0 {
			select {
			case <-time.After(f.pushDelay):
			case <-r.Context().Done():
				return
			}
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastPush = body
		f.mu.Unlock()
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.pushStatus != 0 {
			w.WriteHeader(f.pushStatus)
			w.Write([]byte(`{"error":"till not active"}`))
			return
		}
		w.Header().Set("Location", "https://agg.example/api/v1/incoming_payments/INC-42")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/v1/incoming_payments/INC-42", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"INC-42","attributes":{"status":"Success","metadata":{"order_id":"O1"},"event":{"resource":{"amount":"2500"}}}}}`))
	})
	return mux
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenExpiresSixHundredSecondsEarly(t *testing.T) {
	agg := &fakeAggregator{}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	clock := &manualClock{now: time.Unix(1700000000, 0)}
	src := NewCachedTokenSource(srv.URL, "id", "secret", httpclient.NewClient(time.Second), clock.Now)
	ctx := context.Background()

	tok, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, time.Unix(1700000000+3000, 0), src.Cached().ExpiresAt)

	clock.Advance(2999 * time.Second)
	tok, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, agg.tokenCalls.Load())

	clock.Advance(time.Second)
	tok, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok, "token must not be reused at t0+3000s")
	assert.EqualValues(t, 2, agg.tokenCalls.Load())
}

func TestTokenInvalidateForcesRefresh(t *testing.T) {
	agg := &fakeAggregator{}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	src := NewCachedTokenSource(srv.URL, "id", "secret", httpclient.NewClient(time.Second), nil)
	_, err := src.Token(context.Background())
	require.NoError(t, err)

	src.Invalidate()
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestTokenAuthError(t *testing.T) {
	agg := &fakeAggregator{tokenStatus: http.StatusUnauthorized}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	src := NewCachedTokenSource(srv.URL, "id", "bad", httpclient.NewClient(time.Second), nil)
	_, err := src.Token(context.Background())

	var authErr *paymenterr.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Contains(t, authErr.Body, "invalid_client")
	assert.Nil(t, src.Cached())
}

func TestConcurrentMissesShareOneExchange(t *testing.T) {
	agg := &fakeAggregator{}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	src := NewCachedTokenSource(srv.URL, "id", "secret", httpclient.NewClient(time.Second), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := src.Token(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Refreshes are idempotent, so a few overlapping exchanges are fine; what
	// matters is that callers do not each hit the aggregator.
	assert.LessOrEqual(t, agg.tokenCalls.Load(), int32(20))
	assert.NotNil(t, src.Cached())
}

func TestAbandonedCallerDoesNotFailSharedExchange(t *testing.T) {
	agg := &fakeAggregator{tokenDelay: 200 * time.Millisecond}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	src := NewCachedTokenSource(srv.URL, "id", "secret", httpclient.NewClient(5*time.Second), nil)

	impatient, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var errA, errB error
	var tokB string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = src.Token(impatient)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		tokB, errB = src.Token(context.Background())
	}()
	wg.Wait()

	require.Error(t, errA)
	assert.ErrorIs(t, errA, context.DeadlineExceeded)
	assert.False(t, paymenterr.IsTimeout(errA))

	require.NoError(t, errB)
	assert.Equal(t, "tok-1", tokB)
	assert.Equal(t, int32(1), agg.tokenCalls.Load())
	assert.NotNil(t, src.Cached())
}

func TestCallerDeadlineIsNotAClientTimeout(t *testing.T) {
	agg := &fakeAggregator{pushDelay: time.Second}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL, 5*time.Second).InitiatePush(ctx, PushPaymentRequest{
		Amount: decimal.NewFromInt(10), Phone: "712345678", ReferenceID: "O4",
	})
	var initErr *paymenterr.PaymentInitiationError
	require.ErrorAs(t, err, &initErr)
	assert.False(t, paymenterr.IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newTestClient(srvURL string, timeout time.Duration) *Client {
	hc := httpclient.NewClient(timeout)
	return NewClient(Settings{
		BaseURL:     srvURL,
		TillNumber:  "K000000",
		CallbackURL: "https://shop.example/payments/webhook",
	}, NewCachedTokenSource(srvURL, "id", "secret", hc, nil), hc)
}

func TestInitiatePush(t *testing.T) {
	agg := &fakeAggregator{}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	res, err := newTestClient(srv.URL, time.Second).InitiatePush(context.Background(), PushPaymentRequest{
		Amount:          decimal.NewFromInt(2500),
		Phone:           "0712345678",
		ReferenceID:     "O1",
		SubscriberName:  "Jane Wanjiru Doe",
		SubscriberEmail: "jane@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "INC-42", res.ID)
	assert.Equal(t, "https://agg.example/api/v1/incoming_payments/INC-42", res.Location)

	agg.mu.Lock()
	defer agg.mu.Unlock()
	sub := agg.lastPush["subscriber"].(map[string]interface{})
	assert.Equal(t, "+254712345678", sub["phone_number"])
	assert.Equal(t, "Jane", sub["first_name"])
	assert.Equal(t, "Wanjiru Doe", sub["last_name"])
	meta := agg.lastPush["metadata"].(map[string]interface{})
	assert.Equal(t, "O1", meta["order_id"])
	amount := agg.lastPush["amount"].(map[string]interface{})
	assert.Equal(t, "2500.00", amount["value"])
	assert.Equal(t, "KES", amount["currency"])
	links := agg.lastPush["_links"].(map[string]interface{})
	assert.Equal(t, "https://shop.example/payments/webhook", links["callback_url"])
}

func TestInitiatePushRejected(t *testing.T) {
	agg := &fakeAggregator{pushStatus: http.StatusBadRequest}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).InitiatePush(context.Background(), PushPaymentRequest{
		Amount: decimal.NewFromInt(10), Phone: "712345678", ReferenceID: "O2",
	})
	var initErr *paymenterr.PaymentInitiationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, http.StatusBadRequest, initErr.StatusCode)
	assert.Contains(t, initErr.Body, "till not active")
	assert.False(t, paymenterr.IsTimeout(err))
}

func TestInitiatePushTimeout(t *testing.T) {
	agg := &fakeAggregator{pushDelay: time.Second}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	_, err := newTestClient(srv.URL, 50*time.Millisecond).InitiatePush(context.Background(), PushPaymentRequest{
		Amount: decimal.NewFromInt(10), Phone: "712345678", ReferenceID: "O3",
	})
	var initErr *paymenterr.PaymentInitiationError
	require.ErrorAs(t, err, &initErr)
	var timeoutErr *paymenterr.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "push initiation", timeoutErr.Op)
}

func TestInitiatePushWithoutCredentials(t *testing.T) {
	c := NewClient(Settings{Missing: []string{"AGGREGATOR_CLIENT_ID"}}, nil, httpclient.NewClient(time.Second))
	_, err := c.InitiatePush(context.Background(), PushPaymentRequest{Phone: "712345678"})

	var cfgErr *paymenterr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"AGGREGATOR_CLIENT_ID"}, cfgErr.Missing)
	assert.False(t, c.Configured())
}

func TestInitiatePushBadPhone(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0", time.Second)
	_, err := c.InitiatePush(context.Background(), PushPaymentRequest{Phone: "12"})
	var initErr *paymenterr.PaymentInitiationError
	assert.ErrorAs(t, err, &initErr)
}

func TestQueryStatus(t *testing.T) {
	agg := &fakeAggregator{}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	res, err := newTestClient(srv.URL, time.Second).QueryStatus(context.Background(), "INC-42")
	require.NoError(t, err)
	assert.Equal(t, "Success", res.Status)
	assert.True(t, res.Terminal())
	assert.True(t, res.Event.IsSuccess)
	assert.Equal(t, "INC-42", res.Event.TransactionID)
	assert.Equal(t, "O1", res.Event.ReferenceID)
}

func TestQueryStatusNotFound(t *testing.T) {
	agg := &fakeAggregator{}
	srv := httptest.NewServer(agg.handler())
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).QueryStatus(context.Background(), "missing")
	var queryErr *paymenterr.PaymentQueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, http.StatusNotFound, queryErr.StatusCode)
}
