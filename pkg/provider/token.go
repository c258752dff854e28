package provider

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"bookstore-payments/pkg/httpclient"
	"bookstore-payments/pkg/paymenterr"

	"github.com/spf13/cast"
	"golang.org/x/sync/singleflight"
)

// EarlyExpiry is how long before the aggregator's stated expiry a token stops
// being handed out.
const EarlyExpiry = 600 * time.Second

const tokenPath = "/oauth/token"

type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider hands out a bearer token for aggregator calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Clock lets tests move time without sleeping.
type Clock func() time.Time

// CachedTokenSource keeps one process-wide token and refreshes it lazily.
// Concurrent misses share a single exchange.
type CachedTokenSource struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *httpclient.Client
	now          Clock

	cached atomic.Pointer[AccessToken]
	group  singleflight.Group
}

func NewCachedTokenSource(baseURL, clientID, clientSecret string, client *httpclient.Client, now Clock) *CachedTokenSource {
	if now == nil {
		now = time.Now
	}
	return &CachedTokenSource{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         client,
		now:          now,
	}
}

func (s *CachedTokenSource) Token(ctx context.Context) (string, error) {
	if tok := s.cached.Load(); tok != nil && s.now().Before(tok.ExpiresAt) {
		return tok.Value, nil
	}

	// The shared exchange must not die with whichever caller started it; the
	// client's own timeout bounds it.
	ch := s.group.DoChan("token", func() (interface{}, error) {
		return s.exchange(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*AccessToken).Value, nil
	case <-ctx.Done():
		return "", fmt.Errorf("token exchange abandoned: %w", ctx.Err())
	}
}

func (s *CachedTokenSource) Invalidate() {
	s.cached.Store(nil)
}

// Cached returns the token currently held, if any.
func (s *CachedTokenSource) Cached() *AccessToken {
	return s.cached.Load()
}

func (s *CachedTokenSource) exchange(ctx context.Context) (*AccessToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	issuedAt := s.now()
	resp, err := s.http.PostForm(ctx, s.baseURL+tokenPath, form, nil)
	if err != nil {
		if clientTimedOut(ctx, err) {
			return nil, &paymenterr.TimeoutError{Op: "token exchange", After: s.http.Timeout()}
		}
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if !resp.OK() {
		return nil, &paymenterr.AuthError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var body map[string]interface{}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, &paymenterr.AuthError{StatusCode: resp.StatusCode, Body: "undecodable token response"}
	}
	value := cast.ToString(body["access_token"])
	if value == "" {
		return nil, &paymenterr.AuthError{StatusCode: resp.StatusCode, Body: "token response without access_token"}
	}
	ttl := time.Duration(cast.ToInt64(body["expires_in"])) * time.Second

	tok := &AccessToken{Value: value, ExpiresAt: issuedAt.Add(ttl - EarlyExpiry)}
	s.cached.Store(tok)
	return tok, nil
}
