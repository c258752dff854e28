package paymenterr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthError is returned when the aggregator rejects the client-credentials exchange.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("aggregator token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

// ConfigurationError means merchant credentials are missing.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "aggregator credentials not configured: " + strings.Join(e.Missing, ", ")
}

type PaymentInitiationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *PaymentInitiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment initiation failed: %v", e.Err)
	}
	return fmt.Sprintf("payment initiation rejected: status %d: %s", e.StatusCode, e.Body)
}

func (e *PaymentInitiationError) Unwrap() error { return e.Err }

type PaymentQueryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *PaymentQueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment status query failed: %v", e.Err)
	}
	return fmt.Sprintf("payment status query rejected: status %d: %s", e.StatusCode, e.Body)
}

func (e *PaymentQueryError) Unwrap() error { return e.Err }

// TimeoutError is a bounded outbound call that ran past its deadline. It is
// kept distinct from a non-2xx answer so callers can decide to retry.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "webhook signature rejected: " + e.Reason
}

type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string {
	return "webhook payload not usable: " + e.Reason
}

// PersistenceError wraps a store failure in the middle of settlement.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Shopper-facing messages.
const (
	MsgNotStarted = "Payment could not be started. Please try again."
	MsgDeclined   = "Payment was declined. Please try again."
	MsgTimeout    = "We couldn't confirm your payment in time. Check your orders later."
)

func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
