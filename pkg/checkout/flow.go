package checkout

import (
	"errors"
	"fmt"

	"bookstore-payments/pkg/paymenterr"
)

type Step string

const (
	StepShipping     Step = "shipping"
	StepPayment      Step = "payment"
	StepConfirmation Step = "confirmation"
	StepError        Step = "error"
)

var ErrInvalidTransition = errors.New("invalid checkout transition")

// Flow is the shopper-facing checkout state. Messages never carry aggregator
// error bodies.
type Flow struct {
	Step     Step   `json:"step"`
	OrderID  string `json:"order_id,omitempty"`
	Message  string `json:"message,omitempty"`
	CanRetry bool   `json:"can_retry"`
	Attempts int    `json:"attempts"`
	// awaiting is set between a started payment and its resolution.
	awaiting bool
}

func NewFlow() *Flow {
	return &Flow{Step: StepShipping}
}

// SubmitShipping moves from the shipping form to payment.
func (f *Flow) SubmitShipping() error {
	if f.Step != StepShipping {
		return f.invalid("submit shipping")
	}
	f.Step = StepPayment
	return nil
}

// PaymentStarted records a push that reached the shopper's phone.
func (f *Flow) PaymentStarted(orderID string) error {
	if f.Step != StepPayment || f.awaiting {
		return f.invalid("start payment")
	}
	f.OrderID = orderID
	f.Message = ""
	f.CanRetry = false
	f.Attempts++
	f.awaiting = true
	return nil
}

// StartFailed keeps the shopper on the payment step with a retry.
func (f *Flow) StartFailed() error {
	if f.Step != StepPayment || f.awaiting {
		return f.invalid("fail payment start")
	}
	f.Attempts++
	f.Message = paymenterr.MsgNotStarted
	f.CanRetry = true
	return nil
}

// Resolve applies the outcome of the payment in flight. Only one resolution
// is accepted per started payment.
func (f *Flow) Resolve(o Outcome) error {
	if f.Step != StepPayment || !f.awaiting {
		return f.invalid("resolve payment")
	}
	f.awaiting = false

	switch o.Result {
	case ResultSuccess:
		f.Step = StepConfirmation
		f.Message = ""
		f.CanRetry = false
	case ResultFailure:
		f.Message = paymenterr.MsgDeclined
		f.CanRetry = true
	default:
		f.Step = StepError
		f.Message = paymenterr.MsgTimeout
		f.CanRetry = false
	}
	return nil
}

// Terminal reports whether the flow has left the payment loop.
func (f *Flow) Terminal() bool {
	return f.Step == StepConfirmation || f.Step == StepError
}

func (f *Flow) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, f.Step)
}
