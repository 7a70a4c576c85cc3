package checkout

import (
	"errors"
	"fmt"
)

// FailureKind classifies checkout failures for the facade and the operator.
type FailureKind string

const (
	// FailureValidation covers recoverable pre-payment rejections (empty
	// cart, invalid coupon, bad request). The attempt is re-enterable.
	FailureValidation FailureKind = "validation"
	// FailureHardware covers reader discovery/connection problems and
	// disconnects. The operator retries or falls back to cash/card.
	FailureHardware FailureKind = "hardware"
	// FailureCapture covers payment-path failures before funds move:
	// intent creation, a declined/cancelled collection, or a failed capture.
	FailureCapture FailureKind = "capture"
	// FailureReconciliation means funds moved but no order record exists.
	// Not locally recoverable; must be escalated, never shown as a generic
	// failure.
	FailureReconciliation FailureKind = "reconciliation"
)

// ErrAttemptInFlight is the concurrency-guard rejection for a duplicate
// submit. It is a no-op signal, not a user-facing error.
var ErrAttemptInFlight = errors.New("checkout: attempt already in flight")

// ErrReaderNotConnected rejects a terminal checkout before any money-adjacent
// call is made.
var ErrReaderNotConnected = errors.New("checkout: card reader not connected")

// ErrEmptyCart rejects checkout of an empty cart.
var ErrEmptyCart = errors.New("checkout: cart is empty")

// Failure is the typed result of a failed checkout attempt. It never escapes
// the orchestrator as a panic; the facade only renders it.
type Failure struct {
	Kind  FailureKind
	Stage string
	Err   error
	// ExternalPaymentID is retained on reconciliation failures so the
	// operator can match the captured payment by hand.
	ExternalPaymentID string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("checkout %s failed (%s): %v", f.Stage, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsReconciliation reports whether the failure demands manual reconciliation.
func (f *Failure) IsReconciliation() bool {
	return f != nil && f.Kind == FailureReconciliation
}
