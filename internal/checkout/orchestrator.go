package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/studio-pos/internal/cart"
	"github.com/noah-isme/studio-pos/internal/obs"
	"github.com/noah-isme/studio-pos/internal/order"
	"github.com/noah-isme/studio-pos/internal/pricing"
	"github.com/noah-isme/studio-pos/internal/terminal"
)

// Method selects the payment path for an attempt.
type Method string

const (
	// MethodCash records the sale with no external capture step.
	MethodCash Method = "cash"
	// MethodCard assumes the card was keyed on the front-desk terminal
	// out-of-band; the sale is recorded with a sentinel payment id.
	MethodCard Method = "card"
	// MethodTerminal collects and captures on the connected reader.
	MethodTerminal Method = "terminal"
)

// manualEntrySentinel marks card sales captured outside this system.
const manualEntrySentinel = "manual_entry"

// State is the attempt lifecycle. Every state has an error edge back to Idle.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateCreatingIntent
	StateCollecting
	StateCapturing
	StateRecording
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateCreatingIntent:
		return "creating_intent"
	case StateCollecting:
		return "collecting"
	case StateCapturing:
		return "capturing"
	case StateRecording:
		return "recording"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Intent is a payment intent opened with the gateway for the cart total.
type Intent struct {
	ID           string
	ClientSecret string
}

// IntentRequest scopes an intent to the cart contents and optional customer.
type IntentRequest struct {
	Lines       []order.Line
	Total       pricing.Money
	CustomerRef string
}

// IntentCreator opens payment intents with the external gateway.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// TerminalSession is the slice of the terminal controller the orchestrator
// needs: a moment-of-use connection check plus the two payment steps.
type TerminalSession interface {
	ActiveReader() (terminal.Reader, bool)
	Collect(ctx context.Context, paymentIntentID string) (terminal.CollectResult, error)
	Capture(ctx context.Context, paymentIntentID string) (terminal.CaptureResult, error)
}

// Request initiates one checkout attempt.
type Request struct {
	Method      Method
	CustomerRef string
}

// Receipt reports a completed sale.
type Receipt struct {
	OrderID           string
	Total             pricing.Money
	Method            Method
	ExternalPaymentID string
}

// Orchestrator drives a finalized cart through one of the three payment paths
// and records the sale. Exactly one attempt may be in flight per lane; the
// guard is checked synchronously before any async work begins.
type Orchestrator struct {
	Cart     *cart.Store
	Terminal TerminalSession
	Intents  IntentCreator
	Orders   order.Recorder
	Logger   zerolog.Logger
	// CollectTimeout bounds the hardware collection step so the attempt can
	// never hang in Collecting when the SDK watchdog fails to fire.
	CollectTimeout time.Duration

	inFlight  atomic.Bool
	mu        sync.Mutex
	state     State
	customer  string
	reconcile *Failure
}

// State returns the observable attempt state for the presentation layer.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetCustomer associates a customer with the next sale. Purely informational;
// a sale never requires one.
func (o *Orchestrator) SetCustomer(ref string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.customer = strings.TrimSpace(ref)
}

// Customer returns the currently selected customer reference.
func (o *Orchestrator) Customer() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.customer
}

// ReconciliationPending returns the sticky reconciliation failure, if any.
// It stays set until AcknowledgeReconciliation so the operator cannot miss
// a paid-but-unrecorded sale.
func (o *Orchestrator) ReconciliationPending() (*Failure, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reconcile, o.reconcile != nil
}

// AcknowledgeReconciliation clears the sticky indicator after the operator
// has handled the dangling payment.
func (o *Orchestrator) AcknowledgeReconciliation() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconcile = nil
	if obs.ReconciliationPending != nil {
		obs.ReconciliationPending.Set(0)
	}
}

// Submit runs one checkout attempt to completion. Failures are returned as a
// *Failure; a duplicate submit while an attempt is in flight returns
// ErrAttemptInFlight and does nothing.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (Receipt, error) {
	if o == nil || o.Cart == nil || o.Orders == nil {
		return Receipt{}, errors.New("checkout orchestrator not configured")
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return Receipt{}, ErrAttemptInFlight
	}
	defer o.inFlight.Store(false)

	ctx, span := otel.Tracer("checkout.Orchestrator").Start(ctx, "Orchestrator.Submit")
	defer span.End()

	method := Method(strings.ToLower(strings.TrimSpace(string(req.Method))))
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("checkout.method", string(method)),
			attribute.String("checkout.result", result),
		)
		if obs.CheckoutAttemptTotal != nil {
			obs.CheckoutAttemptTotal.WithLabelValues(string(method), result).Inc()
		}
	}()

	receipt, failure := o.run(ctx, method, req.CustomerRef)
	o.setState(StateIdle)
	if failure != nil {
		result = string(failure.Kind)
		span.RecordError(failure)
		o.logFailure(failure)
		return Receipt{}, failure
	}
	result = "success"
	o.Logger.Info().
		Str("method", string(method)).
		Str("order_id", receipt.OrderID).
		Int64("total", receipt.Total).
		Msg("checkout_completed")
	return receipt, nil
}

func (o *Orchestrator) run(ctx context.Context, method Method, customerRef string) (Receipt, *Failure) {
	o.setState(StateSubmitting)

	snap := o.Cart.Snapshot()
	if snap.Empty() {
		return Receipt{}, &Failure{Kind: FailureValidation, Stage: StateSubmitting.String(), Err: ErrEmptyCart}
	}
	customer := strings.TrimSpace(customerRef)
	if customer == "" {
		customer = o.Customer()
	}
	lines := toLines(snap)

	var externalID string
	switch method {
	case MethodCash:
		// No external capture step; funds change hands at the drawer.
	case MethodCard:
		externalID = manualEntrySentinel
	case MethodTerminal:
		var failure *Failure
		externalID, failure = o.runTerminal(ctx, snap, lines, customer)
		if failure != nil {
			return Receipt{}, failure
		}
	default:
		return Receipt{}, &Failure{Kind: FailureValidation, Stage: StateSubmitting.String(), Err: errors.New("checkout: unknown payment method")}
	}

	o.setState(StateRecording)
	couponCode := ""
	if snap.Coupon != nil {
		couponCode = snap.Coupon.Code
	}
	recorded, err := o.Orders.Record(ctx, order.Order{
		Lines:             lines,
		Total:             snap.Total,
		PaymentMethod:     string(method),
		ExternalPaymentID: externalID,
		CouponCode:        couponCode,
		CustomerRef:       customer,
	})
	if err != nil {
		// Funds have already moved (drawer cash, keyed card, or captured
		// terminal payment) but no order exists. The cart is deliberately
		// left intact and a sticky indicator raised for the operator.
		failure := &Failure{
			Kind:              FailureReconciliation,
			Stage:             StateRecording.String(),
			Err:               err,
			ExternalPaymentID: externalID,
		}
		o.setReconciliation(failure)
		return Receipt{}, failure
	}

	o.Cart.Clear()
	o.mu.Lock()
	o.customer = ""
	o.mu.Unlock()
	o.setState(StateCompleted)
	return Receipt{
		OrderID:           recorded.ID,
		Total:             snap.Total,
		Method:            method,
		ExternalPaymentID: externalID,
	}, nil
}

// runTerminal drives intent creation, collection and capture. Each step fails
// independently with an attributable stage; none of them retries.
func (o *Orchestrator) runTerminal(ctx context.Context, snap cart.Cart, lines []order.Line, customer string) (string, *Failure) {
	if o.Terminal == nil || o.Intents == nil {
		return "", &Failure{Kind: FailureHardware, Stage: StateSubmitting.String(), Err: errors.New("checkout: terminal path not configured")}
	}
	// Re-check at the moment of use; disconnects can land between user
	// intent and action. Nothing money-adjacent may happen first.
	if _, ok := o.Terminal.ActiveReader(); !ok {
		return "", &Failure{Kind: FailureHardware, Stage: StateSubmitting.String(), Err: ErrReaderNotConnected}
	}

	o.setState(StateCreatingIntent)
	intent, err := o.Intents.CreatePaymentIntent(ctx, IntentRequest{
		Lines:       lines,
		Total:       snap.Total,
		CustomerRef: customer,
	})
	if err != nil {
		return "", &Failure{Kind: FailureCapture, Stage: StateCreatingIntent.String(), Err: err}
	}

	o.setState(StateCollecting)
	collectCtx := ctx
	if o.CollectTimeout > 0 {
		var cancel context.CancelFunc
		collectCtx, cancel = context.WithTimeout(ctx, o.CollectTimeout)
		defer cancel()
	}
	if _, err := o.Terminal.Collect(collectCtx, intent.ID); err != nil {
		return "", o.collectFailure(err)
	}

	o.setState(StateCapturing)
	captured, err := o.Terminal.Capture(ctx, intent.ID)
	if err != nil {
		// The authorization expires on its own; no funds moved.
		return "", &Failure{Kind: FailureCapture, Stage: StateCapturing.String(), Err: err}
	}
	return captured.PaymentIntentID, nil
}

func (o *Orchestrator) collectFailure(err error) *Failure {
	stage := StateCollecting.String()
	var disc *terminal.DisconnectedError
	switch {
	case errors.Is(err, terminal.ErrNotConnected), errors.As(err, &disc):
		return &Failure{Kind: FailureHardware, Stage: stage, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Operator cancellation and SDK timeouts are treated identically to
		// an explicit failure; the attempt returns cleanly to Idle.
		return &Failure{Kind: FailureHardware, Stage: stage, Err: err}
	default:
		return &Failure{Kind: FailureCapture, Stage: stage, Err: err}
	}
}

func (o *Orchestrator) setState(next State) {
	o.mu.Lock()
	prev := o.state
	o.state = next
	o.mu.Unlock()
	if prev != next {
		o.Logger.Debug().
			Str("from_state", prev.String()).
			Str("to_state", next.String()).
			Msg("checkout_transition")
	}
}

func (o *Orchestrator) setReconciliation(f *Failure) {
	o.mu.Lock()
	o.reconcile = f
	o.mu.Unlock()
	if obs.ReconciliationPending != nil {
		obs.ReconciliationPending.Set(1)
	}
}

func (o *Orchestrator) logFailure(f *Failure) {
	evt := o.Logger.Error()
	if f.Kind == FailureValidation {
		evt = o.Logger.Warn()
	}
	evt = evt.Str("stage", f.Stage).Str("kind", string(f.Kind)).Err(f.Err)
	if f.ExternalPaymentID != "" {
		evt = evt.Str("external_payment_id", f.ExternalPaymentID)
	}
	evt.Msg("checkout_failed")
}

func toLines(snap cart.Cart) []order.Line {
	lines := make([]order.Line, 0, len(snap.Items))
	for _, it := range snap.Items {
		lines = append(lines, order.Line{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Qty:       it.Qty,
		})
	}
	return lines
}
