package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-pos/internal/cart"
	"github.com/noah-isme/studio-pos/internal/checkout"
	"github.com/noah-isme/studio-pos/internal/order"
	"github.com/noah-isme/studio-pos/internal/terminal"
)

type fakeTerminal struct {
	connected  bool
	collectErr error
	captureErr error
	collects   int
	captures   int
}

func (f *fakeTerminal) ActiveReader() (terminal.Reader, bool) {
	if !f.connected {
		return terminal.Reader{}, false
	}
	return terminal.Reader{ID: "rdr_1", State: terminal.Connected}, true
}

func (f *fakeTerminal) Collect(_ context.Context, intentID string) (terminal.CollectResult, error) {
	f.collects++
	if f.collectErr != nil {
		return terminal.CollectResult{}, f.collectErr
	}
	return terminal.CollectResult{PaymentIntentID: intentID}, nil
}

func (f *fakeTerminal) Capture(_ context.Context, intentID string) (terminal.CaptureResult, error) {
	f.captures++
	if f.captureErr != nil {
		return terminal.CaptureResult{}, f.captureErr
	}
	return terminal.CaptureResult{PaymentIntentID: intentID, AmountCaptured: 100}, nil
}

type fakeIntents struct {
	err   error
	calls int
}

func (f *fakeIntents) CreatePaymentIntent(_ context.Context, _ checkout.IntentRequest) (checkout.Intent, error) {
	f.calls++
	if f.err != nil {
		return checkout.Intent{}, f.err
	}
	return checkout.Intent{ID: "pi_123", ClientSecret: "pi_123_secret_x"}, nil
}

type blockingRecorder struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	calls   int
}

func (r *blockingRecorder) Record(_ context.Context, _ order.Order) (order.Recorded, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if first && r.started != nil {
		close(r.started)
	}
	if r.release != nil {
		<-r.release
	}
	return order.Recorded{ID: "ord_1"}, nil
}

func filledCart(t *testing.T) *cart.Store {
	t.Helper()
	s := &cart.Store{}
	_, err := s.AddItem(context.Background(), cart.Product{ID: "p1", Name: "Day pass", UnitPrice: 1500})
	require.NoError(t, err)
	return s
}

func TestCashCheckoutRecordsAndClears(t *testing.T) {
	t.Parallel()

	rec := &order.MemoryRecorder{}
	o := &checkout.Orchestrator{Cart: filledCart(t), Orders: rec, Logger: zerolog.Nop()}
	o.SetCustomer("mem_42")

	receipt, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodCash})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.OrderID)
	require.EqualValues(t, 1500, receipt.Total)
	require.Empty(t, receipt.ExternalPaymentID)

	orders := rec.Orders()
	require.Len(t, orders, 1)
	require.Equal(t, "cash", orders[0].PaymentMethod)
	require.Equal(t, "mem_42", orders[0].CustomerRef)
	require.True(t, o.Cart.Snapshot().Empty())
	require.Empty(t, o.Customer())
	require.Equal(t, checkout.StateIdle, o.State())
}

func TestManualCardUsesSentinel(t *testing.T) {
	t.Parallel()

	rec := &order.MemoryRecorder{}
	o := &checkout.Orchestrator{Cart: filledCart(t), Orders: rec, Logger: zerolog.Nop()}

	receipt, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodCard})
	require.NoError(t, err)
	require.Equal(t, "manual_entry", receipt.ExternalPaymentID)
	require.Equal(t, "manual_entry", rec.Orders()[0].ExternalPaymentID)
}

func TestEmptyCartRejected(t *testing.T) {
	t.Parallel()

	o := &checkout.Orchestrator{Cart: &cart.Store{}, Orders: &order.MemoryRecorder{}, Logger: zerolog.Nop()}
	_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodCash})

	var failure *checkout.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, checkout.FailureValidation, failure.Kind)
	require.ErrorIs(t, failure, checkout.ErrEmptyCart)
}

func TestTerminalFailsFastWhenReaderNotConnected(t *testing.T) {
	t.Parallel()

	intents := &fakeIntents{}
	term := &fakeTerminal{connected: false}
	o := &checkout.Orchestrator{
		Cart:     filledCart(t),
		Terminal: term,
		Intents:  intents,
		Orders:   &order.MemoryRecorder{},
		Logger:   zerolog.Nop(),
	}

	_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodTerminal})
	var failure *checkout.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, checkout.FailureHardware, failure.Kind)
	require.ErrorIs(t, failure, checkout.ErrReaderNotConnected)
	// No money-adjacent call may have happened.
	require.Zero(t, intents.calls)
	require.Zero(t, term.collects)
	require.False(t, o.Cart.Snapshot().Empty())
}

func TestTerminalDeclineIsCaptureClass(t *testing.T) {
	t.Parallel()

	rec := &order.MemoryRecorder{}
	term := &fakeTerminal{
		connected:  true,
		collectErr: &terminal.ActionFailedError{Code: "card_declined", Message: "card was declined"},
	}
	o := &checkout.Orchestrator{
		Cart:     filledCart(t),
		Terminal: term,
		Intents:  &fakeIntents{},
		Orders:   rec,
		Logger:   zerolog.Nop(),
	}

	_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodTerminal})
	var failure *checkout.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, checkout.FailureCapture, failure.Kind)
	require.False(t, failure.IsReconciliation())
	require.Empty(t, rec.Orders())
	require.False(t, o.Cart.Snapshot().Empty())
	require.Equal(t, checkout.StateIdle, o.State())
}

func TestTerminalDisconnectDuringCollectIsHardware(t *testing.T) {
	t.Parallel()

	term := &fakeTerminal{connected: true, collectErr: &terminal.DisconnectedError{ReaderID: "rdr_1"}}
	o := &checkout.Orchestrator{
		Cart:     filledCart(t),
		Terminal: term,
		Intents:  &fakeIntents{},
		Orders:   &order.MemoryRecorder{},
		Logger:   zerolog.Nop(),
	}

	_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodTerminal})
	var failure *checkout.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, checkout.FailureHardware, failure.Kind)
}

func TestIntentCreationFailureIsAttributable(t *testing.T) {
	t.Parallel()

	term := &fakeTerminal{connected: true}
	o := &checkout.Orchestrator{
		Cart:     filledCart(t),
		Terminal: term,
		Intents:  &fakeIntents{err: errors.New("gateway unavailable")},
		Orders:   &order.MemoryRecorder{},
		Logger:   zerolog.Nop(),
	}

	_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodTerminal})
	var failure *checkout.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, checkout.FailureCapture, failure.Kind)
	require.Equal(t, "creating_intent", failure.Stage)
	require.Zero(t, term.collects)
}

func TestRecordingFailureAfterCaptureIsReconciliation(t *testing.T) {
	t.Parallel()

	rec := &order.MemoryRecorder{Err: errors.New("network error")}
	term := &fakeTerminal{connected: true}
	o := &checkout.Orchestrator{
		Cart:     filledCart(t),
		Terminal: term,
		Intents:  &fakeIntents{},
		Orders:   rec,
		Logger:   zerolog.Nop(),
	}

	_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodTerminal})
	var failure *checkout.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, checkout.FailureReconciliation, failure.Kind)
	require.True(t, failure.IsReconciliation())
	// The captured payment id must be retained for manual reconciliation.
	require.Equal(t, "pi_123", failure.ExternalPaymentID)
	// The cart is deliberately not cleared.
	require.False(t, o.Cart.Snapshot().Empty())

	pending, ok := o.ReconciliationPending()
	require.True(t, ok)
	require.Equal(t, failure, pending)

	o.AcknowledgeReconciliation()
	_, ok = o.ReconciliationPending()
	require.False(t, ok)
}

func TestDuplicateSubmitIsNoOp(t *testing.T) {
	t.Parallel()

	rec := &blockingRecorder{started: make(chan struct{}), release: make(chan struct{})}
	o := &checkout.Orchestrator{Cart: filledCart(t), Orders: rec, Logger: zerolog.Nop()}

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodCash})
		done <- err
	}()

	// Wait for the first attempt to reach the recorder.
	<-rec.started

	_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodCash})
	require.ErrorIs(t, err, checkout.ErrAttemptInFlight)

	close(rec.release)
	require.NoError(t, <-done)
	require.Equal(t, 1, rec.calls)
}

func TestCollectCancellationReturnsToIdle(t *testing.T) {
	t.Parallel()

	term := &fakeTerminal{connected: true, collectErr: context.Canceled}
	o := &checkout.Orchestrator{
		Cart:     filledCart(t),
		Terminal: term,
		Intents:  &fakeIntents{},
		Orders:   &order.MemoryRecorder{},
		Logger:   zerolog.Nop(),
	}

	_, err := o.Submit(context.Background(), checkout.Request{Method: checkout.MethodTerminal})
	var failure *checkout.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, checkout.FailureHardware, failure.Kind)
	require.Equal(t, checkout.StateIdle, o.State())
}
