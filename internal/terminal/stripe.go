package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// ActionFailedError reports a reader action that settled in failure, e.g. a
// declined or cancelled card presentation.
type ActionFailedError struct {
	Code    string
	Message string
}

func (e *ActionFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("terminal: reader action failed: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("terminal: reader action failed: %s", e.Code)
}

// StripeDriver drives server-managed Stripe Terminal readers. The collect step
// starts a process_payment_intent action on the reader and polls until the
// action settles; capture finalizes the authorized intent.
type StripeDriver struct {
	Logger       zerolog.Logger
	PollInterval time.Duration

	api *client.API
}

// NewStripeDriver constructs a driver from a restricted API key.
func NewStripeDriver(apiKey string, logger zerolog.Logger) (*StripeDriver, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("terminal: stripe api key is required")
	}
	return &StripeDriver{
		Logger:       logger,
		PollInterval: time.Second,
		api:          client.New(apiKey, nil),
	}, nil
}

// DiscoverReaders lists the readers registered to the account.
func (d *StripeDriver) DiscoverReaders(ctx context.Context) ([]Candidate, error) {
	params := &stripe.TerminalReaderListParams{}
	params.Context = ctx
	iter := d.api.TerminalReaders.List(params)
	var candidates []Candidate
	for iter.Next() {
		r := iter.TerminalReader()
		if r.Status != stripe.TerminalReaderStatusOnline {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:         r.ID,
			Label:      r.Label,
			DeviceType: string(r.DeviceType),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}
	return candidates, nil
}

// ConnectReader verifies the chosen reader is online and claims it for the lane.
func (d *StripeDriver) ConnectReader(ctx context.Context, readerID string) (Candidate, error) {
	r, err := d.getReader(ctx, readerID)
	if err != nil {
		return Candidate{}, err
	}
	if r.Status != stripe.TerminalReaderStatusOnline {
		return Candidate{}, &DisconnectedError{ReaderID: readerID}
	}
	return Candidate{ID: r.ID, Label: r.Label, DeviceType: string(r.DeviceType)}, nil
}

// Collect asks the reader to collect and authorize a payment method for the
// intent, then polls the reader action until it settles. Cancellation cancels
// the reader action so the device is not left mid-prompt.
func (d *StripeDriver) Collect(ctx context.Context, readerID, paymentIntentID string) (CollectResult, error) {
	params := &stripe.TerminalReaderProcessPaymentIntentParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	if _, err := d.api.TerminalReaders.ProcessPaymentIntent(readerID, params); err != nil {
		return CollectResult{}, fmt.Errorf("process payment intent: %w", err)
	}

	interval := d.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.cancelQuietly(readerID)
			return CollectResult{}, ctx.Err()
		case <-ticker.C:
		}
		r, err := d.getReader(ctx, readerID)
		if err != nil {
			return CollectResult{}, err
		}
		if r.Status == stripe.TerminalReaderStatusOffline {
			return CollectResult{}, &DisconnectedError{ReaderID: readerID}
		}
		if r.Action == nil {
			continue
		}
		switch r.Action.Status {
		case stripe.TerminalReaderActionStatusSucceeded:
			return CollectResult{PaymentIntentID: paymentIntentID}, nil
		case stripe.TerminalReaderActionStatusFailed:
			return CollectResult{}, &ActionFailedError{
				Code:    r.Action.FailureCode,
				Message: r.Action.FailureMessage,
			}
		default:
			// still in progress
		}
	}
}

// Capture finalizes the authorized intent so funds are collected.
func (d *StripeDriver) Capture(ctx context.Context, paymentIntentID string) (CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := d.api.PaymentIntents.Capture(paymentIntentID, params)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("capture payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return CaptureResult{}, fmt.Errorf("capture payment intent: unexpected status %s", pi.Status)
	}
	return CaptureResult{PaymentIntentID: pi.ID, AmountCaptured: pi.AmountReceived}, nil
}

// CancelAction aborts whatever action the reader is currently running.
func (d *StripeDriver) CancelAction(ctx context.Context, readerID string) error {
	params := &stripe.TerminalReaderCancelActionParams{}
	params.Context = ctx
	if _, err := d.api.TerminalReaders.CancelAction(readerID, params); err != nil {
		return fmt.Errorf("cancel reader action: %w", err)
	}
	return nil
}

func (d *StripeDriver) getReader(ctx context.Context, readerID string) (*stripe.TerminalReader, error) {
	params := &stripe.TerminalReaderParams{}
	params.Context = ctx
	r, err := d.api.TerminalReaders.Get(readerID, params)
	if err != nil {
		return nil, fmt.Errorf("get reader: %w", err)
	}
	return r, nil
}

func (d *StripeDriver) cancelQuietly(readerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.CancelAction(ctx, readerID); err != nil {
		d.Logger.Warn().Err(err).Str("reader_id", readerID).Msg("cancel reader action")
	}
}
