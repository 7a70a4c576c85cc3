package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/studio-pos/internal/obs"
	"github.com/noah-isme/studio-pos/internal/pricing"
)

// State is the reader connection lifecycle state.
type State int

const (
	// Disconnected means no reader session exists.
	Disconnected State = iota
	// Discovering means a reader discovery round is in progress.
	Discovering
	// Connecting means a connection to a chosen candidate is being established.
	Connecting
	// Connected means a reader session is live and payments may be collected.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned when an operation requires a live reader session.
var ErrNotConnected = errors.New("terminal: reader not connected")

// Candidate is a reader surfaced by discovery.
type Candidate struct {
	ID         string
	Label      string
	DeviceType string
}

// Reader is the single active reader handle.
type Reader struct {
	ID    string
	Label string
	State State
}

// CollectResult reports a completed collect step.
type CollectResult struct {
	PaymentIntentID string
}

// CaptureResult reports a completed capture step.
type CaptureResult struct {
	PaymentIntentID string
	AmountCaptured  pricing.Money
}

// DisconnectedError signals that the hardware layer lost the reader. It can
// surface from any driver call, including mid-payment.
type DisconnectedError struct {
	ReaderID string
	Cause    error
}

func (e *DisconnectedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("terminal: reader %s disconnected: %v", e.ReaderID, e.Cause)
	}
	return fmt.Sprintf("terminal: reader %s disconnected", e.ReaderID)
}

func (e *DisconnectedError) Unwrap() error { return e.Cause }

// Driver abstracts the hardware/SDK surface consumed by the controller.
type Driver interface {
	DiscoverReaders(ctx context.Context) ([]Candidate, error)
	ConnectReader(ctx context.Context, readerID string) (Candidate, error)
	Collect(ctx context.Context, readerID, paymentIntentID string) (CollectResult, error)
	Capture(ctx context.Context, paymentIntentID string) (CaptureResult, error)
	CancelAction(ctx context.Context, readerID string) error
}

// TokenSource supplies short-lived SDK connection tokens from the remote API.
type TokenSource interface {
	ConnectionToken(ctx context.Context) (string, error)
}

// Controller owns the connection lifecycle for at most one active reader.
// Driver calls run outside the lock so an out-of-band disconnect can be
// handled at any time, including mid-payment.
type Controller struct {
	Driver Driver
	Tokens TokenSource
	Logger zerolog.Logger

	mu     sync.Mutex
	state  State
	active Reader
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveReader returns the live reader handle, if any. Callers initiating a
// payment must re-check this at the moment of use, not rely on a stale read.
func (c *Controller) ActiveReader() (Reader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return Reader{}, false
	}
	return c.active, true
}

// Discover lists connectable readers. Failure is non-fatal and an empty list
// is a valid outcome. A live connection is left untouched.
func (c *Controller) Discover(ctx context.Context) ([]Candidate, error) {
	if c == nil || c.Driver == nil {
		return nil, errors.New("terminal: driver not configured")
	}
	c.mu.Lock()
	if c.state == Disconnected {
		c.transitionLocked(Discovering)
	}
	wasDiscovering := c.state == Discovering
	c.mu.Unlock()

	candidates, err := c.Driver.DiscoverReaders(ctx)

	c.mu.Lock()
	if wasDiscovering && c.state == Discovering {
		c.transitionLocked(Disconnected)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("terminal: discover readers: %w", err)
	}
	return candidates, nil
}

// Connect establishes a session with the chosen candidate. On failure the
// controller lands back in Disconnected, never in a dangling Connecting state.
func (c *Controller) Connect(ctx context.Context, readerID string) (Reader, error) {
	if c == nil || c.Driver == nil {
		return Reader{}, errors.New("terminal: driver not configured")
	}
	readerID = strings.TrimSpace(readerID)
	if readerID == "" {
		return Reader{}, errors.New("terminal: reader id is required")
	}
	c.mu.Lock()
	if c.state == Connecting {
		c.mu.Unlock()
		return Reader{}, errors.New("terminal: connect already in progress")
	}
	c.transitionLocked(Connecting)
	c.active = Reader{ID: readerID, State: Connecting}
	c.mu.Unlock()

	fail := func(err error) (Reader, error) {
		c.mu.Lock()
		c.transitionLocked(Disconnected)
		c.active = Reader{}
		c.mu.Unlock()
		c.observeConnect("error")
		return Reader{}, err
	}

	if c.Tokens != nil {
		if _, err := c.Tokens.ConnectionToken(ctx); err != nil {
			return fail(fmt.Errorf("terminal: fetch connection token: %w", err))
		}
	}
	candidate, err := c.Driver.ConnectReader(ctx, readerID)
	if err != nil {
		return fail(fmt.Errorf("terminal: connect reader: %w", err))
	}

	c.mu.Lock()
	// An out-of-band disconnect may have landed while the driver call was in
	// flight; it wins.
	if c.state != Connecting {
		c.mu.Unlock()
		c.observeConnect("error")
		return Reader{}, ErrNotConnected
	}
	c.transitionLocked(Connected)
	c.active = Reader{ID: candidate.ID, Label: candidate.Label, State: Connected}
	reader := c.active
	c.mu.Unlock()
	c.observeConnect("success")
	return reader, nil
}

// Disconnect tears down the session on explicit operator request.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Disconnected {
		return
	}
	c.transitionLocked(Disconnected)
	c.active = Reader{}
}

// HandleDisconnect processes an unsolicited hardware disconnect notification.
// Safe to call at any time; notifications for an unknown reader are ignored.
func (c *Controller) HandleDisconnect(readerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Disconnected {
		return
	}
	if readerID != "" && c.active.ID != "" && c.active.ID != readerID {
		return
	}
	c.transitionLocked(Disconnected)
	c.active = Reader{}
}

// Collect drives the reader through the collect-payment-method step for the
// given intent. Connection state is re-checked here, at the moment of use.
func (c *Controller) Collect(ctx context.Context, paymentIntentID string) (CollectResult, error) {
	reader, ok := c.ActiveReader()
	if !ok {
		return CollectResult{}, ErrNotConnected
	}
	start := time.Now()
	res, err := c.Driver.Collect(ctx, reader.ID, paymentIntentID)
	if err != nil {
		c.dropOnDisconnect(err)
		return CollectResult{}, err
	}
	if obs.CollectDuration != nil {
		obs.CollectDuration.Observe(obs.DurationMillis(time.Since(start)))
	}
	return res, nil
}

// Capture finalizes an authorized payment so funds are collected.
func (c *Controller) Capture(ctx context.Context, paymentIntentID string) (CaptureResult, error) {
	if c == nil || c.Driver == nil {
		return CaptureResult{}, errors.New("terminal: driver not configured")
	}
	res, err := c.Driver.Capture(ctx, paymentIntentID)
	if err != nil {
		c.dropOnDisconnect(err)
		return CaptureResult{}, err
	}
	return res, nil
}

// CancelCollect aborts an in-flight reader action, e.g. when the operator
// closes the payment dialog.
func (c *Controller) CancelCollect(ctx context.Context) error {
	reader, ok := c.ActiveReader()
	if !ok {
		return ErrNotConnected
	}
	return c.Driver.CancelAction(ctx, reader.ID)
}

func (c *Controller) dropOnDisconnect(err error) {
	var disc *DisconnectedError
	if errors.As(err, &disc) {
		c.HandleDisconnect(disc.ReaderID)
	}
}

func (c *Controller) transitionLocked(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.Logger.Info().
		Str("from_state", prev.String()).
		Str("to_state", next.String()).
		Str("reader_id", c.active.ID).
		Msg("terminal_transition")
}

func (c *Controller) observeConnect(result string) {
	if obs.TerminalConnectTotal != nil {
		obs.TerminalConnectTotal.WithLabelValues(result).Inc()
	}
}
