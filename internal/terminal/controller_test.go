package terminal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-pos/internal/terminal"
)

type fakeDriver struct {
	candidates  []terminal.Candidate
	discoverErr error
	connectErr  error
	collectErr  error
	collects    int
	captures    int
	cancels     int
}

func (d *fakeDriver) DiscoverReaders(context.Context) ([]terminal.Candidate, error) {
	return d.candidates, d.discoverErr
}

func (d *fakeDriver) ConnectReader(_ context.Context, readerID string) (terminal.Candidate, error) {
	if d.connectErr != nil {
		return terminal.Candidate{}, d.connectErr
	}
	for _, c := range d.candidates {
		if c.ID == readerID {
			return c, nil
		}
	}
	return terminal.Candidate{}, errors.New("no such reader")
}

func (d *fakeDriver) Collect(_ context.Context, _, intentID string) (terminal.CollectResult, error) {
	d.collects++
	if d.collectErr != nil {
		return terminal.CollectResult{}, d.collectErr
	}
	return terminal.CollectResult{PaymentIntentID: intentID}, nil
}

func (d *fakeDriver) Capture(_ context.Context, intentID string) (terminal.CaptureResult, error) {
	d.captures++
	return terminal.CaptureResult{PaymentIntentID: intentID}, nil
}

func (d *fakeDriver) CancelAction(context.Context, string) error {
	d.cancels++
	return nil
}

func newController(d terminal.Driver) *terminal.Controller {
	return &terminal.Controller{Driver: d, Logger: zerolog.Nop()}
}

func TestConnectLifecycle(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{candidates: []terminal.Candidate{{ID: "rdr_1", Label: "Front desk"}}}
	c := newController(driver)
	require.Equal(t, terminal.Disconnected, c.State())

	candidates, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, terminal.Disconnected, c.State())

	reader, err := c.Connect(context.Background(), "rdr_1")
	require.NoError(t, err)
	require.Equal(t, "rdr_1", reader.ID)
	require.Equal(t, terminal.Connected, c.State())

	active, ok := c.ActiveReader()
	require.True(t, ok)
	require.Equal(t, "Front desk", active.Label)
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{connectErr: errors.New("pairing refused")}
	c := newController(driver)
	_, err := c.Connect(context.Background(), "rdr_1")
	require.Error(t, err)
	require.Equal(t, terminal.Disconnected, c.State())
	_, ok := c.ActiveReader()
	require.False(t, ok)
}

func TestDiscoverFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{discoverErr: errors.New("network down")}
	c := newController(driver)
	_, err := c.Discover(context.Background())
	require.Error(t, err)
	require.Equal(t, terminal.Disconnected, c.State())
}

func TestUnsolicitedDisconnectDropsSession(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{candidates: []terminal.Candidate{{ID: "rdr_1"}}}
	c := newController(driver)
	_, err := c.Connect(context.Background(), "rdr_1")
	require.NoError(t, err)

	c.HandleDisconnect("rdr_other")
	require.Equal(t, terminal.Connected, c.State())

	c.HandleDisconnect("rdr_1")
	require.Equal(t, terminal.Disconnected, c.State())
	_, ok := c.ActiveReader()
	require.False(t, ok)
}

func TestCollectRequiresLiveSession(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{candidates: []terminal.Candidate{{ID: "rdr_1"}}}
	c := newController(driver)

	_, err := c.Collect(context.Background(), "pi_123")
	require.ErrorIs(t, err, terminal.ErrNotConnected)
	require.Zero(t, driver.collects)
}

func TestCollectDisconnectErrorDropsState(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{candidates: []terminal.Candidate{{ID: "rdr_1"}}}
	c := newController(driver)
	_, err := c.Connect(context.Background(), "rdr_1")
	require.NoError(t, err)

	driver.collectErr = &terminal.DisconnectedError{ReaderID: "rdr_1"}
	_, err = c.Collect(context.Background(), "pi_123")
	var disc *terminal.DisconnectedError
	require.ErrorAs(t, err, &disc)
	require.Equal(t, terminal.Disconnected, c.State())
}

func TestCancelCollect(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{candidates: []terminal.Candidate{{ID: "rdr_1"}}}
	c := newController(driver)
	_, err := c.Connect(context.Background(), "rdr_1")
	require.NoError(t, err)

	require.NoError(t, c.CancelCollect(context.Background()))
	require.Equal(t, 1, driver.cancels)

	c.Disconnect()
	require.ErrorIs(t, c.CancelCollect(context.Background()), terminal.ErrNotConnected)
}
