package terminal_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-pos/internal/terminal"
)

func newTerminalRouter(c *terminal.Controller) http.Handler {
	h := &terminal.Handler{Controller: c, Validate: validator.New()}
	r := chi.NewRouter()
	r.Get("/pos/terminal/readers", h.Readers)
	r.Post("/pos/terminal/connect", h.Connect)
	r.Post("/pos/terminal/disconnect", h.Disconnect)
	return r
}

func TestReadersListsCandidates(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{candidates: []terminal.Candidate{{ID: "rdr_1", Label: "Front desk"}}}
	router := newTerminalRouter(&terminal.Controller{Driver: driver, Logger: zerolog.Nop()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pos/terminal/readers", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data struct {
			State   string `json:"state"`
			Readers []struct {
				ID    string `json:"id"`
				Label string `json:"label"`
			} `json:"readers"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "disconnected", body.Data.State)
	require.Len(t, body.Data.Readers, 1)
	require.Equal(t, "Front desk", body.Data.Readers[0].Label)
}

func TestReadersEmptyListIsOK(t *testing.T) {
	t.Parallel()

	router := newTerminalRouter(&terminal.Controller{Driver: &fakeDriver{}, Logger: zerolog.Nop()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pos/terminal/readers", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestConnectAndDisconnectOverHTTP(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{candidates: []terminal.Candidate{{ID: "rdr_1", Label: "Front desk"}}}
	c := &terminal.Controller{Driver: driver, Logger: zerolog.Nop()}
	router := newTerminalRouter(c)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pos/terminal/connect", strings.NewReader(`{"readerId":"rdr_1"}`))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, terminal.Connected, c.State())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/pos/terminal/disconnect", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, terminal.Disconnected, c.State())
}

func TestConnectFailureReportsState(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{connectErr: errors.New("pairing refused")}
	c := &terminal.Controller{Driver: driver, Logger: zerolog.Nop()}
	router := newTerminalRouter(c)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pos/terminal/connect", strings.NewReader(`{"readerId":"rdr_1"}`))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, terminal.Disconnected, c.State())
}

func TestConnectRequiresReaderID(t *testing.T) {
	t.Parallel()

	router := newTerminalRouter(&terminal.Controller{Driver: &fakeDriver{}, Logger: zerolog.Nop()})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pos/terminal/connect", strings.NewReader(`{}`))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
