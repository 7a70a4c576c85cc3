package terminal

import (
	"encoding/json"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/studio-pos/internal/common"
)

// Handler wires the terminal controller to HTTP.
type Handler struct {
	Controller *Controller
	Validate   *validator.Validate
}

type connectRequest struct {
	ReaderID string `json:"readerId" validate:"required"`
}

// Readers handles GET /pos/terminal/readers. An empty list is a valid outcome.
func (h *Handler) Readers(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "terminal not configured", nil)
		return
	}
	candidates, err := h.Controller.Discover(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusServiceUnavailable, "DISCOVERY_FAILED", "unable to discover readers", nil)
		return
	}
	readers := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		readers = append(readers, map[string]any{
			"id":         c.ID,
			"label":      c.Label,
			"deviceType": c.DeviceType,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"state":   h.Controller.State().String(),
			"readers": readers,
		},
	})
}

// Connect handles POST /pos/terminal/connect.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "terminal not configured", nil)
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "readerId is required", nil)
			return
		}
	}
	reader, err := h.Controller.Connect(r.Context(), req.ReaderID)
	if err != nil {
		common.JSONError(w, http.StatusServiceUnavailable, "CONNECT_FAILED", err.Error(), map[string]any{
			"state": h.Controller.State().String(),
		})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"state": h.Controller.State().String(),
			"reader": map[string]any{
				"id":    reader.ID,
				"label": reader.Label,
			},
		},
	})
}

// Disconnect handles POST /pos/terminal/disconnect.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "terminal not configured", nil)
		return
	}
	h.Controller.Disconnect()
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"state": h.Controller.State().String()},
	})
}
