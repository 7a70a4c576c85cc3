package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studio-pos/internal/common"
)

// Handler wires the orchestrator to HTTP.
type Handler struct {
	Orchestrator *Orchestrator
	Validate     *validator.Validate
	Logger       zerolog.Logger
}

type submitRequest struct {
	Method      string `json:"method" validate:"required,oneof=cash card terminal"`
	CustomerRef string `json:"customerRef"`
}

// Submit handles POST /pos/checkout. The request blocks until the attempt
// settles; the UI polls GET /pos/checkout/state for progress meanwhile.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout not configured", nil)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "method must be cash, card or terminal", nil)
			return
		}
	}
	receipt, err := h.Orchestrator.Submit(r.Context(), Request{
		Method:      Method(req.Method),
		CustomerRef: req.CustomerRef,
	})
	if errors.Is(err, ErrAttemptInFlight) {
		// Double-click guard. The duplicate submit did nothing; the caller
		// already has an attempt running and polls state for its outcome.
		h.Logger.Debug().Msg("duplicate checkout submit ignored")
		common.JSON(w, http.StatusAccepted, map[string]any{
			"data": map[string]any{"inFlight": true},
		})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"orderId":           receipt.OrderID,
			"total":             receipt.Total,
			"method":            string(receipt.Method),
			"externalPaymentId": receipt.ExternalPaymentID,
		},
	})
}

// State handles GET /pos/checkout/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout not configured", nil)
		return
	}
	data := map[string]any{
		"state":    h.Orchestrator.State().String(),
		"customer": h.Orchestrator.Customer(),
	}
	if pending, ok := h.Orchestrator.ReconciliationPending(); ok {
		data["reconciliation"] = map[string]any{
			"stage":             pending.Stage,
			"externalPaymentId": pending.ExternalPaymentID,
			"message":           pending.Error(),
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": data})
}

// AcknowledgeReconciliation handles POST /pos/checkout/reconciliation/ack.
func (h *Handler) AcknowledgeReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout not configured", nil)
		return
	}
	h.Orchestrator.AcknowledgeReconciliation()
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"acknowledged": true}})
}

// SetCustomer handles POST /pos/checkout/customer.
func (h *Handler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout not configured", nil)
		return
	}
	var req struct {
		CustomerRef string `json:"customerRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	h.Orchestrator.SetCustomer(req.CustomerRef)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"customer": h.Orchestrator.Customer()}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var failure *Failure
	if !errors.As(err, &failure) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout failed", nil)
		return
	}
	details := map[string]any{
		"kind":  string(failure.Kind),
		"stage": failure.Stage,
	}
	switch failure.Kind {
	case FailureValidation:
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", failure.Error(), details)
	case FailureHardware:
		common.JSONError(w, http.StatusServiceUnavailable, "HARDWARE", failure.Error(), details)
	case FailureCapture:
		common.JSONError(w, http.StatusBadGateway, "CAPTURE", failure.Error(), details)
	case FailureReconciliation:
		details["externalPaymentId"] = failure.ExternalPaymentID
		common.JSONError(w, http.StatusInternalServerError, "RECONCILIATION", failure.Error(), details)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", failure.Error(), details)
	}
}
