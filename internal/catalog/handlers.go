package catalog

import (
	"net/http"
	"strings"

	"github.com/noah-isme/studio-pos/internal/common"
)

// Handler exposes catalog endpoints to the register UI.
type Handler struct {
	Service *Service
}

// Products handles GET /pos/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	search := strings.TrimSpace(r.URL.Query().Get("query"))
	products, err := h.Service.List(r.Context(), search)
	if err != nil {
		common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "unable to load products", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": products})
}

// Customers handles GET /pos/customers.
func (h *Handler) Customers(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	search := strings.TrimSpace(r.URL.Query().Get("query"))
	customers, err := h.Service.Customers(r.Context(), search)
	if err != nil {
		common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "unable to search customers", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": customers})
}
