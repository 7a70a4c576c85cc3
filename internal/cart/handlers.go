package cart

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/studio-pos/internal/common"
	"github.com/noah-isme/studio-pos/internal/coupon"
)

// ProductResolver resolves a product id against the catalog. A clean miss is
// reported via the bool, a backend failure via the error.
type ProductResolver interface {
	Resolve(ctx context.Context, productID string) (Product, bool, error)
}

// Handler wires the cart store to HTTP.
type Handler struct {
	Store    *Store
	Products ProductResolver
	Validate *validator.Validate
}

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required"`
}

// Get handles GET /pos/cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Store.Snapshot()})
}

// AddItem handles POST /pos/cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Products == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.validate(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "productId is required", nil)
		return
	}
	product, found, err := h.Products.Resolve(r.Context(), req.ProductID)
	if err != nil {
		common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "unable to resolve product", nil)
		return
	}
	if !found {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
		return
	}
	snapshot, err := h.Store.AddItem(r.Context(), product)
	if err != nil {
		h.writeMutationError(w, snapshot, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snapshot})
}

// RemoveItem handles DELETE /pos/cart/items/{productId}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	productID := chi.URLParam(r, "productId")
	snapshot, err := h.Store.RemoveItem(r.Context(), productID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "line item not found", nil)
			return
		}
		h.writeMutationError(w, snapshot, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snapshot})
}

// Clear handles DELETE /pos/cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Store.Clear()})
}

// ApplyCoupon handles POST /pos/cart/coupon.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	var req applyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.validate(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		return
	}
	snapshot, err := h.Store.ApplyCoupon(r.Context(), req.Code)
	if err != nil {
		var invalid *coupon.InvalidCouponError
		switch {
		case errors.As(err, &invalid):
			common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_COUPON", invalid.Error(), map[string]any{"cart": snapshot})
		case errors.Is(err, ErrInvalidInput):
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		default:
			common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "unable to validate coupon", nil)
		}
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snapshot})
}

// RemoveCoupon handles DELETE /pos/cart/coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Store.RemoveCoupon()})
}

// writeMutationError handles errors from cart mutations. A failed coupon
// re-validation still mutated the cart, so the snapshot rides along and the
// reason is surfaced instead of the discount silently dropping.
func (h *Handler) writeMutationError(w http.ResponseWriter, snapshot Cart, err error) {
	var invalid *coupon.InvalidCouponError
	switch {
	case errors.As(err, &invalid):
		common.JSONError(w, http.StatusUnprocessableEntity, "COUPON_REMOVED", invalid.Error(), map[string]any{"cart": snapshot})
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "unable to revalidate coupon", map[string]any{"cart": snapshot})
	}
}

func (h *Handler) validate(v any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}
