package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-pos/internal/backend"
	"github.com/noah-isme/studio-pos/internal/checkout"
	"github.com/noah-isme/studio-pos/internal/coupon"
	"github.com/noah-isme/studio-pos/internal/order"
)

func newClient(t *testing.T, handler http.Handler) (*backend.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := backend.New(backend.Config{
		BaseURL:  srv.URL,
		APIToken: "tok_test",
		TenantID: "tenant_1",
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return c, srv
}

func TestNewRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := backend.New(backend.Config{APIToken: "t", TenantID: "x"})
	require.Error(t, err)
	_, err = backend.New(backend.Config{BaseURL: "http://localhost", TenantID: "x"})
	require.Error(t, err)
	_, err = backend.New(backend.Config{BaseURL: "http://localhost", APIToken: "t"})
	require.Error(t, err)
}

func TestCallSendsAuthHeaders(t *testing.T) {
	t.Parallel()

	var gotAuth, gotTenant string
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTenant = r.Header.Get("X-Tenant-ID")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))

	require.NoError(t, c.Ping(context.Background()))
	require.Equal(t, "Bearer tok_test", gotAuth)
	require.Equal(t, "tenant_1", gotTenant)
}

func TestProducts(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pos/products", r.URL.Path)
		require.Equal(t, "yoga", r.URL.Query().Get("query"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"products": []map[string]any{
				{"id": "p1", "name": "Yoga mat", "unitPrice": 2500, "stock": 4},
			},
		})
	}))

	products, err := c.Products(context.Background(), "yoga")
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "p1", products[0].ID)
	require.EqualValues(t, 2500, products[0].UnitPrice)
}

func TestSearchCustomers(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pos/customers", r.URL.Path)
		require.Equal(t, "ada", r.URL.Query().Get("query"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"customers": []map[string]any{
				{"id": "mem_1", "name": "Ada Jones"},
			},
		})
	}))

	customers, err := c.SearchCustomers(context.Background(), "ada")
	require.NoError(t, err)
	require.Len(t, customers, 1)
	require.Equal(t, "mem_1", customers[0].ID)
}

func TestValidateCouponAccepted(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pos/validate-coupon", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "SAVE10", body["code"])
		require.EqualValues(t, 2500, body["cartTotal"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid":          true,
			"couponId":       "cpn_1",
			"discountAmount": 250,
		})
	}))

	applied, err := c.Validate(context.Background(), "SAVE10", 2500)
	require.NoError(t, err)
	require.Equal(t, "SAVE10", applied.Code)
	require.Equal(t, "cpn_1", applied.CouponID)
	require.EqualValues(t, 250, applied.Discount)
}

func TestValidateCouponClampsDiscount(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid":          true,
			"couponId":       "cpn_2",
			"discountAmount": 99999,
		})
	}))

	applied, err := c.Validate(context.Background(), "BIG", 2500)
	require.NoError(t, err)
	require.EqualValues(t, 2500, applied.Discount)
}

func TestValidateCouponRejected(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid": false,
			"error": "coupon expired",
		})
	}))

	_, err := c.Validate(context.Background(), "OLD", 2500)
	var invalid *coupon.InvalidCouponError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "coupon expired", invalid.Reason)
}

func TestValidateCouponNotFound(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "NOT_FOUND", "message": "no such coupon"},
		})
	}))

	_, err := c.Validate(context.Background(), "NOPE", 2500)
	var invalid *coupon.InvalidCouponError
	require.ErrorAs(t, err, &invalid)
}

func TestCreatePaymentIntentParsesSecret(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pos/process-payment", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "mem_7", body["customerId"])
		_ = json.NewEncoder(w).Encode(map[string]string{
			"clientSecret": "pi_3abc_secret_def",
		})
	}))

	intent, err := c.CreatePaymentIntent(context.Background(), checkout.IntentRequest{Total: 2500, CustomerRef: "mem_7"})
	require.NoError(t, err)
	require.Equal(t, "pi_3abc", intent.ID)
	require.Equal(t, "pi_3abc_secret_def", intent.ClientSecret)
}

func TestCreatePaymentIntentRejectsMalformedSecret(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"clientSecret": "garbage"})
	}))

	_, err := c.CreatePaymentIntent(context.Background(), checkout.IntentRequest{Total: 2500})
	require.Error(t, err)
}

func TestMoneyWritesAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls int
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.Record(context.Background(), order.Order{Total: 2500, PaymentMethod: "cash"})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRecordDecodesResponse(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pos/orders", r.URL.Path)
		var got order.Order
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, "cash", got.PaymentMethod)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "ord_9",
			"createdAt": "2025-06-01T10:00:00Z",
		})
	}))

	rec, err := c.Record(context.Background(), order.Order{Total: 2500, PaymentMethod: "cash"})
	require.NoError(t, err)
	require.Equal(t, "ord_9", rec.ID)
	require.False(t, rec.CreatedAt.IsZero())
}

func TestAPIErrorSurfacesCodeAndMessage(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "FORBIDDEN", "message": "tenant mismatch"},
		})
	}))

	err := c.Ping(context.Background())
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.Equal(t, "FORBIDDEN", apiErr.Code)
	require.Equal(t, "tenant mismatch", apiErr.Message)
}
