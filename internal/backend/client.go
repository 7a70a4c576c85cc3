// Package backend is the HTTP client for the central POS API. The lane agent
// never talks to the database directly; every authority decision (catalog,
// coupons, payments, orders) goes through this client.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/studio-pos/internal/cart"
	"github.com/noah-isme/studio-pos/internal/checkout"
	"github.com/noah-isme/studio-pos/internal/coupon"
	"github.com/noah-isme/studio-pos/internal/obs"
	"github.com/noah-isme/studio-pos/internal/order"
	"github.com/noah-isme/studio-pos/internal/pricing"
	"github.com/noah-isme/studio-pos/internal/resilience"
)

// APIError is a non-2xx response from the backend with its decoded error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: %s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("backend: request failed with status %d", e.StatusCode)
}

// Config carries the connection settings for the central API.
type Config struct {
	BaseURL  string
	APIToken string
	TenantID string
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Client talks to the central POS API. Read calls retry through the circuit
// breaker; money-adjacent calls (payment intents, order recording) are issued
// exactly once so a timeout can never double-charge or double-record.
type Client struct {
	baseURL  string
	apiToken string
	tenantID string
	logger   zerolog.Logger

	reads  resilience.HTTPClient
	writes resilience.HTTPClient
}

// New constructs a Client from the provided configuration.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend: base url is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("backend: api token is required")
	}
	if strings.TrimSpace(cfg.TenantID) == "" {
		return nil, errors.New("backend: tenant id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	breaker := resilience.NewBreaker(5, 0.5, 15*time.Second).
		WithTarget("backend").
		WithLogger(cfg.Logger)
	return &Client{
		baseURL:  base,
		apiToken: strings.TrimSpace(cfg.APIToken),
		tenantID: strings.TrimSpace(cfg.TenantID),
		logger:   cfg.Logger,
		reads: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     breaker,
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.2,
		},
		writes: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     breaker,
			MaxAttempts: 1,
		},
	}, nil
}

// Customer is a member surfaced by backend search.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Ping verifies the backend is reachable and the credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.call(ctx, c.reads, http.MethodGet, "/pos/ping", nil, &out, "ping")
}

// PingBackend implements the readiness probe contract.
func (c *Client) PingBackend(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Ping(ctx)
}

// Products lists sellable catalog items, optionally filtered by a search term.
func (c *Client) Products(ctx context.Context, search string) ([]cart.Product, error) {
	path := "/pos/products"
	if q := strings.TrimSpace(search); q != "" {
		path += "?query=" + url.QueryEscape(q)
	}
	var out struct {
		Products []struct {
			ID        string        `json:"id"`
			Name      string        `json:"name"`
			UnitPrice pricing.Money `json:"unitPrice"`
			Stock     int           `json:"stock"`
		} `json:"products"`
	}
	if err := c.call(ctx, c.reads, http.MethodGet, path, nil, &out, "products"); err != nil {
		return nil, err
	}
	products := make([]cart.Product, 0, len(out.Products))
	for _, p := range out.Products {
		products = append(products, cart.Product{
			ID:        p.ID,
			Name:      p.Name,
			UnitPrice: p.UnitPrice,
			Stock:     p.Stock,
		})
	}
	return products, nil
}

// SearchCustomers finds members by name, email or phone fragment.
func (c *Client) SearchCustomers(ctx context.Context, search string) ([]Customer, error) {
	path := "/pos/customers"
	if q := strings.TrimSpace(search); q != "" {
		path += "?query=" + url.QueryEscape(q)
	}
	var out struct {
		Customers []Customer `json:"customers"`
	}
	if err := c.call(ctx, c.reads, http.MethodGet, path, nil, &out, "customers"); err != nil {
		return nil, err
	}
	return out.Customers, nil
}

// Validate implements coupon.Validator. The backend owns the authority
// decision; a business rejection comes back as InvalidCouponError, transport
// failures as plain errors. The submitted code identifies the coupon locally
// since the response only carries the coupon id and the computed discount.
func (c *Client) Validate(ctx context.Context, code string, subtotal pricing.Money) (coupon.Applied, error) {
	body := map[string]any{
		"code":      code,
		"cartTotal": subtotal,
	}
	var out struct {
		Valid          bool          `json:"valid"`
		Reason         string        `json:"error,omitempty"`
		CouponID       string        `json:"couponId"`
		DiscountAmount pricing.Money `json:"discountAmount"`
	}
	if err := c.call(ctx, c.reads, http.MethodPost, "/pos/validate-coupon", body, &out, "validate_coupon"); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return coupon.Applied{}, &coupon.InvalidCouponError{Code: code, Reason: "coupon not found"}
		}
		return coupon.Applied{}, err
	}
	if !out.Valid {
		return coupon.Applied{}, &coupon.InvalidCouponError{Code: code, Reason: out.Reason}
	}
	// The discount is authoritative but still clamped so a misbehaving
	// backend can never push the cart total negative.
	discount := out.DiscountAmount
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return coupon.Applied{
		Code:     code,
		CouponID: out.CouponID,
		Discount: discount,
	}, nil
}

// ConnectionToken implements terminal.TokenSource.
func (c *Client) ConnectionToken(ctx context.Context) (string, error) {
	var out struct {
		Secret string `json:"secret"`
	}
	if err := c.call(ctx, c.writes, http.MethodPost, "/pos/connection-token", map[string]any{}, &out, "connection_token"); err != nil {
		return "", err
	}
	if out.Secret == "" {
		return "", errors.New("backend: empty connection token")
	}
	return out.Secret, nil
}

// CreatePaymentIntent implements checkout.IntentCreator. Issued exactly once;
// the backend opens the intent with the gateway on the lane's behalf.
func (c *Client) CreatePaymentIntent(ctx context.Context, req checkout.IntentRequest) (checkout.Intent, error) {
	items := make([]map[string]any, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, map[string]any{
			"productId": l.ProductID,
			"qty":       l.Qty,
			"unitPrice": l.UnitPrice,
		})
	}
	body := map[string]any{
		"amount": req.Total,
		"items":  items,
	}
	if req.CustomerRef != "" {
		body["customerId"] = req.CustomerRef
	}
	var out struct {
		ClientSecret string `json:"clientSecret"`
	}
	if err := c.call(ctx, c.writes, http.MethodPost, "/pos/process-payment", body, &out, "process_payment"); err != nil {
		return checkout.Intent{}, err
	}
	id, err := intentIDFromSecret(out.ClientSecret)
	if err != nil {
		return checkout.Intent{}, err
	}
	return checkout.Intent{ID: id, ClientSecret: out.ClientSecret}, nil
}

// Record implements order.Recorder. Issued exactly once; a failure here means
// the sale may be paid but unrecorded, which the orchestrator escalates.
func (c *Client) Record(ctx context.Context, o order.Order) (order.Recorded, error) {
	var out struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"createdAt"`
	}
	if err := c.call(ctx, c.writes, http.MethodPost, "/pos/orders", o, &out, "record_order"); err != nil {
		return order.Recorded{}, err
	}
	if out.ID == "" {
		return order.Recorded{}, errors.New("backend: order response missing id")
	}
	return order.Recorded{ID: out.ID, CreatedAt: out.CreatedAt}, nil
}

// call issues one backend request through the given resilience client and
// decodes the JSON response into out.
func (c *Client) call(ctx context.Context, hc resilience.HTTPClient, method, path string, body, out any, operation string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("X-Tenant-ID", c.tenantID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(ctx, req)
	if err != nil {
		c.observe(operation, "error")
		return fmt.Errorf("backend: %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(operation, "error")
		return c.decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.observe(operation, "error")
			return fmt.Errorf("backend: decode response: %w", err)
		}
	}
	c.observe(operation, "success")
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil && json.Unmarshal(data, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Message == "" {
		// some endpoints report a bare {"error": "..."} string
		var flat struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &flat) == nil {
			apiErr.Message = flat.Error
		}
	}
	return apiErr
}

func (c *Client) observe(operation, result string) {
	if obs.BackendRequestTotal != nil {
		obs.BackendRequestTotal.WithLabelValues(operation, result).Inc()
	}
}

// intentIDFromSecret extracts the payment intent id from a client secret of
// the form "pi_xxx_secret_yyy".
func intentIDFromSecret(secret string) (string, error) {
	idx := strings.Index(secret, "_secret")
	if idx <= 0 {
		return "", errors.New("backend: malformed client secret")
	}
	return secret[:idx], nil
}
