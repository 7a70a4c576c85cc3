package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/studio-pos/internal/pricing"
)

// Line is an immutable snapshot of a cart line at the moment of sale.
type Line struct {
	ProductID string        `json:"productId"`
	Name      string        `json:"name"`
	UnitPrice pricing.Money `json:"unitPrice"`
	Qty       int           `json:"qty"`
}

// Order is the durable record of a completed sale. It is created exactly once
// per successful checkout attempt and never mutated afterwards.
type Order struct {
	Lines             []Line        `json:"items"`
	Total             pricing.Money `json:"totalAmount"`
	PaymentMethod     string        `json:"paymentMethod"`
	ExternalPaymentID string        `json:"stripePaymentIntentId,omitempty"`
	CouponCode        string        `json:"couponCode,omitempty"`
	CustomerRef       string        `json:"memberId,omitempty"`
}

// Recorded identifies the persisted order.
type Recorded struct {
	ID        string
	CreatedAt time.Time
}

// Recorder durably persists a completed sale. Implementations must only be
// invoked after funds are authorized/captured (or trivially, for cash).
type Recorder interface {
	Record(ctx context.Context, o Order) (Recorded, error)
}

// MemoryRecorder keeps orders in memory. Used by tests and by lanes running
// without a configured backend.
type MemoryRecorder struct {
	mu     sync.Mutex
	orders []Order
	Err    error
}

// Record appends the order, or fails with the configured error.
func (r *MemoryRecorder) Record(_ context.Context, o Order) (Recorded, error) {
	if r == nil {
		return Recorded{}, errors.New("order: recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return Recorded{}, r.Err
	}
	r.orders = append(r.orders, o)
	return Recorded{ID: uuid.NewString(), CreatedAt: time.Now()}, nil
}

// Orders returns a copy of everything recorded so far.
func (r *MemoryRecorder) Orders() []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Order, len(r.orders))
	copy(out, r.orders)
	return out
}
