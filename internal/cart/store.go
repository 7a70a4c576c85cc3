package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/noah-isme/studio-pos/internal/coupon"
	"github.com/noah-isme/studio-pos/internal/pricing"
)

// ErrNotFound indicates the requested line item is not in the cart.
var ErrNotFound = errors.New("cart: line item not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("cart: invalid input")

// Product is the catalog data needed to add a line. Stock is advisory display
// data owned by the catalog; the cart never reserves or decrements it.
type Product struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	UnitPrice pricing.Money `json:"unitPrice"`
	Stock     int           `json:"stock"`
}

// LineItem is a single cart line. Quantities for the same product are merged.
type LineItem struct {
	ProductID string        `json:"productId"`
	Name      string        `json:"name"`
	UnitPrice pricing.Money `json:"unitPrice"`
	Qty       int           `json:"qty"`
}

// Cart is an immutable snapshot of the store: line items in insertion order
// plus the derived totals and the coupon applied against the current subtotal.
type Cart struct {
	Items    []LineItem      `json:"items"`
	Subtotal pricing.Money   `json:"subtotal"`
	Discount pricing.Money   `json:"discount"`
	Total    pricing.Money   `json:"total"`
	Coupon   *coupon.Applied `json:"coupon,omitempty"`
}

// Empty reports whether the snapshot holds no lines.
func (c Cart) Empty() bool { return len(c.Items) == 0 }

// Store owns the line items for one checkout session. It is the sole owner of
// cart identity for the lane; the mutex only guards against the facade's
// concurrent HTTP handlers, there is exactly one logical actor.
type Store struct {
	Validator coupon.Validator

	mu      sync.Mutex
	items   []LineItem
	applied *coupon.Applied
}

// AddItem merges the product into the cart, incrementing the quantity when the
// product is already present. An active coupon is re-validated against the new
// subtotal; when re-validation fails the coupon is cleared and the failure is
// returned alongside the (still mutated) snapshot so the caller can surface
// the reason.
func (s *Store) AddItem(ctx context.Context, p Product) (Cart, error) {
	if s == nil {
		return Cart{}, errors.New("cart store not configured")
	}
	if p.ID == "" {
		return Cart{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := false
	for i := range s.items {
		if s.items[i].ProductID == p.ID {
			s.items[i].Qty++
			merged = true
			break
		}
	}
	if !merged {
		s.items = append(s.items, LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.UnitPrice,
			Qty:       1,
		})
	}
	err := s.revalidateLocked(ctx)
	return s.snapshotLocked(), err
}

// RemoveItem deletes the line entirely regardless of quantity. Removing a line
// that is not present returns ErrNotFound with the cart untouched.
func (s *Store) RemoveItem(ctx context.Context, productID string) (Cart, error) {
	if s == nil {
		return Cart{}, errors.New("cart store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.items {
		if s.items[i].ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s.snapshotLocked(), ErrNotFound
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	err := s.revalidateLocked(ctx)
	return s.snapshotLocked(), err
}

// Clear empties the cart and unconditionally drops any applied coupon.
func (s *Store) Clear() Cart {
	if s == nil {
		return Cart{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.applied = nil
	return s.snapshotLocked()
}

// Snapshot returns the current cart state without mutating it.
func (s *Store) Snapshot() Cart {
	if s == nil {
		return Cart{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ApplyCoupon validates the code against the current subtotal and caches the
// result. An empty cart cannot hold a coupon.
func (s *Store) ApplyCoupon(ctx context.Context, code string) (Cart, error) {
	if s == nil {
		return Cart{}, errors.New("cart store not configured")
	}
	if s.Validator == nil {
		return s.Snapshot(), errors.New("cart: coupon validator not configured")
	}
	if code == "" {
		return s.Snapshot(), ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return s.snapshotLocked(), &coupon.InvalidCouponError{Code: code, Reason: "cart is empty"}
	}
	applied, err := s.Validator.Validate(ctx, code, s.subtotalLocked())
	if err != nil {
		return s.snapshotLocked(), err
	}
	s.applied = &applied
	return s.snapshotLocked(), nil
}

// RemoveCoupon clears the applied coupon, if any.
func (s *Store) RemoveCoupon() Cart {
	if s == nil {
		return Cart{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = nil
	return s.snapshotLocked()
}

func (s *Store) subtotalLocked() pricing.Money {
	items := make([]pricing.Item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, pricing.Item{Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	return pricing.Subtotal(items)
}

// revalidateLocked re-issues the coupon validation against the new subtotal
// after every mutation. A failing re-validation clears the coupon; the error
// is propagated so the failure reason reaches the operator instead of the
// discount silently dropping to zero.
func (s *Store) revalidateLocked(ctx context.Context) error {
	if len(s.items) == 0 {
		s.applied = nil
		return nil
	}
	if s.applied == nil {
		return nil
	}
	if s.Validator == nil {
		s.applied = nil
		return errors.New("cart: coupon validator not configured")
	}
	applied, err := s.Validator.Validate(ctx, s.applied.Code, s.subtotalLocked())
	if err != nil {
		s.applied = nil
		return err
	}
	s.applied = &applied
	return nil
}

func (s *Store) snapshotLocked() Cart {
	items := make([]LineItem, len(s.items))
	copy(items, s.items)
	var discount pricing.Money
	var applied *coupon.Applied
	if s.applied != nil {
		copied := *s.applied
		applied = &copied
		discount = copied.Discount
	}
	pricingItems := make([]pricing.Item, 0, len(items))
	for _, it := range items {
		pricingItems = append(pricingItems, pricing.Item{Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	summary := pricing.Compute(pricingItems, discount)
	return Cart{
		Items:    items,
		Subtotal: summary.Subtotal,
		Discount: summary.Discount,
		Total:    summary.Total,
		Coupon:   applied,
	}
}
