// Package catalog serves the sellable product list and member search to the
// register UI. Data is owned by the central API; this package only caches.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/studio-pos/internal/backend"
	"github.com/noah-isme/studio-pos/internal/cart"
)

// ErrNotFound indicates the product is not in the current catalog.
var ErrNotFound = errors.New("catalog: product not found")

// Source is the slice of the backend client the catalog needs.
type Source interface {
	Products(ctx context.Context, search string) ([]cart.Product, error)
	SearchCustomers(ctx context.Context, search string) ([]backend.Customer, error)
}

// Service caches the unfiltered product list so line items can be added while
// the backend is briefly unreachable. Filtered searches always pass through.
type Service struct {
	Backend Source
	TTL     time.Duration
	Logger  zerolog.Logger

	mu        sync.Mutex
	products  []cart.Product
	fetchedAt time.Time
}

// List returns products matching the search term. The empty search is served
// from cache within the TTL; on a backend failure the stale cache is served
// so the lane keeps selling.
func (s *Service) List(ctx context.Context, search string) ([]cart.Product, error) {
	if s == nil || s.Backend == nil {
		return nil, errors.New("catalog service not configured")
	}
	if search != "" {
		return s.Backend.Products(ctx, search)
	}

	s.mu.Lock()
	if s.products != nil && time.Since(s.fetchedAt) < s.ttl() {
		cached := s.cloneLocked()
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	products, err := s.Backend.Products(ctx, "")
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.products != nil {
			s.Logger.Warn().Err(err).Msg("serving stale catalog")
			return s.cloneLocked(), nil
		}
		return nil, err
	}
	s.mu.Lock()
	s.products = products
	s.fetchedAt = time.Now()
	cached := s.cloneLocked()
	s.mu.Unlock()
	return cached, nil
}

// Get resolves a single product by id, refreshing the cache on a miss.
func (s *Service) Get(ctx context.Context, productID string) (cart.Product, error) {
	if s == nil || s.Backend == nil {
		return cart.Product{}, errors.New("catalog service not configured")
	}
	s.mu.Lock()
	if p, ok := s.findLocked(productID); ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	if _, err := s.List(ctx, ""); err != nil {
		return cart.Product{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.findLocked(productID); ok {
		return p, nil
	}
	return cart.Product{}, ErrNotFound
}

// Resolve looks up a product by id, reporting a clean miss separately from a
// backend failure. It satisfies the cart handler's resolver contract.
func (s *Service) Resolve(ctx context.Context, productID string) (cart.Product, bool, error) {
	p, err := s.Get(ctx, productID)
	if errors.Is(err, ErrNotFound) {
		return cart.Product{}, false, nil
	}
	if err != nil {
		return cart.Product{}, false, err
	}
	return p, true, nil
}

// Customers proxies member search straight to the backend; results are never
// cached because member data changes under the lane.
func (s *Service) Customers(ctx context.Context, search string) ([]backend.Customer, error) {
	if s == nil || s.Backend == nil {
		return nil, errors.New("catalog service not configured")
	}
	return s.Backend.SearchCustomers(ctx, search)
}

// Invalidate drops the cached product list.
func (s *Service) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = nil
	s.fetchedAt = time.Time{}
}

func (s *Service) ttl() time.Duration {
	if s.TTL <= 0 {
		return time.Minute
	}
	return s.TTL
}

func (s *Service) findLocked(productID string) (cart.Product, bool) {
	for _, p := range s.products {
		if p.ID == productID {
			return p, true
		}
	}
	return cart.Product{}, false
}

func (s *Service) cloneLocked() []cart.Product {
	out := make([]cart.Product, len(s.products))
	copy(out, s.products)
	return out
}
