package coupon

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/studio-pos/internal/pricing"
)

// Kind identifies how a coupon value is interpreted.
type Kind string

const (
	// KindPercent discounts a percentage (0-100) of the cart subtotal.
	KindPercent Kind = "percent"
	// KindFixed discounts a fixed amount in minor units.
	KindFixed Kind = "fixed"
)

// Applied is the client-side cache of the last successful validation. The
// authority decision (existence, activity, eligibility) belongs to the remote
// API; this struct only carries what is needed to re-derive the discount.
type Applied struct {
	Code     string        `json:"code"`
	CouponID string        `json:"couponId"`
	Kind     Kind          `json:"kind"`
	Value    int64         `json:"value"`
	Discount pricing.Money `json:"discount"`
}

// InvalidCouponError is a recoverable, user-facing validation failure.
type InvalidCouponError struct {
	Code   string
	Reason string
}

func (e *InvalidCouponError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "coupon is not valid"
	}
	return fmt.Sprintf("coupon %q: %s", e.Code, reason)
}

// Validator delegates the authority decision for a coupon code to the remote
// API and returns the applied result for the provided subtotal.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal pricing.Money) (Applied, error)
}

// Discount computes the discount amount for a known kind and value.
//
// Percent values are clamped to [0, 100] and the result is rounded to the
// nearest minor unit. Fixed values never exceed the subtotal, so a fixed
// coupon cannot produce a negative total.
func Discount(kind Kind, value int64, subtotal pricing.Money) pricing.Money {
	if subtotal <= 0 {
		return 0
	}
	var discount pricing.Money
	switch kind {
	case KindPercent:
		p := value
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		discount = (subtotal*p + 50) / 100
	case KindFixed:
		discount = value
	default:
		return 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
