package coupon

import "testing"

func TestDiscountPercent(t *testing.T) {
	discount := Discount(KindPercent, 10, 2500)
	if discount != 250 {
		t.Fatalf("expected 250 discount, got %d", discount)
	}
}

func TestDiscountPercentRounds(t *testing.T) {
	// 5% of 999 is 49.95, rounded to 50.
	discount := Discount(KindPercent, 5, 999)
	if discount != 50 {
		t.Fatalf("expected 50 discount, got %d", discount)
	}
	discount = Discount(KindPercent, 3, 1015)
	if discount != 30 {
		t.Fatalf("expected 30 discount, got %d", discount)
	}
}

func TestDiscountPercentClamped(t *testing.T) {
	if got := Discount(KindPercent, 150, 1000); got != 1000 {
		t.Fatalf("expected discount clamped to subtotal, got %d", got)
	}
	if got := Discount(KindPercent, -10, 1000); got != 0 {
		t.Fatalf("expected zero discount for negative percent, got %d", got)
	}
}

func TestDiscountFixedNeverExceedsSubtotal(t *testing.T) {
	if got := Discount(KindFixed, 500, 300); got != 300 {
		t.Fatalf("expected 300 discount, got %d", got)
	}
	if got := Discount(KindFixed, 200, 300); got != 200 {
		t.Fatalf("expected 200 discount, got %d", got)
	}
}

func TestDiscountEmptySubtotal(t *testing.T) {
	if got := Discount(KindFixed, 200, 0); got != 0 {
		t.Fatalf("expected zero discount on empty subtotal, got %d", got)
	}
}
