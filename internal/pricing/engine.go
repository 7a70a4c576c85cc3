package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Item describes a line item used for totals calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates the derived totals for a cart.
type Summary struct {
	Subtotal Money
	Discount Money
	Total    Money
}

// Subtotal sums the line amounts, ignoring non-positive quantities.
func Subtotal(items []Item) Money {
	var subtotal Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	return subtotal
}

// Compute derives the cart summary. The discount is clamped so the total never
// goes negative: total == max(0, subtotal - discount).
func Compute(items []Item, discount Money) Summary {
	subtotal := Subtotal(items)
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Total:    subtotal - discount,
	}
}
