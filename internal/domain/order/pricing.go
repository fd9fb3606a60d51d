package order

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DiscountType enumerates the store discount strategies.
type DiscountType string

const (
	// DiscountNone applies no discount.
	DiscountNone DiscountType = ""
	// DiscountPercentage takes a percentage off the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Totals is the pricing breakdown of an order.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Pricer derives order totals from line items using a store-level policy.
type Pricer interface {
	Price(items []Item) (Totals, error)
}

// FlatRate is a store pricing policy: TaxRate is a percentage of the
// discounted subtotal and the discount follows DiscountType. The zero value
// is a pass-through where Total equals Subtotal.
type FlatRate struct {
	TaxRate       decimal.Decimal
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
}

var _ Pricer = FlatRate{}

// Price implements Pricer. Amounts are rounded to two places and the total is
// floored at zero.
func (r FlatRate) Price(items []Item) (Totals, error) {
	if r.TaxRate.IsNegative() || r.DiscountValue.IsNegative() {
		return Totals{}, errors.New("negative pricing rate")
	}

	subtotal := Subtotal(items)

	var discount decimal.Decimal
	switch r.DiscountType {
	case DiscountNone:
		discount = decimal.Zero
	case DiscountPercentage:
		discount = subtotal.Mul(r.DiscountValue).Div(hundred)
	case DiscountFixed:
		discount = decimal.Min(r.DiscountValue, subtotal)
	default:
		return Totals{}, errors.Errorf("unsupported discount type: %q", r.DiscountType)
	}
	discount = floorAtZero(discount).Round(2)

	taxable := floorAtZero(subtotal.Sub(discount))
	tax := taxable.Mul(r.TaxRate).Div(hundred).Round(2)

	return Totals{
		Subtotal: subtotal.Round(2),
		Tax:      tax,
		Discount: discount,
		Total:    floorAtZero(taxable.Add(tax)).Round(2),
	}, nil
}

// Subtotal returns the sum of price × quantity over items.
func Subtotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
