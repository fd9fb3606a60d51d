package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(prices ...string) []Item {
	out := make([]Item, len(prices))
	for i, p := range prices {
		out[i] = Item{
			SerialNumber: string(rune('A' + i)),
			Price:        decimal.RequireFromString(p),
			Quantity:     1,
		}
	}
	return out
}

func TestFlatRate_PassThrough(t *testing.T) {
	totals, err := FlatRate{}.Price(items("20.00", "15.00"))
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("35.00").Equal(totals.Subtotal))
	assert.True(t, decimal.RequireFromString("35.00").Equal(totals.Total))
	assert.True(t, totals.Tax.IsZero())
	assert.True(t, totals.Discount.IsZero())
}

func TestFlatRate_TaxOnly(t *testing.T) {
	r := FlatRate{TaxRate: decimal.RequireFromString("18")}

	totals, err := r.Price(items("100.00"))
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("18.00").Equal(totals.Tax))
	assert.True(t, decimal.RequireFromString("118.00").Equal(totals.Total))
}

func TestFlatRate_PercentageDiscountThenTax(t *testing.T) {
	r := FlatRate{
		TaxRate:       decimal.RequireFromString("10"),
		DiscountType:  DiscountPercentage,
		DiscountValue: decimal.RequireFromString("50"),
	}

	totals, err := r.Price(items("30.00", "10.00"))
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("40.00").Equal(totals.Subtotal))
	assert.True(t, decimal.RequireFromString("20.00").Equal(totals.Discount))
	assert.True(t, decimal.RequireFromString("2.00").Equal(totals.Tax))
	assert.True(t, decimal.RequireFromString("22.00").Equal(totals.Total))
}

func TestFlatRate_FixedDiscountCappedAtSubtotal(t *testing.T) {
	r := FlatRate{
		DiscountType:  DiscountFixed,
		DiscountValue: decimal.RequireFromString("999"),
	}

	totals, err := r.Price(items("12.50"))
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("12.50").Equal(totals.Discount))
	assert.True(t, totals.Total.IsZero())
}

func TestFlatRate_Rounding(t *testing.T) {
	r := FlatRate{TaxRate: decimal.RequireFromString("7.5")}

	totals, err := r.Price(items("9.99"))
	require.NoError(t, err)

	// 9.99 * 7.5% = 0.74925
	assert.True(t, decimal.RequireFromString("0.75").Equal(totals.Tax))
	assert.True(t, decimal.RequireFromString("10.74").Equal(totals.Total))
}

func TestFlatRate_UnsupportedDiscount(t *testing.T) {
	_, err := FlatRate{DiscountType: "bogus"}.Price(items("1.00"))
	require.Error(t, err)
}

func TestFlatRate_NegativeRate(t *testing.T) {
	_, err := FlatRate{TaxRate: decimal.NewFromInt(-1)}.Price(items("1.00"))
	require.Error(t, err)
}
