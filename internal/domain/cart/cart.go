// Package cart holds a shopper's draft selection of units per store.
//
// Cart operations never reserve inventory: availability is only soft-checked
// when a line is added, and the checkout coordinator re-validates every line.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by a Store when no cart exists for the key.
	ErrNotFound = errors.New("cart not found")
	// ErrAlreadyInCart is returned when the serial is already a line of the cart.
	ErrAlreadyInCart = errors.New("item already in cart")
)

// Line is one unit in a cart with the catalog snapshot taken at add time.
type Line struct {
	SerialNumber string          `json:"serial_number"`
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
}

// Amount returns price × quantity.
func (l Line) Amount() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is one shopper's in-progress selection at one store.
type Cart struct {
	UserID    string          `json:"user_id"`
	StoreID   string          `json:"store_id"`
	Lines     []Line          `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New returns an empty cart for the given key.
func New(userID, storeID string) *Cart {
	return &Cart{
		UserID:  userID,
		StoreID: storeID,
		Lines:   []Line{},
		Total:   decimal.Zero,
	}
}

// Has reports whether the serial is one of the cart lines.
func (c *Cart) Has(serial string) bool {
	for _, l := range c.Lines {
		if l.SerialNumber == serial {
			return true
		}
	}
	return false
}

// Remove drops the line with the given serial. It reports whether a line was
// removed.
func (c *Cart) Remove(serial string) bool {
	for i, l := range c.Lines {
		if l.SerialNumber == serial {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			c.Recalculate()
			return true
		}
	}
	return false
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Lines = []Line{}
	c.Total = decimal.Zero
}

// Recalculate sets Total to the sum of line amounts.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Amount())
	}
	c.Total = total
}

// Serials returns the serial numbers of all lines in cart order.
func (c *Cart) Serials() []string {
	out := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		out[i] = l.SerialNumber
	}
	return out
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Lines = append([]Line(nil), c.Lines...)
	if cp.Lines == nil {
		cp.Lines = []Line{}
	}
	return &cp
}

// Store persists carts keyed by (user, store). The last writer wins.
type Store interface {
	Get(ctx context.Context, userID, storeID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
}
