package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog entry keyed by barcode. Its price is snapshotted into
// cart and order lines.
type Product struct {
	ID       string
	Barcode  string
	StoreID  string
	Name     string
	Category string
	Price    decimal.Decimal
}

// Catalog defines read operations for the product catalog.
type Catalog interface {
	GetByBarcode(ctx context.Context, barcode string) (*Product, error)
}
