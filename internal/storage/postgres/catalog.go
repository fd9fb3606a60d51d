package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/scanbill/internal/domain/product"
)

const (
	getProductByBarcodeSQL = `SELECT id, barcode, store_id, name, category, price
		FROM products WHERE barcode = $1`

	upsertProductSQL = `INSERT INTO products (id, barcode, store_id, name, category, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			barcode = EXCLUDED.barcode,
			store_id = EXCLUDED.store_id,
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price = EXCLUDED.price`
)

var _ product.Catalog = (*CatalogRepository)(nil)

// CatalogRepository implements product.Catalog backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByBarcode returns the product with the given barcode.
func (r *CatalogRepository) GetByBarcode(ctx context.Context, barcode string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByBarcodeSQL, barcode)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", barcode, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", barcode, err)
	}
	return &p, nil
}

// UpsertProduct adds or replaces a catalog entry.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p product.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL, p.ID, p.Barcode, p.StoreID, p.Name, p.Category, p.Price)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Barcode, &p.StoreID, &p.Name, &p.Category, &price)
	p.Price = price
	return p, err
}
