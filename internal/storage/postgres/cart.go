package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/scanbill/internal/domain/cart"
)

const (
	getCartSQL = `SELECT user_id, store_id, lines, total, updated_at
		FROM carts WHERE user_id = $1 AND store_id = $2`

	saveCartSQL = `INSERT INTO carts (user_id, store_id, lines, total, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, store_id) DO UPDATE SET
			lines = EXCLUDED.lines,
			total = EXCLUDED.total,
			updated_at = EXCLUDED.updated_at`
)

var _ cart.Store = (*CartRepository)(nil)

// CartRepository implements cart.Store backed by PostgreSQL. Lines are
// stored as a JSONB document per (user, store).
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the cart of (userID, storeID).
func (r *CartRepository) Get(ctx context.Context, userID, storeID string) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, getCartSQL, userID, storeID)
	if err != nil {
		return nil, fmt.Errorf("getting cart %s/%s: %w", userID, storeID, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart %s/%s: %w", userID, storeID, err)
	}
	return c, nil
}

// Save upserts the cart. The last writer wins.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	lines := c.Lines
	if lines == nil {
		lines = []cart.Line{}
	}
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshaling cart lines: %w", err)
	}

	_, err = r.pool.Exec(ctx, saveCartSQL, c.UserID, c.StoreID, linesJSON, c.Total, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving cart %s/%s: %w", c.UserID, c.StoreID, err)
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (*cart.Cart, error) {
	var (
		c         cart.Cart
		linesJSON []byte
	)
	if err := row.Scan(&c.UserID, &c.StoreID, &linesJSON, &c.Total, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &c.Lines); err != nil {
		return nil, fmt.Errorf("unmarshaling cart lines: %w", err)
	}
	if c.Lines == nil {
		c.Lines = []cart.Line{}
	}
	return &c, nil
}
