package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/scanbill/internal/domain/unit"
)

const (
	unitColumns = `serial_number, barcode, store_id, status, version, updated_at`

	getUnitSQL = `SELECT ` + unitColumns + ` FROM units WHERE serial_number = $1`

	// casUnitSQL moves a unit between statuses only when nobody touched it
	// since expected version was read.
	casUnitSQL = `UPDATE units
		SET status = $4, version = version + 1, updated_at = now()
		WHERE serial_number = $1 AND version = $2 AND status = $3
		RETURNING ` + unitColumns

	unitExistsSQL = `SELECT EXISTS (SELECT 1 FROM units WHERE serial_number = $1)`

	listAvailableSQL = `SELECT ` + unitColumns + ` FROM units
		WHERE barcode = $1 AND store_id = $2 AND status = 'AVAILABLE'
		ORDER BY serial_number`

	listOrphansSQL = `SELECT ` + unitColumns + ` FROM units u
		WHERE u.status = 'SOLD' AND u.updated_at < $1
			AND NOT EXISTS (SELECT 1 FROM order_items oi WHERE oi.serial_number = u.serial_number)
		ORDER BY u.serial_number`

	stockUnitSQL = `INSERT INTO units (serial_number, barcode, store_id, status, version, updated_at)
		VALUES ($1, $2, $3, 'AVAILABLE', 0, now())
		ON CONFLICT (serial_number) DO NOTHING`
)

var _ unit.Ledger = (*LedgerRepository)(nil)

// LedgerRepository implements unit.Ledger backed by PostgreSQL. Every status
// change is a single conditional UPDATE on (serial_number, version, status).
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Get returns the unit with the given serial.
func (r *LedgerRepository) Get(ctx context.Context, serial string) (*unit.Unit, error) {
	rows, err := r.pool.Query(ctx, getUnitSQL, serial)
	if err != nil {
		return nil, fmt.Errorf("getting unit %q: %w", serial, err)
	}

	u, err := pgx.CollectExactlyOneRow(rows, scanUnit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, unit.ErrNotFound
		}
		return nil, fmt.Errorf("getting unit %q: %w", serial, err)
	}
	return &u, nil
}

// Reserve marks an AVAILABLE unit of the store as SOLD.
func (r *LedgerRepository) Reserve(ctx context.Context, serial, storeID string) (*unit.Unit, error) {
	u, err := r.Get(ctx, serial)
	if err != nil {
		return nil, err
	}
	if u.StoreID != storeID {
		return nil, unit.ErrNotFound
	}
	if !u.Available() {
		return nil, unit.ErrNotAvailable
	}

	reserved, err := r.compareAndSet(ctx, serial, u.Version, unit.StatusAvailable, unit.StatusSold)
	if err != nil {
		return nil, fmt.Errorf("reserving unit %q: %w", serial, err)
	}
	return reserved, nil
}

// Release returns a unit reserved at expectedVersion to AVAILABLE. A unit
// whose version moved on was already released and is left untouched.
func (r *LedgerRepository) Release(ctx context.Context, serial string, expectedVersion int64) error {
	_, err := r.compareAndSet(ctx, serial, expectedVersion, unit.StatusSold, unit.StatusAvailable)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unit.ErrConflict) {
		return fmt.Errorf("releasing unit %q: %w", serial, err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, unitExistsSQL, serial).Scan(&exists); err != nil {
		return fmt.Errorf("releasing unit %q: %w", serial, err)
	}
	if !exists {
		return unit.ErrNotFound
	}
	return nil
}

func (r *LedgerRepository) compareAndSet(ctx context.Context, serial string, version int64, from, to unit.Status) (*unit.Unit, error) {
	rows, err := r.pool.Query(ctx, casUnitSQL, serial, version, string(from), string(to))
	if err != nil {
		return nil, err
	}

	u, err := pgx.CollectExactlyOneRow(rows, scanUnit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, unit.ErrConflict
		}
		return nil, err
	}
	return &u, nil
}

// ListAvailable returns the AVAILABLE units of a product in a store.
func (r *LedgerRepository) ListAvailable(ctx context.Context, barcode, storeID string) ([]unit.Unit, error) {
	rows, err := r.pool.Query(ctx, listAvailableSQL, barcode, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing available units: %w", err)
	}
	return pgx.CollectRows(rows, scanUnit)
}

// Orphans returns SOLD units last changed before soldBefore that no order
// line references.
func (r *LedgerRepository) Orphans(ctx context.Context, soldBefore time.Time) ([]unit.Unit, error) {
	rows, err := r.pool.Query(ctx, listOrphansSQL, soldBefore)
	if err != nil {
		return nil, fmt.Errorf("listing orphaned units: %w", err)
	}
	return pgx.CollectRows(rows, scanUnit)
}

// Stock inserts units as AVAILABLE in a single batch. Serials that already
// exist are skipped. It returns the number of inserted units.
func (r *LedgerRepository) Stock(ctx context.Context, units []unit.Unit) (int64, error) {
	if len(units) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, u := range units {
		batch.Queue(stockUnitSQL, u.SerialNumber, u.Barcode, u.StoreID)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range units {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("stocking units: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func scanUnit(row pgx.CollectableRow) (unit.Unit, error) {
	var (
		u      unit.Unit
		status string
	)
	err := row.Scan(&u.SerialNumber, &u.Barcode, &u.StoreID, &status, &u.Version, &u.UpdatedAt)
	u.Status = unit.Status(status)
	return u, err
}
