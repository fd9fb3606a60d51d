// Package unit models individually serialized inventory units and the ledger
// that owns their sale status.
package unit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Status is the sale state of a unit.
type Status string

const (
	// StatusAvailable marks a unit that can be reserved by a checkout.
	StatusAvailable Status = "AVAILABLE"
	// StatusSold marks a unit reserved by a checkout.
	StatusSold Status = "SOLD"
)

var (
	// ErrNotFound is returned when the serial does not exist or belongs to a
	// different store.
	ErrNotFound = errors.New("unit not found")
	// ErrNotAvailable is returned when the unit is already sold.
	ErrNotAvailable = errors.New("unit not available")
	// ErrConflict is returned when another transaction changed the unit
	// between the version read and the conditional write.
	ErrConflict = errors.New("unit modified concurrently")
)

// Unit is one physical, serialized inventory item.
type Unit struct {
	SerialNumber string
	Barcode      string
	StoreID      string
	Status       Status
	Version      int64
	UpdatedAt    time.Time
}

// Available reports whether the unit can be reserved.
func (u *Unit) Available() bool {
	return u.Status == StatusAvailable
}

// Ledger owns unit status. Reserve and Release are compare-and-set
// transitions keyed on the unit version; no other locking is used.
type Ledger interface {
	Get(ctx context.Context, serial string) (*Unit, error)

	// Reserve moves an AVAILABLE unit of storeID to SOLD and bumps its
	// version. Returns ErrNotFound, ErrNotAvailable or ErrConflict.
	Reserve(ctx context.Context, serial, storeID string) (*Unit, error)

	// Release moves a SOLD unit back to AVAILABLE if its version still equals
	// expectedVersion. A version that already moved counts as released.
	Release(ctx context.Context, serial string, expectedVersion int64) error

	ListAvailable(ctx context.Context, barcode, storeID string) ([]Unit, error)

	// Orphans returns SOLD units last changed before soldBefore that no order
	// line references.
	Orphans(ctx context.Context, soldBefore time.Time) ([]Unit, error)

	// Stock inserts new AVAILABLE units, skipping serials that already exist,
	// and returns the number inserted.
	Stock(ctx context.Context, units []Unit) (int64, error)
}
