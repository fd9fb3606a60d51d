package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrEmptyCart is returned when checkout is attempted on a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidRequest is returned when required checkout fields are missing.
	ErrInvalidRequest = errors.New("invalid checkout request")
	// ErrIdempotencyKeyConflict is returned when the idempotency key already
	// belongs to an order of another user.
	ErrIdempotencyKeyConflict = errors.New("idempotency key already used")
)

// ItemUnavailableError reports the cart line whose unit could not be
// reserved. Err is one of unit.ErrNotAvailable, unit.ErrConflict or
// unit.ErrNotFound, possibly wrapped.
type ItemUnavailableError struct {
	SerialNumber string
	Err          error
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("item %s unavailable: %v", e.SerialNumber, e.Err)
}

func (e *ItemUnavailableError) Unwrap() error {
	return e.Err
}
