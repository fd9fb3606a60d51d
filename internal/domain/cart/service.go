package cart

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/domain/unit"
)

// UnitReader is the read side of the unit ledger used for soft availability
// checks.
type UnitReader interface {
	Get(ctx context.Context, serial string) (*unit.Unit, error)
}

// PurchaseLookup reports which of the given serials already belong to orders
// placed by the user.
type PurchaseLookup interface {
	OrderedSerials(ctx context.Context, userID string, serials []string) ([]string, error)
}

// Service implements cart mutations on top of a Store.
type Service struct {
	store     Store
	source    Store
	units     UnitReader
	catalog   product.Catalog
	purchases PurchaseLookup
	now       func() time.Time
}

// NewService creates a cart Service. purchases may be nil, which disables
// reconciliation of carts left uncleared by a completed checkout.
func NewService(store Store, units UnitReader, catalog product.Catalog, purchases PurchaseLookup) *Service {
	return &Service{
		store:     store,
		source:    store,
		units:     units,
		catalog:   catalog,
		purchases: purchases,
		now:       time.Now,
	}
}

// WithSource sets the store Load reads from, typically the store a cache
// wraps. It defaults to the regular store.
func (s *Service) WithSource(src Store) *Service {
	s.source = src
	return s
}

// Load returns the cart for (userID, storeID) as held by the source store,
// for callers that must not act on a cached copy. A missing cart is returned
// empty and is not created.
func (s *Service) Load(ctx context.Context, userID, storeID string) (*Cart, error) {
	c, err := s.source.Get(ctx, userID, storeID)
	switch {
	case errors.Is(err, ErrNotFound):
		return New(userID, storeID), nil
	case err != nil:
		return nil, errors.Wrap(err, "load cart")
	}

	if err := s.reconcile(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetOrCreate returns the cart for (userID, storeID), creating an empty one
// on first access.
func (s *Service) GetOrCreate(ctx context.Context, userID, storeID string) (*Cart, error) {
	c, err := s.store.Get(ctx, userID, storeID)
	switch {
	case errors.Is(err, ErrNotFound):
		c = New(userID, storeID)
		if err := s.save(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	case err != nil:
		return nil, errors.Wrap(err, "get cart")
	}

	if err := s.reconcile(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddLine appends the unit identified by serial with a price snapshot from
// the catalog. The availability check is advisory: nothing is reserved.
func (s *Service) AddLine(ctx context.Context, userID, serial, storeID string) (*Cart, error) {
	c, err := s.GetOrCreate(ctx, userID, storeID)
	if err != nil {
		return nil, err
	}
	if c.Has(serial) {
		return nil, ErrAlreadyInCart
	}

	u, err := s.units.Get(ctx, serial)
	if err != nil {
		return nil, errors.Wrapf(err, "get unit %s", serial)
	}
	if u.StoreID != storeID {
		return nil, errors.Wrapf(unit.ErrNotFound, "unit %s in store %s", serial, storeID)
	}
	if !u.Available() {
		return nil, errors.Wrapf(unit.ErrNotAvailable, "unit %s", serial)
	}

	p, err := s.catalog.GetByBarcode(ctx, u.Barcode)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", u.Barcode)
	}

	c.Lines = append(c.Lines, Line{
		SerialNumber: serial,
		ProductID:    p.ID,
		Name:         p.Name,
		Price:        p.Price,
		Quantity:     1,
	})
	c.Recalculate()

	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RemoveLine deletes the line for serial. Removing an absent serial is a
// no-op that still returns the cart.
func (s *Service) RemoveLine(ctx context.Context, userID, serial, storeID string) (*Cart, error) {
	c, err := s.GetOrCreate(ctx, userID, storeID)
	if err != nil {
		return nil, err
	}
	c.Remove(serial)

	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Clear empties the cart for (userID, storeID).
func (s *Service) Clear(ctx context.Context, userID, storeID string) error {
	c := New(userID, storeID)
	return s.save(ctx, c)
}

// reconcile drops lines whose units were already bought by the same user,
// which happens when a checkout committed its order but failed to clear the
// cart.
func (s *Service) reconcile(ctx context.Context, c *Cart) error {
	if s.purchases == nil || len(c.Lines) == 0 {
		return nil
	}
	bought, err := s.purchases.OrderedSerials(ctx, c.UserID, c.Serials())
	if err != nil {
		return errors.Wrap(err, "lookup ordered serials")
	}
	if len(bought) == 0 {
		return nil
	}

	kept := c.Lines[:0]
	for _, l := range c.Lines {
		if !slices.Contains(bought, l.SerialNumber) {
			kept = append(kept, l)
		}
	}
	c.Lines = kept
	c.Recalculate()

	zctx.From(ctx).Info("Reconciled cart after checkout",
		zap.String("user_id", c.UserID),
		zap.String("store_id", c.StoreID),
		zap.Strings("serials", bought),
	)
	return s.save(ctx, c)
}

func (s *Service) save(ctx context.Context, c *Cart) error {
	c.UpdatedAt = s.now()
	if err := s.store.Save(ctx, c); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}
