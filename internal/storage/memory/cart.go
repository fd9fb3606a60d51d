package memory

import (
	"context"

	"github.com/xenking/scanbill/internal/domain/cart"
)

// CartStore is the cart.Store view of a Store.
type CartStore struct {
	s *Store
}

// Carts returns the cart.Store backed by s.
func (s *Store) Carts() *CartStore {
	return &CartStore{s: s}
}

// Get implements cart.Store.
func (c *CartStore) Get(_ context.Context, userID, storeID string) (*cart.Cart, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	v, ok := c.s.carts[cartKey{userID: userID, storeID: storeID}]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return v.Clone(), nil
}

// Save implements cart.Store.
func (c *CartStore) Save(_ context.Context, v *cart.Cart) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	c.s.carts[cartKey{userID: v.UserID, storeID: v.StoreID}] = v.Clone()
	return nil
}
