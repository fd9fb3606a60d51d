// Package memory implements the storage ports in process memory. It backs
// local runs without a database and the domain tests.
package memory

import (
	"sync"
	"time"

	"github.com/xenking/scanbill/internal/domain/auth"
	"github.com/xenking/scanbill/internal/domain/cart"
	"github.com/xenking/scanbill/internal/domain/order"
	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/domain/unit"
)

var (
	_ unit.Ledger      = (*Store)(nil)
	_ product.Catalog  = (*Store)(nil)
	_ cart.Store       = (*CartStore)(nil)
	_ order.Repository = (*Store)(nil)
)

type cartKey struct {
	userID  string
	storeID string
}

// Store holds units, products, carts, orders and API keys.
type Store struct {
	mu       sync.RWMutex
	units    map[string]*unit.Unit
	products map[string]product.Product
	carts    map[cartKey]*cart.Cart
	orders   map[string]*order.Order
	byKey    map[string]string
	// orderOf maps a serial to the order that contains it.
	orderOf map[string]string
	apiKeys map[string]auth.APIKeyInfo

	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		units:    make(map[string]*unit.Unit),
		products: make(map[string]product.Product),
		carts:    make(map[cartKey]*cart.Cart),
		orders:   make(map[string]*order.Order),
		byKey:    make(map[string]string),
		orderOf:  make(map[string]string),
		apiKeys:  make(map[string]auth.APIKeyInfo),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for unit timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
