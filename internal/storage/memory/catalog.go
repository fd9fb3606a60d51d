package memory

import (
	"context"

	"github.com/xenking/scanbill/internal/domain/product"
)

// GetByBarcode implements product.Catalog.
func (s *Store) GetByBarcode(_ context.Context, barcode string) (*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[barcode]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// UpsertProduct adds or replaces a catalog entry.
func (s *Store) UpsertProduct(_ context.Context, p product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[p.Barcode] = p
	return nil
}
