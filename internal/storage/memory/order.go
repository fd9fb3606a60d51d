package memory

import (
	"context"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/scanbill/internal/domain/order"
)

// Create implements order.Repository.
func (s *Store) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return errors.Errorf("order %s already exists", o.ID)
	}
	if o.IdempotencyKey != "" {
		if _, taken := s.byKey[o.IdempotencyKey]; taken {
			return order.ErrDuplicateIdempotencyKey
		}
	}
	for _, serial := range o.Serials() {
		if other, ok := s.orderOf[serial]; ok {
			return errors.Errorf("unit %s already in order %s", serial, other)
		}
	}

	s.orders[o.ID] = cloneOrder(o)
	if o.IdempotencyKey != "" {
		s.byKey[o.IdempotencyKey] = o.ID
	}
	for _, serial := range o.Serials() {
		s.orderOf[serial] = o.ID
	}
	return nil
}

// GetByID implements order.Repository.
func (s *Store) GetByID(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// FindByKey implements order.Repository.
func (s *Store) FindByKey(_ context.Context, key string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

// ListByStore implements order.Repository, newest first.
func (s *Store) ListByStore(_ context.Context, storeID string) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []order.Order
	for _, o := range s.orders {
		if o.StoreID == storeID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// OrderedSerials implements order.Repository.
func (s *Store) OrderedSerials(_ context.Context, userID string, serials []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, serial := range serials {
		id, ok := s.orderOf[serial]
		if ok && s.orders[id].UserID == userID {
			out = append(out, serial)
		}
	}
	return out, nil
}

// UpdatePayment implements order.Repository.
func (s *Store) UpdatePayment(_ context.Context, id string, status order.Status, p order.Payment, receiptURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status == order.StatusPaid {
		return order.ErrAlreadyPaid
	}
	o.Status = status
	o.Payment = p
	o.ReceiptURL = receiptURL
	return nil
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]order.Item(nil), o.Items...)
	return &cp
}
