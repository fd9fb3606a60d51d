package memory

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/scanbill/internal/domain/unit"
)

// Get implements unit.Ledger.
func (s *Store) Get(_ context.Context, serial string) (*unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.units[serial]
	if !ok {
		return nil, unit.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Reserve implements unit.Ledger. The version is read and written under
// separate lock acquisitions, so concurrent reservations of one unit observe
// ErrConflict the same way a database-backed compare-and-set would.
func (s *Store) Reserve(ctx context.Context, serial, storeID string) (*unit.Unit, error) {
	u, err := s.Get(ctx, serial)
	if err != nil {
		return nil, err
	}
	if u.StoreID != storeID {
		return nil, unit.ErrNotFound
	}
	if !u.Available() {
		return nil, unit.ErrNotAvailable
	}
	return s.compareAndSet(serial, u.Version, unit.StatusAvailable, unit.StatusSold)
}

// Release implements unit.Ledger.
func (s *Store) Release(_ context.Context, serial string, expectedVersion int64) error {
	s.mu.RLock()
	_, ok := s.units[serial]
	s.mu.RUnlock()
	if !ok {
		return unit.ErrNotFound
	}

	_, err := s.compareAndSet(serial, expectedVersion, unit.StatusSold, unit.StatusAvailable)
	if errors.Is(err, unit.ErrConflict) {
		// Version already moved: released before, or sold again since.
		return nil
	}
	return err
}

func (s *Store) compareAndSet(serial string, version int64, from, to unit.Status) (*unit.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[serial]
	if !ok {
		return nil, unit.ErrNotFound
	}
	if u.Version != version || u.Status != from {
		return nil, unit.ErrConflict
	}
	u.Status = to
	u.Version++
	u.UpdatedAt = s.now()

	cp := *u
	return &cp, nil
}

// ListAvailable implements unit.Ledger.
func (s *Store) ListAvailable(_ context.Context, barcode, storeID string) ([]unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []unit.Unit
	for _, u := range s.units {
		if u.Barcode == barcode && u.StoreID == storeID && u.Available() {
			out = append(out, *u)
		}
	}
	sortUnits(out)
	return out, nil
}

// Orphans implements unit.Ledger.
func (s *Store) Orphans(_ context.Context, soldBefore time.Time) ([]unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []unit.Unit
	for serial, u := range s.units {
		if u.Status != unit.StatusSold || !u.UpdatedAt.Before(soldBefore) {
			continue
		}
		if _, ordered := s.orderOf[serial]; ordered {
			continue
		}
		out = append(out, *u)
	}
	sortUnits(out)
	return out, nil
}

// Stock implements unit.Ledger.
func (s *Store) Stock(_ context.Context, units []unit.Unit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, u := range units {
		if _, exists := s.units[u.SerialNumber]; exists {
			continue
		}
		cp := u
		cp.Status = unit.StatusAvailable
		cp.UpdatedAt = s.now()
		s.units[u.SerialNumber] = &cp
		n++
	}
	return n, nil
}

func sortUnits(units []unit.Unit) {
	sort.Slice(units, func(i, j int) bool {
		return units[i].SerialNumber < units[j].SerialNumber
	})
}
