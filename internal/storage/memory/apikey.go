package memory

import (
	"context"
	"slices"

	"github.com/xenking/scanbill/internal/domain/auth"
)

var _ auth.Repository = (*Store)(nil)

// FindByHash implements auth.Repository.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	info.Scopes = slices.Clone(info.Scopes)
	return &info, nil
}

// UpsertAPIKey stores an active key. info.KeyHash must already be hashed.
func (s *Store) UpsertAPIKey(_ context.Context, info auth.APIKeyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, k := range s.apiKeys {
		if k.ID == info.ID {
			delete(s.apiKeys, h)
		}
	}
	info.Scopes = slices.Clone(info.Scopes)
	s.apiKeys[info.KeyHash] = info
	return nil
}
