// Package cache provides a Redis read-through cache in front of a cart.Store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/scanbill/internal/domain/cart"
)

// ErrCacheMiss is returned when a cart is not cached.
var ErrCacheMiss = errors.New("cache miss")

const (
	defaultTTL    = 15 * time.Minute
	defaultJitter = 5 * time.Minute
	opTimeout     = time.Second
)

var _ cart.Store = (*CartStore)(nil)

// CartStore caches carts of the underlying store in Redis. Reads fill the
// cache on a miss without overwriting an existing entry, and writes replace
// the entry after the underlying store accepted them, so a reader holding an
// older cart cannot put it back. The underlying store stays the source of
// truth. Redis failures are logged and never fail an operation.
type CartStore struct {
	next   cart.Store
	client redis.UniversalClient
	ttl    time.Duration
	jitter time.Duration
	sfg    singleflight.Group
}

// NewCartStore wraps next with a Redis cache. A zero ttl selects the default.
func NewCartStore(next cart.Store, client redis.UniversalClient, ttl time.Duration) *CartStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CartStore{
		next:   next,
		client: client,
		ttl:    ttl,
		jitter: defaultJitter,
	}
}

// Get implements cart.Store.
func (s *CartStore) Get(ctx context.Context, userID, storeID string) (*cart.Cart, error) {
	key := cacheKey(userID, storeID)

	v, err, _ := s.sfg.Do(key, func() (any, error) {
		c, err := s.lookup(ctx, key)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			zctx.From(ctx).Warn("Cart cache get", zap.String("key", key), zap.Error(err))
		}

		c, err = s.next.Get(ctx, userID, storeID)
		if err != nil {
			return nil, err
		}
		if err := s.fill(ctx, key, c); err != nil {
			zctx.From(ctx).Warn("Cart cache fill", zap.String("key", key), zap.Error(err))
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers of a shared flight must not mutate the same cart.
	return v.(*cart.Cart).Clone(), nil
}

// Save implements cart.Store. The entry is dropped when it cannot be
// replaced.
func (s *CartStore) Save(ctx context.Context, c *cart.Cart) error {
	if err := s.next.Save(ctx, c); err != nil {
		return err
	}
	key := cacheKey(c.UserID, c.StoreID)
	if err := s.replace(ctx, key, c); err != nil {
		zctx.From(ctx).Warn("Cart cache replace", zap.String("key", key), zap.Error(err))
		s.invalidate(ctx, key)
	}
	return nil
}

func (s *CartStore) lookup(ctx context.Context, key string) (*cart.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if c.Lines == nil {
		c.Lines = []cart.Line{}
	}
	return &c, nil
}

// fill stores c unless another reader cached the key first.
func (s *CartStore) fill(ctx context.Context, key string, c *cart.Cart) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := s.client.SetNX(ctx, key, data, s.expiration()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// replace overwrites the entry for key with c. It runs past caller
// cancellation since the underlying store already holds c.
func (s *CartStore) replace(ctx context.Context, key string, c *cart.Cart) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.expiration()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *CartStore) invalidate(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		zctx.From(ctx).Warn("Cart cache invalidate", zap.String("key", key), zap.Error(err))
	}
}

// expiration spreads expirations to avoid synchronized refills.
func (s *CartStore) expiration() time.Duration {
	if s.jitter <= 0 {
		return s.ttl
	}
	return s.ttl + rand.N(s.jitter)
}

func cacheKey(userID, storeID string) string {
	return fmt.Sprintf("cart:%s:%s", storeID, userID)
}
