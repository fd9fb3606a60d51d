package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/scanbill/internal/domain/cart"
	"github.com/xenking/scanbill/internal/storage/memory"
)

type countingStore struct {
	cart.Store
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, userID, storeID string) (*cart.Cart, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, userID, storeID)
}

func setupTestCache(t *testing.T) (*CartStore, *countingStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backing := &countingStore{Store: memory.New().Carts()}
	return NewCartStore(backing, client, time.Minute), backing, mr
}

func testCart() *cart.Cart {
	c := cart.New("U1", "T1")
	c.Lines = append(c.Lines, cart.Line{
		SerialNumber: "S1",
		ProductID:    "p1",
		Name:         "Jacket",
		Price:        decimal.RequireFromString("45.00"),
		Quantity:     1,
	})
	c.Recalculate()
	return c
}

func TestCartStore_ReadThrough(t *testing.T) {
	store, backing, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, backing.Save(ctx, testCart()))

	first, err := store.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, first.Serials())
	assert.True(t, mr.Exists(cacheKey("U1", "T1")))

	ttl := mr.TTL(cacheKey("U1", "T1"))
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, time.Minute+defaultJitter)

	second, err := store.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), backing.gets.Load(), "second read must be served from redis")
	assert.True(t, decimal.RequireFromString("45.00").Equal(second.Total))
}

func TestCartStore_SaveReplacesEntry(t *testing.T) {
	store, backing, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCart()))
	require.True(t, mr.Exists(cacheKey("U1", "T1")))

	cleared := testCart()
	cleared.Clear()
	require.NoError(t, store.Save(ctx, cleared))
	require.True(t, mr.Exists(cacheKey("U1", "T1")))

	got, err := store.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Empty(t, got.Lines)
	assert.Zero(t, backing.gets.Load(), "saved cart must be served from redis")
}

// pausingStore hands out the cart it read and then waits, so a Save can land
// between the underlying read and the cache fill.
type pausingStore struct {
	cart.Store
	armed   atomic.Bool
	fetched chan struct{}
	resume  chan struct{}
}

func (s *pausingStore) Get(ctx context.Context, userID, storeID string) (*cart.Cart, error) {
	c, err := s.Store.Get(ctx, userID, storeID)
	if s.armed.CompareAndSwap(true, false) {
		close(s.fetched)
		<-s.resume
	}
	return c, err
}

func TestCartStore_StaleFillDoesNotOverwriteSave(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backing := &pausingStore{
		Store:   memory.New().Carts(),
		fetched: make(chan struct{}),
		resume:  make(chan struct{}),
	}
	store := NewCartStore(backing, client, time.Minute)
	ctx := context.Background()

	require.NoError(t, backing.Store.Save(ctx, testCart()))
	backing.armed.Store(true)

	done := make(chan *cart.Cart, 1)
	go func() {
		c, err := store.Get(ctx, "U1", "T1")
		assert.NoError(t, err)
		done <- c
	}()

	<-backing.fetched
	require.NoError(t, store.Save(ctx, cart.New("U1", "T1")))
	close(backing.resume)

	old := <-done
	require.NotNil(t, old)
	assert.Equal(t, []string{"S1"}, old.Serials())

	got, err := store.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Empty(t, got.Serials())

	raw, err := backing.Store.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Empty(t, raw.Serials())
}

func TestCartStore_NotFoundIsNotCached(t *testing.T) {
	store, _, mr := setupTestCache(t)

	_, err := store.Get(context.Background(), "U1", "T1")
	require.ErrorIs(t, err, cart.ErrNotFound)
	assert.False(t, mr.Exists(cacheKey("U1", "T1")))
}

func TestCartStore_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	backing := &countingStore{Store: memory.New().Carts()}
	store := NewCartStore(backing, client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCart()))
	got, err := store.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, got.Serials())
	assert.Equal(t, int32(1), backing.gets.Load())
}

func TestCartStore_CorruptEntryFallsBack(t *testing.T) {
	store, _, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCart()))
	require.NoError(t, mr.Set(cacheKey("U1", "T1"), "{not json"))

	got, err := store.Get(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, got.Serials())
}

func TestCartStore_CallersGetIndependentCopies(t *testing.T) {
	store, _, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCart()))

	var wg sync.WaitGroup
	carts := make([]*cart.Cart, 4)
	for i := range carts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := store.Get(ctx, "U1", "T1")
			if err == nil {
				carts[i] = c
			}
		}()
	}
	wg.Wait()

	for _, c := range carts {
		require.NotNil(t, c)
	}
	carts[0].Clear()
	assert.Len(t, carts[1].Lines, 1)
}
