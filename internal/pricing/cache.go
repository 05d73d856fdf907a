package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"escrow-engine/internal/providers"
)

// DefaultCacheWindow bounds how long a resolved price is served from memory.
const DefaultCacheWindow = 300 * time.Second

// resolveTimeout bounds a shared in-flight resolution. The resolution runs
// detached from the initiating caller's context, so it needs its own ceiling.
const resolveTimeout = 30 * time.Second

// Resolver is the upstream a cache delegates to on a miss.
type Resolver interface {
	Resolve(ctx context.Context, q providers.Query) (*PriceResult, error)
}

// Cache is the price lookup surface handed to the rest of the system. The
// composition root decides the implementation: a MemoryCache for long-lived
// processes, a NoopCache for one-shot command invocations.
type Cache interface {
	Price(ctx context.Context, q providers.Query) (*PriceResult, error)
}

type cacheEntry struct {
	result   *PriceResult
	inserted time.Time
}

// MemoryCache memoises resolved prices for a bounded window. Concurrent
// callers for the same key share a single in-flight resolution.
type MemoryCache struct {
	resolver Resolver
	window   time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
	now     func() time.Time
}

// NewMemoryCache wraps a resolver with time-windowed memoisation.
func NewMemoryCache(resolver Resolver, window time.Duration, logger zerolog.Logger) *MemoryCache {
	if window <= 0 {
		window = DefaultCacheWindow
	}
	return &MemoryCache{
		resolver: resolver,
		window:   window,
		logger:   logger.With().Str("component", "price_cache").Logger(),
		entries:  make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// Price returns the cached price for the query key when fresh, otherwise
// resolves upstream exactly once per key per window. The shared resolution is
// detached from the initiating caller: a caller's timeout or cancellation
// drops only that caller out of the wait, never the in-flight resolution
// other callers may also be awaiting.
func (c *MemoryCache) Price(ctx context.Context, q providers.Query) (*PriceResult, error) {
	key := CacheKey(q)

	if result, ok := c.lookup(key); ok {
		return result, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Re-check under single-flight: a concurrent caller may have
		// populated the entry while this one waited its turn.
		if result, ok := c.lookup(key); ok {
			return result, nil
		}

		resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()

		result, err := c.resolver.Resolve(resolveCtx, q)
		if err != nil {
			return nil, err
		}
		if result != nil {
			c.store(key, result)
		}
		return result, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Val == nil {
			return nil, nil
		}
		return res.Val.(*PriceResult), nil
	}
}

func (c *MemoryCache) lookup(key string) (*PriceResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.inserted) >= c.window {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

func (c *MemoryCache) store(key string, result *PriceResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, inserted: c.now()}
}

// NoopCache resolves every call upstream. Used by one-shot CLI commands where
// a process-wide cache has nothing to share.
type NoopCache struct {
	resolver Resolver
}

// NewNoopCache wraps a resolver without memoisation.
func NewNoopCache(resolver Resolver) *NoopCache {
	return &NoopCache{resolver: resolver}
}

// Price delegates straight to the resolver.
func (c *NoopCache) Price(ctx context.Context, q providers.Query) (*PriceResult, error) {
	return c.resolver.Resolve(ctx, q)
}

// CacheKey canonicalises a query into its memoisation key: the aggregator id
// when known, else the ticker symbol.
func CacheKey(q providers.Query) string {
	if q.CoinGeckoID != "" {
		return strings.ToLower(q.CoinGeckoID)
	}
	return strings.ToLower(q.Symbol)
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*NoopCache)(nil)
)
