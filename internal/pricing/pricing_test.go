package pricing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"escrow-engine/internal/providers"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type stubAdapter struct {
	name  string
	price decimal.Decimal
	ok    bool
	err   error
	calls int
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) FetchPrice(ctx context.Context, q providers.Query) (decimal.Decimal, bool, error) {
	s.calls++
	return s.price, s.ok, s.err
}

func TestResolveReturnsFirstUsablePrice(t *testing.T) {
	first := &stubAdapter{name: "coingecko"}
	second := &stubAdapter{name: "binance", err: errors.New("boom")}
	third := &stubAdapter{name: "coinbase", price: decimal.NewFromInt(100), ok: true}
	fourth := &stubAdapter{name: "kraken", price: decimal.NewFromInt(999), ok: true}

	engine := NewEngine([]providers.Adapter{first, second, third, fourth}, NewHealthRegistry(), noopLogger())
	result, err := engine.Resolve(context.Background(), providers.Query{Symbol: "ETH"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result == nil || !result.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected 100 from third adapter, got %+v", result)
	}
	if result.Provider != "coinbase" {
		t.Fatalf("expected provider coinbase, got %s", result.Provider)
	}
	if fourth.calls != 0 {
		t.Fatal("later adapters must not be tried after a hit")
	}
}

func TestResolveExhaustedReturnsNilNil(t *testing.T) {
	adapters := []providers.Adapter{
		&stubAdapter{name: "coingecko"},
		&stubAdapter{name: "binance", err: errors.New("boom")},
		&stubAdapter{name: "coinbase"},
	}

	engine := NewEngine(adapters, NewHealthRegistry(), noopLogger())
	result, err := engine.Resolve(context.Background(), providers.Query{Symbol: "FOO"})
	if err != nil {
		t.Fatalf("exhaustion must not be an error, got %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result, got %+v", result)
	}
}

func TestResolveRecordsHealthOutcomes(t *testing.T) {
	failing := &stubAdapter{name: "coingecko", err: errors.New("boom")}
	succeeding := &stubAdapter{name: "binance", price: decimal.NewFromInt(5), ok: true}

	health := NewHealthRegistry()
	engine := NewEngine([]providers.Adapter{failing, succeeding}, health, noopLogger())
	if _, err := engine.Resolve(context.Background(), providers.Query{Symbol: "ETH"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	snapshot := engine.Health()
	byName := make(map[string]ProviderHealth, len(snapshot))
	for _, h := range snapshot {
		byName[h.Provider] = h
	}
	if byName["coingecko"].ConsecutiveFails != 1 {
		t.Fatalf("expected one recorded failure, got %+v", byName["coingecko"])
	}
	if byName["binance"].LastSuccess.IsZero() {
		t.Fatal("expected a recorded success for binance")
	}
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubAdapter{name: "coingecko", err: context.Canceled}
	second := &stubAdapter{name: "binance", price: decimal.NewFromInt(1), ok: true}
	cancel()

	engine := NewEngine([]providers.Adapter{first, second}, NewHealthRegistry(), noopLogger())
	if _, err := engine.Resolve(ctx, providers.Query{Symbol: "ETH"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if second.calls != 0 {
		t.Fatal("cancellation must stop the fallback walk")
	}
}

func TestHealthRegistryFlipsAfterThreeFailures(t *testing.T) {
	reg := NewHealthRegistry()
	if !reg.Healthy("coingecko") {
		t.Fatal("unknown provider should start healthy")
	}
	reg.RecordFailure("coingecko")
	reg.RecordFailure("coingecko")
	if !reg.Healthy("coingecko") {
		t.Fatal("two failures should still be healthy")
	}
	reg.RecordFailure("coingecko")
	if reg.Healthy("coingecko") {
		t.Fatal("three consecutive failures should be unhealthy")
	}
	reg.RecordSuccess("coingecko")
	if !reg.Healthy("coingecko") {
		t.Fatal("a success should restore health")
	}
}

func TestHealthRegistryStaleSuccessWhileFailing(t *testing.T) {
	current := time.Now()
	reg := NewHealthRegistry()
	reg.now = func() time.Time { return current }

	reg.RecordSuccess("kraken")
	current = current.Add(6 * time.Minute)
	reg.RecordFailure("kraken")
	if reg.Healthy("kraken") {
		t.Fatal("a provider failing with no success in 5 minutes should be unhealthy")
	}
}

type countingResolver struct {
	calls  int32
	result *PriceResult
	err    error
	block  chan struct{}
}

func (r *countingResolver) Resolve(ctx context.Context, q providers.Query) (*PriceResult, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.block != nil {
		<-r.block
	}
	return r.result, r.err
}

func TestMemoryCacheServesWithinWindow(t *testing.T) {
	upstream := &countingResolver{result: &PriceResult{Price: decimal.NewFromInt(42), Provider: "coingecko"}}
	cache := NewMemoryCache(upstream, time.Minute, noopLogger())

	for i := 0; i < 3; i++ {
		result, err := cache.Price(context.Background(), providers.Query{Symbol: "ETH"})
		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		if result == nil || !result.Price.Equal(decimal.NewFromInt(42)) {
			t.Fatalf("unexpected result %+v", result)
		}
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 1 {
		t.Fatalf("expected one upstream resolution per window, got %d", got)
	}
}

func TestMemoryCacheExpiresAfterWindow(t *testing.T) {
	current := time.Now()
	upstream := &countingResolver{result: &PriceResult{Price: decimal.NewFromInt(42)}}
	cache := NewMemoryCache(upstream, time.Minute, noopLogger())
	cache.now = func() time.Time { return current }

	if _, err := cache.Price(context.Background(), providers.Query{Symbol: "ETH"}); err != nil {
		t.Fatalf("Price: %v", err)
	}
	current = current.Add(time.Minute)
	if _, err := cache.Price(context.Background(), providers.Query{Symbol: "ETH"}); err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 2 {
		t.Fatalf("expected re-resolution after expiry, got %d calls", got)
	}
}

func TestMemoryCacheDoesNotCacheAbsence(t *testing.T) {
	upstream := &countingResolver{}
	cache := NewMemoryCache(upstream, time.Minute, noopLogger())

	for i := 0; i < 2; i++ {
		result, err := cache.Price(context.Background(), providers.Query{Symbol: "ETH"})
		if err != nil || result != nil {
			t.Fatalf("expected nil result without error, got %+v err=%v", result, err)
		}
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 2 {
		t.Fatalf("nil results must not be memoised, got %d calls", got)
	}
}

func TestMemoryCacheSingleFlight(t *testing.T) {
	upstream := &countingResolver{
		result: &PriceResult{Price: decimal.NewFromInt(7)},
		block:  make(chan struct{}),
	}
	cache := NewMemoryCache(upstream, time.Minute, noopLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Price(context.Background(), providers.Query{Symbol: "ETH"}); err != nil {
				t.Errorf("Price: %v", err)
			}
		}()
	}

	// Let the goroutines pile onto the same key before releasing upstream.
	time.Sleep(50 * time.Millisecond)
	close(upstream.block)
	wg.Wait()

	if got := atomic.LoadInt32(&upstream.calls); got != 1 {
		t.Fatalf("concurrent callers must share one resolution, got %d", got)
	}
}

func TestMemoryCacheCancelledCallerDropsOutWithoutAbortingFlight(t *testing.T) {
	upstream := &countingResolver{
		result: &PriceResult{Price: decimal.NewFromInt(9)},
		block:  make(chan struct{}),
	}
	cache := NewMemoryCache(upstream, time.Minute, noopLogger())
	q := providers.Query{Symbol: "ETH"}

	// First caller starts the flight with a cancellable context.
	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Price(ctx, q)
		firstErr <- err
	}()

	// Second caller joins the same flight with a live context.
	secondDone := make(chan struct{})
	var secondResult *PriceResult
	var secondErr error
	go func() {
		defer close(secondDone)
		secondResult, secondErr = cache.Price(context.Background(), q)
	}()

	// Give both callers time to pile onto the key, then cancel the first.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller must return without waiting for the flight")
	}

	close(upstream.block)
	<-secondDone

	if secondErr != nil {
		t.Fatalf("waiter with a live context must not inherit the cancellation: %v", secondErr)
	}
	if secondResult == nil || !secondResult.Price.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("waiter should receive the resolved price, got %+v", secondResult)
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 1 {
		t.Fatalf("expected a single shared resolution, got %d", got)
	}
}

func TestNoopCacheAlwaysResolves(t *testing.T) {
	upstream := &countingResolver{result: &PriceResult{Price: decimal.NewFromInt(1)}}
	cache := NewNoopCache(upstream)

	for i := 0; i < 2; i++ {
		if _, err := cache.Price(context.Background(), providers.Query{Symbol: "ETH"}); err != nil {
			t.Fatalf("Price: %v", err)
		}
	}
	if got := atomic.LoadInt32(&upstream.calls); got != 2 {
		t.Fatalf("noop cache must not memoise, got %d calls", got)
	}
}

func TestCacheKeyPrefersCanonicalID(t *testing.T) {
	if got := CacheKey(providers.Query{Symbol: "ETH", CoinGeckoID: "Ethereum"}); got != "ethereum" {
		t.Fatalf("expected canonical id key, got %q", got)
	}
	if got := CacheKey(providers.Query{Symbol: "ETH"}); got != "eth" {
		t.Fatalf("expected lowercase symbol key, got %q", got)
	}
}
