package pricing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"escrow-engine/internal/providers"
)

// Engine resolves USD prices by walking adapters in fixed priority order and
// returning the first positive price. Exhausting every adapter yields
// (nil, nil): a missing price is an expected outcome, not a failure of the
// engine itself.
type Engine struct {
	adapters []providers.Adapter
	health   *HealthRegistry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine constructs a fallback engine over the given adapters. The slice
// order is the try order.
func NewEngine(adapters []providers.Adapter, health *HealthRegistry, logger zerolog.Logger) *Engine {
	return &Engine{
		adapters: adapters,
		health:   health,
		logger:   logger.With().Str("component", "price_fallback").Logger(),
		now:      time.Now,
	}
}

// Resolve tries each adapter in order and wraps the first positive price with
// its provider identity and timestamp.
func (e *Engine) Resolve(ctx context.Context, q providers.Query) (*PriceResult, error) {
	for _, adapter := range e.adapters {
		price, ok, err := adapter.FetchPrice(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.health.RecordFailure(adapter.Name())
			e.logger.Warn().Err(err).
				Str("provider", adapter.Name()).
				Str("symbol", q.Symbol).
				Msg("provider failed, trying next")
			continue
		}
		if !ok {
			e.logger.Debug().
				Str("provider", adapter.Name()).
				Str("symbol", q.Symbol).
				Msg("provider returned no usable price")
			continue
		}

		e.health.RecordSuccess(adapter.Name())
		e.logger.Debug().
			Str("provider", adapter.Name()).
			Str("symbol", q.Symbol).
			Str("price_usd", price.String()).
			Msg("price resolved")

		return &PriceResult{Price: price, Provider: adapter.Name(), FetchedAt: e.now()}, nil
	}

	e.logger.Warn().Str("symbol", q.Symbol).Str("coingecko_id", q.CoinGeckoID).Msg("all providers exhausted without a price")
	return nil, nil
}

// Health exposes the engine's registry snapshot for observability callers.
func (e *Engine) Health() []ProviderHealth {
	return e.health.Snapshot()
}
