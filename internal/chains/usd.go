package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"escrow-engine/internal/pricing"
	"escrow-engine/internal/providers"
)

// ErrPriceUnavailable signals that no provider produced a price for the
// chain's native currency. Recoverable: callers surface it to the user rather
// than settling without a conversion.
var ErrPriceUnavailable = errors.New("native currency price unavailable")

// Converter translates between USD and a chain's native smallest units using
// the price cache.
type Converter struct {
	registry *Registry
	cache    pricing.Cache
}

// NewConverter wires a registry and a price cache into a converter.
func NewConverter(registry *Registry, cache pricing.Cache) *Converter {
	return &Converter{registry: registry, cache: cache}
}

// USDToSmallestUnit converts a USD amount into the chain's native smallest
// unit at the current price. Zero converts to zero without a price lookup.
func (c *Converter) USDToSmallestUnit(ctx context.Context, usd decimal.Decimal, chainID uint64) (*big.Int, error) {
	if usd.Sign() < 0 {
		return nil, fmt.Errorf("usd amount must not be negative, got %s", usd)
	}
	if usd.IsZero() {
		return big.NewInt(0), nil
	}

	chain, price, err := c.nativePrice(ctx, chainID)
	if err != nil {
		return nil, err
	}

	native := usd.DivRound(price, chain.Decimals)
	return ToSmallestUnit(native, chain.Decimals), nil
}

// SmallestUnitToUSD converts a native smallest-unit amount into USD at the
// current price. Zero converts to zero without a price lookup.
func (c *Converter) SmallestUnitToUSD(ctx context.Context, amount *big.Int, chainID uint64) (decimal.Decimal, error) {
	if amount == nil || amount.Sign() == 0 {
		return decimal.Zero, nil
	}
	if amount.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("amount must not be negative, got %s", amount)
	}

	chain, price, err := c.nativePrice(ctx, chainID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return FromSmallestUnit(amount, chain.Decimals).Mul(price), nil
}

// NativePrice exposes the chain's current native-currency price, primarily
// for display callers.
func (c *Converter) NativePrice(ctx context.Context, chainID uint64) (*pricing.PriceResult, error) {
	chain, err := c.registry.Chain(chainID)
	if err != nil {
		return nil, err
	}
	result, err := c.cache.Price(ctx, queryFor(chain))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, chain.Symbol)
	}
	return result, nil
}

func (c *Converter) nativePrice(ctx context.Context, chainID uint64) (Chain, decimal.Decimal, error) {
	chain, err := c.registry.Chain(chainID)
	if err != nil {
		return Chain{}, decimal.Decimal{}, err
	}
	result, err := c.cache.Price(ctx, queryFor(chain))
	if err != nil {
		return Chain{}, decimal.Decimal{}, err
	}
	if result == nil || result.Price.Sign() <= 0 {
		return Chain{}, decimal.Decimal{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, chain.Symbol)
	}
	return chain, result.Price, nil
}

func queryFor(chain Chain) providers.Query {
	return providers.Query{
		Symbol:        chain.Symbol,
		CoinGeckoID:   chain.CoinGeckoID,
		CoinPaprikaID: chain.CoinPaprikaID,
	}
}
