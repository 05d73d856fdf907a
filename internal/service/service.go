package service

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"escrow-engine/internal/chains"
	"escrow-engine/internal/fees"
	"escrow-engine/internal/pricing"
	"escrow-engine/internal/providers"
)

// Engine is the service boundary exposed to the API layer: price lookup, fee
// computation and validation, and chain-aware amount conversion.
type Engine struct {
	registry       *chains.Registry
	cache          pricing.Cache
	converter      *chains.Converter
	fees           *fees.Service
	strictAdditive bool
	logger         zerolog.Logger
}

// NewEngine wires the settlement engine together.
func NewEngine(registry *chains.Registry, cache pricing.Cache, converter *chains.Converter, feeService *fees.Service, strictAdditive bool, logger zerolog.Logger) *Engine {
	return &Engine{
		registry:       registry,
		cache:          cache,
		converter:      converter,
		fees:           feeService,
		strictAdditive: strictAdditive,
		logger:         logger.With().Str("component", "engine").Logger(),
	}
}

// Price resolves a USD price through the cache. A nil result with nil error
// means no provider produced a price; callers surface "pricing temporarily
// unavailable" rather than failing hard.
func (e *Engine) Price(ctx context.Context, q providers.Query) (*pricing.PriceResult, error) {
	return e.cache.Price(ctx, q)
}

// NativePrice resolves the USD price of a chain's native currency.
func (e *Engine) NativePrice(ctx context.Context, chainID uint64) (*pricing.PriceResult, error) {
	return e.converter.NativePrice(ctx, chainID)
}

// CalculateUserFee derives the authoritative fee split for a trade amount.
func (e *Engine) CalculateUserFee(ctx context.Context, user common.Address, amount decimal.Decimal, chainID uint64) (fees.FeeCalculation, error) {
	return e.fees.CalculateUserFee(ctx, user, amount, chainID)
}

// ValidateClientFee checks a client-submitted fee against the authoritative one.
func (e *Engine) ValidateClientFee(ctx context.Context, user common.Address, amount decimal.Decimal, chainID uint64, clientFee decimal.Decimal) (fees.Validation, error) {
	return e.fees.ValidateClientFee(ctx, user, amount, chainID, clientFee)
}

// EscrowAmounts computes the base/fee/total settlement split in both on-chain
// encodings.
func (e *Engine) EscrowAmounts(amount decimal.Decimal, feePct decimal.Decimal, chainID uint64) (chains.EscrowBreakdown, error) {
	return e.registry.EscrowAmounts(amount, feePct, chainID, e.strictAdditive)
}

// ChainAmounts scales a human-readable amount into the chain's amount pair.
func (e *Engine) ChainAmounts(amount decimal.Decimal, chainID uint64) (chains.AmountPair, error) {
	return e.registry.ChainAmounts(amount, chainID)
}

// ConvertUSDToSmallestUnit converts USD into native smallest units.
func (e *Engine) ConvertUSDToSmallestUnit(ctx context.Context, usd decimal.Decimal, chainID uint64) (*big.Int, error) {
	return e.converter.USDToSmallestUnit(ctx, usd, chainID)
}

// ConvertSmallestUnitToUSD converts native smallest units into USD.
func (e *Engine) ConvertSmallestUnitToUSD(ctx context.Context, amount *big.Int, chainID uint64) (decimal.Decimal, error) {
	return e.converter.SmallestUnitToUSD(ctx, amount, chainID)
}

// Chains lists the registered settlement chains.
func (e *Engine) Chains() []chains.Chain {
	return e.registry.All()
}
