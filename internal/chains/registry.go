package chains

import (
	"fmt"
	"sort"
)

// Chain describes one supported settlement chain.
type Chain struct {
	ID                  uint64
	Name                string
	Symbol              string
	CoinGeckoID         string
	CoinPaprikaID       string
	Decimals            int32
	RPCURL              string
	EscrowAddress       string
	SubscriptionAddress string
}

// Hedera chain ids. The Hedera JSON-RPC relay rescales the transaction value
// from 18 to 8 decimals on its own but leaves call arguments untouched, so
// amounts destined for function arguments use 8 decimals while the attached
// value uses 18.
const (
	HederaMainnetID uint64 = 295
	HederaTestnetID uint64 = 296

	hederaContractDecimals int32 = 8
	hederaValueDecimals    int32 = 18
)

// IsDualDecimal reports whether chainID belongs to the Hedera family that
// needs the split 8/18 decimal scaling.
func IsDualDecimal(chainID uint64) bool {
	return chainID == HederaMainnetID || chainID == HederaTestnetID
}

// Registry resolves chain metadata by id. Immutable after construction.
type Registry struct {
	byID map[uint64]Chain
}

// NewRegistry builds a registry from configured chains layered over the
// built-in defaults: a configured chain with a known id replaces the default.
func NewRegistry(configured []Chain) *Registry {
	byID := make(map[uint64]Chain, len(defaultChains)+len(configured))
	for _, c := range defaultChains {
		byID[c.ID] = c
	}
	for _, c := range configured {
		if existing, ok := byID[c.ID]; ok {
			byID[c.ID] = mergeChain(existing, c)
		} else {
			byID[c.ID] = c
		}
	}
	return &Registry{byID: byID}
}

// Chain looks up a chain by id.
func (r *Registry) Chain(chainID uint64) (Chain, error) {
	c, ok := r.byID[chainID]
	if !ok {
		return Chain{}, fmt.Errorf("unsupported chain id %d", chainID)
	}
	return c, nil
}

// All returns every registered chain ordered by id.
func (r *Registry) All() []Chain {
	out := make([]Chain, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func mergeChain(base, override Chain) Chain {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Symbol != "" {
		base.Symbol = override.Symbol
	}
	if override.CoinGeckoID != "" {
		base.CoinGeckoID = override.CoinGeckoID
	}
	if override.CoinPaprikaID != "" {
		base.CoinPaprikaID = override.CoinPaprikaID
	}
	if override.Decimals > 0 {
		base.Decimals = override.Decimals
	}
	if override.RPCURL != "" {
		base.RPCURL = override.RPCURL
	}
	if override.EscrowAddress != "" {
		base.EscrowAddress = override.EscrowAddress
	}
	if override.SubscriptionAddress != "" {
		base.SubscriptionAddress = override.SubscriptionAddress
	}
	return base
}

var defaultChains = []Chain{
	{ID: 1, Name: "Ethereum", Symbol: "ETH", CoinGeckoID: "ethereum", CoinPaprikaID: "eth-ethereum", Decimals: 18},
	{ID: 56, Name: "BNB Smart Chain", Symbol: "BNB", CoinGeckoID: "binancecoin", CoinPaprikaID: "bnb-binance-coin", Decimals: 18},
	{ID: 137, Name: "Polygon", Symbol: "POL", CoinGeckoID: "polygon-ecosystem-token", CoinPaprikaID: "pol-polygon-ecosystem-token", Decimals: 18},
	{ID: 43114, Name: "Avalanche", Symbol: "AVAX", CoinGeckoID: "avalanche-2", CoinPaprikaID: "avax-avalanche", Decimals: 18},
	{ID: HederaMainnetID, Name: "Hedera", Symbol: "HBAR", CoinGeckoID: "hedera-hashgraph", CoinPaprikaID: "hbar-hedera-hashgraph", Decimals: 18},
	{ID: HederaTestnetID, Name: "Hedera Testnet", Symbol: "HBAR", CoinGeckoID: "hedera-hashgraph", CoinPaprikaID: "hbar-hedera-hashgraph", Decimals: 18},
}
