package chains

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"escrow-engine/internal/pricing"
	"escrow-engine/internal/providers"
)

func mustRegistry() *Registry {
	return NewRegistry(nil)
}

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big.Int literal %q", s)
	}
	return v
}

func TestSmallestUnitRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("1234.56789")
	smallest := ToSmallestUnit(amount, 18)
	back := FromSmallestUnit(smallest, 18)
	if !back.Equal(amount) {
		t.Fatalf("round trip mismatch: %s != %s", back, amount)
	}
}

func TestToSmallestUnitTruncatesExcessPrecision(t *testing.T) {
	// 19 fractional digits at scale 18: the last digit is dropped, not rounded.
	amount := decimal.RequireFromString("1.1234567890123456789")
	got := ToSmallestUnit(amount, 18)
	want := bigFromString(t, "1123456789012345678")
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestChainAmountsEqualOnSingleDecimalChains(t *testing.T) {
	reg := mustRegistry()
	pair, err := reg.ChainAmounts(decimal.RequireFromString("2.5"), 1)
	if err != nil {
		t.Fatalf("ChainAmounts: %v", err)
	}
	if pair.ContractAmount.Cmp(pair.TransactionValue) != 0 {
		t.Fatalf("non-Hedera encodings must match: %s vs %s", pair.ContractAmount, pair.TransactionValue)
	}
	if want := bigFromString(t, "2500000000000000000"); pair.ContractAmount.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, pair.ContractAmount)
	}
}

func TestChainAmountsHederaDualDecimal(t *testing.T) {
	reg := mustRegistry()
	for _, chainID := range []uint64{HederaMainnetID, HederaTestnetID} {
		pair, err := reg.ChainAmounts(decimal.NewFromInt(10), chainID)
		if err != nil {
			t.Fatalf("ChainAmounts(%d): %v", chainID, err)
		}
		if want := bigFromString(t, "1000000000"); pair.ContractAmount.Cmp(want) != 0 {
			t.Fatalf("chain %d contract amount: expected %s, got %s", chainID, want, pair.ContractAmount)
		}
		if want := bigFromString(t, "10000000000000000000"); pair.TransactionValue.Cmp(want) != 0 {
			t.Fatalf("chain %d transaction value: expected %s, got %s", chainID, want, pair.TransactionValue)
		}

		// The value/argument ratio is exactly 10^10 for any positive amount.
		ratio := new(big.Int).Quo(pair.TransactionValue, pair.ContractAmount)
		if want := bigFromString(t, "10000000000"); ratio.Cmp(want) != 0 {
			t.Fatalf("chain %d ratio: expected %s, got %s", chainID, want, ratio)
		}
	}
}

func TestChainAmountsRejectsNegative(t *testing.T) {
	reg := mustRegistry()
	if _, err := reg.ChainAmounts(decimal.NewFromInt(-1), 1); err == nil {
		t.Fatal("negative amounts must be rejected")
	}
}

func TestChainAmountsUnknownChain(t *testing.T) {
	reg := mustRegistry()
	if _, err := reg.ChainAmounts(decimal.NewFromInt(1), 999999); err == nil {
		t.Fatal("unknown chain id must be rejected")
	}
}

func TestEscrowAmountsEthereum(t *testing.T) {
	reg := mustRegistry()
	breakdown, err := reg.EscrowAmounts(decimal.NewFromInt(100), decimal.RequireFromString("2.5"), 1, false)
	if err != nil {
		t.Fatalf("EscrowAmounts: %v", err)
	}
	if want := bigFromString(t, "100000000000000000000"); breakdown.BaseAmount.ContractAmount.Cmp(want) != 0 {
		t.Fatalf("base: expected %s, got %s", want, breakdown.BaseAmount.ContractAmount)
	}
	if want := bigFromString(t, "2500000000000000000"); breakdown.FeeAmount.ContractAmount.Cmp(want) != 0 {
		t.Fatalf("fee: expected %s, got %s", want, breakdown.FeeAmount.ContractAmount)
	}
	if want := bigFromString(t, "102500000000000000000"); breakdown.TotalAmount.ContractAmount.Cmp(want) != 0 {
		t.Fatalf("total: expected %s, got %s", want, breakdown.TotalAmount.ContractAmount)
	}
}

func TestEscrowAmountsHedera(t *testing.T) {
	reg := mustRegistry()
	breakdown, err := reg.EscrowAmounts(decimal.NewFromInt(10), decimal.NewFromInt(2), HederaMainnetID, false)
	if err != nil {
		t.Fatalf("EscrowAmounts: %v", err)
	}
	if want := bigFromString(t, "1000000000"); breakdown.BaseAmount.ContractAmount.Cmp(want) != 0 {
		t.Fatalf("base contract: expected %s, got %s", want, breakdown.BaseAmount.ContractAmount)
	}
	if want := bigFromString(t, "10000000000000000000"); breakdown.BaseAmount.TransactionValue.Cmp(want) != 0 {
		t.Fatalf("base value: expected %s, got %s", want, breakdown.BaseAmount.TransactionValue)
	}
	if want := bigFromString(t, "20000000"); breakdown.FeeAmount.ContractAmount.Cmp(want) != 0 {
		t.Fatalf("fee contract: expected %s, got %s", want, breakdown.FeeAmount.ContractAmount)
	}
	if want := bigFromString(t, "1020000000"); breakdown.TotalAmount.ContractAmount.Cmp(want) != 0 {
		t.Fatalf("total contract: expected %s, got %s", want, breakdown.TotalAmount.ContractAmount)
	}
}

func TestEscrowAmountsStrictAdditiveTotal(t *testing.T) {
	reg := mustRegistry()

	// A fee whose decimal expansion exceeds 8 Hedera contract decimals:
	// 0.1 * 0.033333333333 / 100 truncates independently per part.
	base := decimal.RequireFromString("0.100000000333333333")
	feePct := decimal.RequireFromString("2.5")

	strict, err := reg.EscrowAmounts(base, feePct, HederaMainnetID, true)
	if err != nil {
		t.Fatalf("EscrowAmounts strict: %v", err)
	}
	sum := new(big.Int).Add(strict.BaseAmount.ContractAmount, strict.FeeAmount.ContractAmount)
	if strict.TotalAmount.ContractAmount.Cmp(sum) != 0 {
		t.Fatalf("strict total must equal base+fee: %s vs %s", strict.TotalAmount.ContractAmount, sum)
	}

	sumValue := new(big.Int).Add(strict.BaseAmount.TransactionValue, strict.FeeAmount.TransactionValue)
	if strict.TotalAmount.TransactionValue.Cmp(sumValue) != 0 {
		t.Fatalf("strict value total must equal base+fee: %s vs %s", strict.TotalAmount.TransactionValue, sumValue)
	}
}

func TestEscrowAmountsZeroFee(t *testing.T) {
	reg := mustRegistry()
	breakdown, err := reg.EscrowAmounts(decimal.NewFromInt(50), decimal.Zero, 1, false)
	if err != nil {
		t.Fatalf("EscrowAmounts: %v", err)
	}
	if breakdown.FeeAmount.ContractAmount.Sign() != 0 {
		t.Fatalf("zero fee must produce zero fee amount, got %s", breakdown.FeeAmount.ContractAmount)
	}
	if breakdown.TotalAmount.ContractAmount.Cmp(breakdown.BaseAmount.ContractAmount) != 0 {
		t.Fatal("zero fee total must equal base")
	}
}

func TestRegistryConfiguredOverride(t *testing.T) {
	reg := NewRegistry([]Chain{{ID: 1, RPCURL: "https://rpc.example"}})
	chain, err := reg.Chain(1)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if chain.RPCURL != "https://rpc.example" {
		t.Fatalf("override not applied: %q", chain.RPCURL)
	}
	if chain.Symbol != "ETH" {
		t.Fatalf("defaults must survive a partial override, got %q", chain.Symbol)
	}
}

type fixedPriceCache struct {
	result *pricing.PriceResult
	err    error
}

func (c fixedPriceCache) Price(ctx context.Context, q providers.Query) (*pricing.PriceResult, error) {
	return c.result, c.err
}

func TestUSDToSmallestUnit(t *testing.T) {
	conv := NewConverter(mustRegistry(), fixedPriceCache{
		result: &pricing.PriceResult{Price: decimal.NewFromInt(2000), Provider: "coingecko"},
	})

	got, err := conv.USDToSmallestUnit(context.Background(), decimal.NewFromInt(100), 1)
	if err != nil {
		t.Fatalf("USDToSmallestUnit: %v", err)
	}
	// 100 USD at 2000 USD/ETH is 0.05 ETH.
	if want := bigFromString(t, "50000000000000000"); got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestUSDToSmallestUnitZeroSkipsLookup(t *testing.T) {
	conv := NewConverter(mustRegistry(), fixedPriceCache{err: errors.New("must not be called")})
	got, err := conv.USDToSmallestUnit(context.Background(), decimal.Zero, 1)
	if err != nil {
		t.Fatalf("zero conversion must not hit the cache: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestSmallestUnitToUSD(t *testing.T) {
	conv := NewConverter(mustRegistry(), fixedPriceCache{
		result: &pricing.PriceResult{Price: decimal.NewFromInt(2000)},
	})

	got, err := conv.SmallestUnitToUSD(context.Background(), bigFromString(t, "50000000000000000"), 1)
	if err != nil {
		t.Fatalf("SmallestUnitToUSD: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected 100 USD, got %s", got)
	}
}

func TestConversionFailsWhenPriceUnavailable(t *testing.T) {
	conv := NewConverter(mustRegistry(), fixedPriceCache{})
	if _, err := conv.USDToSmallestUnit(context.Background(), decimal.NewFromInt(1), 1); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
	if _, err := conv.SmallestUnitToUSD(context.Background(), big.NewInt(1), 1); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}
