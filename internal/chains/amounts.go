package chains

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// AmountPair carries the same logical amount in its two on-chain encodings:
// the integer passed as a function argument and the integer attached as the
// transaction value. Equal everywhere except the Hedera family.
type AmountPair struct {
	ContractAmount   *big.Int
	TransactionValue *big.Int
}

// EscrowBreakdown splits a settlement into base, fee, and total.
type EscrowBreakdown struct {
	BaseAmount  AmountPair
	FeeAmount   AmountPair
	TotalAmount AmountPair
}

// ToSmallestUnit scales a human-readable decimal amount to the chain's
// integer smallest unit. Fractional digits beyond the scale are truncated.
func ToSmallestUnit(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromSmallestUnit converts an integer smallest-unit amount back to its
// human-readable decimal form.
func FromSmallestUnit(amount *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -decimals)
}

// ChainAmounts scales a human-readable amount into the pair of encodings the
// chain expects. For the Hedera family contract arguments use 8 decimals and
// the transaction value 18; everywhere else both use the chain's native
// decimals.
func (r *Registry) ChainAmounts(amount decimal.Decimal, chainID uint64) (AmountPair, error) {
	chain, err := r.Chain(chainID)
	if err != nil {
		return AmountPair{}, err
	}
	if amount.Sign() < 0 {
		return AmountPair{}, fmt.Errorf("amount must not be negative, got %s", amount)
	}

	if IsDualDecimal(chainID) {
		return AmountPair{
			ContractAmount:   ToSmallestUnit(amount, hederaContractDecimals),
			TransactionValue: ToSmallestUnit(amount, hederaValueDecimals),
		}, nil
	}

	smallest := ToSmallestUnit(amount, chain.Decimals)
	return AmountPair{
		ContractAmount:   smallest,
		TransactionValue: new(big.Int).Set(smallest),
	}, nil
}

// EscrowAmounts computes base, fee, and total for a settlement. Fee and total
// are derived in decimal form first (fee = base * feePct / 100) and each part
// is rescaled through ChainAmounts on its own.
//
// With strictAdditive false, total is the independently rescaled decimal sum,
// which can drift from contract-level base+fee by one smallest unit. With
// strictAdditive true, total is the integer sum of the rescaled base and fee.
func (r *Registry) EscrowAmounts(base decimal.Decimal, feePct decimal.Decimal, chainID uint64, strictAdditive bool) (EscrowBreakdown, error) {
	if base.Sign() < 0 {
		return EscrowBreakdown{}, fmt.Errorf("base amount must not be negative, got %s", base)
	}
	if feePct.Sign() < 0 {
		return EscrowBreakdown{}, fmt.Errorf("fee percentage must not be negative, got %s", feePct)
	}

	fee := base.Mul(feePct).Div(decimal.NewFromInt(100))
	total := base.Add(fee)

	basePair, err := r.ChainAmounts(base, chainID)
	if err != nil {
		return EscrowBreakdown{}, err
	}
	feePair, err := r.ChainAmounts(fee, chainID)
	if err != nil {
		return EscrowBreakdown{}, err
	}

	var totalPair AmountPair
	if strictAdditive {
		totalPair = AmountPair{
			ContractAmount:   new(big.Int).Add(basePair.ContractAmount, feePair.ContractAmount),
			TransactionValue: new(big.Int).Add(basePair.TransactionValue, feePair.TransactionValue),
		}
	} else {
		totalPair, err = r.ChainAmounts(total, chainID)
		if err != nil {
			return EscrowBreakdown{}, err
		}
	}

	return EscrowBreakdown{BaseAmount: basePair, FeeAmount: feePair, TotalAmount: totalPair}, nil
}
