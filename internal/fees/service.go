package fees

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"escrow-engine/internal/contracts"
)

// relativeTolerance is the allowed relative gap between a client-submitted
// fee and the authoritative one: 0.01%.
var relativeTolerance = decimal.NewFromFloat(0.0001)

var oneHundred = decimal.NewFromInt(100)

// FeeCalculation is the authoritative fee split for a trade amount.
type FeeCalculation struct {
	FeePercentage decimal.Decimal
	FeeAmount     decimal.Decimal
	NetAmount     decimal.Decimal
	FeeBps        int64
}

// Validation is the structured outcome of checking a client-submitted fee.
// A mismatch is data, not an error: the caller shows CorrectFee to the user.
type Validation struct {
	IsValid    bool
	CorrectFee decimal.Decimal
}

// FeeUnavailableError wraps contract or RPC failures during tier resolution so
// callers can tell "user has no subscription" (tier 0) from "cannot verify the
// subscription" (block settlement).
type FeeUnavailableError struct {
	ChainID uint64
	Err     error
}

func (e *FeeUnavailableError) Error() string {
	return fmt.Sprintf("fee tier unavailable on chain %d: %v", e.ChainID, e.Err)
}

func (e *FeeUnavailableError) Unwrap() error { return e.Err }

// AuditRecord captures one fee validation for the audit trail.
type AuditRecord struct {
	User             string
	ChainID          uint64
	Amount           decimal.Decimal
	ClientFee        decimal.Decimal
	AuthoritativeFee decimal.Decimal
	Valid            bool
	CreatedAt        time.Time
}

// AuditStore persists fee validation outcomes. Optional; a nil store disables
// auditing.
type AuditStore interface {
	InsertFeeAudit(ctx context.Context, record AuditRecord) error
}

// Service computes server-side fees from on-chain subscription state.
type Service struct {
	reader contracts.Reader
	audits AuditStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewService constructs the fee service. audits may be nil.
func NewService(reader contracts.Reader, audits AuditStore, logger zerolog.Logger) *Service {
	return &Service{
		reader: reader,
		audits: audits,
		logger: logger.With().Str("component", "fee_service").Logger(),
		now:    time.Now,
	}
}

// CalculateUserFee resolves a user's fee tier from their subscription and
// applies it to the trade amount.
func (s *Service) CalculateUserFee(ctx context.Context, user common.Address, amount decimal.Decimal, chainID uint64) (FeeCalculation, error) {
	if amount.Sign() < 0 {
		return FeeCalculation{}, fmt.Errorf("amount must not be negative, got %s", amount)
	}

	bps, err := s.reader.FeeTierBasisPoints(ctx, user, chainID)
	if err != nil {
		return FeeCalculation{}, &FeeUnavailableError{ChainID: chainID, Err: err}
	}
	if bps < 0 || bps > 10000 {
		return FeeCalculation{}, fmt.Errorf("fee tier out of range: %d bps", bps)
	}

	pct := decimal.NewFromInt(bps).Div(oneHundred)
	fee := amount.Mul(pct).Div(oneHundred)

	return FeeCalculation{
		FeePercentage: pct,
		FeeAmount:     fee,
		NetAmount:     amount.Sub(fee),
		FeeBps:        bps,
	}, nil
}

// ValidateClientFee recomputes the authoritative fee and compares the
// client-submitted one against it within the relative tolerance.
func (s *Service) ValidateClientFee(ctx context.Context, user common.Address, amount decimal.Decimal, chainID uint64, clientFee decimal.Decimal) (Validation, error) {
	calc, err := s.CalculateUserFee(ctx, user, amount, chainID)
	if err != nil {
		return Validation{}, err
	}

	result := Validation{
		IsValid:    withinTolerance(calc.FeeAmount, clientFee),
		CorrectFee: calc.FeeAmount,
	}

	if !result.IsValid {
		s.logger.Warn().
			Str("user", user.Hex()).
			Uint64("chain_id", chainID).
			Str("client_fee", clientFee.String()).
			Str("authoritative_fee", calc.FeeAmount.String()).
			Msg("client fee outside tolerance")
	}

	if s.audits != nil {
		record := AuditRecord{
			User:             user.Hex(),
			ChainID:          chainID,
			Amount:           amount,
			ClientFee:        clientFee,
			AuthoritativeFee: calc.FeeAmount,
			Valid:            result.IsValid,
			CreatedAt:        s.now().UTC(),
		}
		if err := s.audits.InsertFeeAudit(ctx, record); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist fee audit")
		}
	}

	return result, nil
}

// withinTolerance checks |authoritative-client| / authoritative <= tolerance.
// A zero authoritative fee degenerates to an equality check.
func withinTolerance(authoritative, client decimal.Decimal) bool {
	if authoritative.IsZero() {
		return client.IsZero()
	}
	diff := authoritative.Sub(client).Abs()
	return diff.Div(authoritative.Abs()).LessThanOrEqual(relativeTolerance)
}
