package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type stubReader struct {
	bps int64
	err error
}

func (r stubReader) FeeTierBasisPoints(ctx context.Context, user common.Address, chainID uint64) (int64, error) {
	return r.bps, r.err
}

func (r stubReader) ContractAddress(name string, chainID uint64) (common.Address, bool) {
	return common.Address{}, false
}

type recordingAuditStore struct {
	records []AuditRecord
	err     error
}

func (s *recordingAuditStore) InsertFeeAudit(ctx context.Context, record AuditRecord) error {
	s.records = append(s.records, record)
	return s.err
}

var testUser = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestCalculateUserFee(t *testing.T) {
	// 250 bps = 2.5% of 1000 = 25.
	svc := NewService(stubReader{bps: 250}, nil, noopLogger())
	calc, err := svc.CalculateUserFee(context.Background(), testUser, decimal.NewFromInt(1000), 1)
	if err != nil {
		t.Fatalf("CalculateUserFee: %v", err)
	}
	if !calc.FeePercentage.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("fee percentage: expected 2.5, got %s", calc.FeePercentage)
	}
	if !calc.FeeAmount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("fee amount: expected 25, got %s", calc.FeeAmount)
	}
	if !calc.NetAmount.Equal(decimal.NewFromInt(975)) {
		t.Fatalf("net amount: expected 975, got %s", calc.NetAmount)
	}
	if calc.FeeBps != 250 {
		t.Fatalf("fee bps: expected 250, got %d", calc.FeeBps)
	}
}

func TestCalculateUserFeeZeroTier(t *testing.T) {
	svc := NewService(stubReader{bps: 0}, nil, noopLogger())
	calc, err := svc.CalculateUserFee(context.Background(), testUser, decimal.NewFromInt(1000), 1)
	if err != nil {
		t.Fatalf("a zero tier is a valid answer, got %v", err)
	}
	if !calc.FeeAmount.IsZero() {
		t.Fatalf("expected zero fee, got %s", calc.FeeAmount)
	}
	if !calc.NetAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected full net amount, got %s", calc.NetAmount)
	}
}

func TestCalculateUserFeeReaderFailure(t *testing.T) {
	svc := NewService(stubReader{err: errors.New("rpc down")}, nil, noopLogger())
	_, err := svc.CalculateUserFee(context.Background(), testUser, decimal.NewFromInt(1000), 296)

	var unavailable *FeeUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected FeeUnavailableError, got %v", err)
	}
	if unavailable.ChainID != 296 {
		t.Fatalf("expected chain 296 in error, got %d", unavailable.ChainID)
	}
}

func TestCalculateUserFeeRejectsOutOfRangeTier(t *testing.T) {
	svc := NewService(stubReader{bps: 10001}, nil, noopLogger())
	if _, err := svc.CalculateUserFee(context.Background(), testUser, decimal.NewFromInt(1), 1); err == nil {
		t.Fatal("tiers above 10000 bps must be rejected")
	}
}

func TestCalculateUserFeeRejectsNegativeAmount(t *testing.T) {
	svc := NewService(stubReader{bps: 250}, nil, noopLogger())
	if _, err := svc.CalculateUserFee(context.Background(), testUser, decimal.NewFromInt(-1), 1); err == nil {
		t.Fatal("negative amounts must be rejected")
	}
}

func TestValidateClientFeeExactMatch(t *testing.T) {
	svc := NewService(stubReader{bps: 250}, nil, noopLogger())
	v, err := svc.ValidateClientFee(context.Background(), testUser, decimal.NewFromInt(1000), 1, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("ValidateClientFee: %v", err)
	}
	if !v.IsValid {
		t.Fatal("exact fee must validate")
	}
	if !v.CorrectFee.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("correct fee: expected 25, got %s", v.CorrectFee)
	}
}

func TestValidateClientFeeWithinTolerance(t *testing.T) {
	// 25 * 0.01% = 0.0025 absolute tolerance.
	svc := NewService(stubReader{bps: 250}, nil, noopLogger())
	v, err := svc.ValidateClientFee(context.Background(), testUser, decimal.NewFromInt(1000), 1, decimal.RequireFromString("25.0025"))
	if err != nil {
		t.Fatalf("ValidateClientFee: %v", err)
	}
	if !v.IsValid {
		t.Fatal("a fee at exactly the tolerance boundary must validate")
	}
}

func TestValidateClientFeeOutsideTolerance(t *testing.T) {
	svc := NewService(stubReader{bps: 250}, nil, noopLogger())
	v, err := svc.ValidateClientFee(context.Background(), testUser, decimal.NewFromInt(1000), 1, decimal.RequireFromString("25.5"))
	if err != nil {
		t.Fatalf("a mismatch is data, not an error: %v", err)
	}
	if v.IsValid {
		t.Fatal("25.5 against an authoritative 25 must be rejected")
	}
	if !v.CorrectFee.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("correct fee: expected 25, got %s", v.CorrectFee)
	}
}

func TestValidateClientFeeZeroAuthoritative(t *testing.T) {
	svc := NewService(stubReader{bps: 0}, nil, noopLogger())

	v, err := svc.ValidateClientFee(context.Background(), testUser, decimal.NewFromInt(1000), 1, decimal.Zero)
	if err != nil || !v.IsValid {
		t.Fatalf("zero against zero must validate, got valid=%t err=%v", v.IsValid, err)
	}

	v, err = svc.ValidateClientFee(context.Background(), testUser, decimal.NewFromInt(1000), 1, decimal.RequireFromString("0.0001"))
	if err != nil {
		t.Fatalf("ValidateClientFee: %v", err)
	}
	if v.IsValid {
		t.Fatal("any non-zero fee against an authoritative zero must be rejected")
	}
}

func TestValidateClientFeePersistsAudit(t *testing.T) {
	store := &recordingAuditStore{}
	svc := NewService(stubReader{bps: 250}, store, noopLogger())

	if _, err := svc.ValidateClientFee(context.Background(), testUser, decimal.NewFromInt(1000), 1, decimal.RequireFromString("25.5")); err != nil {
		t.Fatalf("ValidateClientFee: %v", err)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(store.records))
	}
	record := store.records[0]
	if record.Valid {
		t.Fatal("audit record must carry the rejection")
	}
	if record.User != testUser.Hex() {
		t.Fatalf("audit user: got %q", record.User)
	}
	if !record.AuthoritativeFee.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("audit authoritative fee: got %s", record.AuthoritativeFee)
	}
}

func TestValidateClientFeeAuditFailureIsNonFatal(t *testing.T) {
	store := &recordingAuditStore{err: errors.New("db down")}
	svc := NewService(stubReader{bps: 250}, store, noopLogger())

	v, err := svc.ValidateClientFee(context.Background(), testUser, decimal.NewFromInt(1000), 1, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("audit persistence failures must not fail validation: %v", err)
	}
	if !v.IsValid {
		t.Fatal("validation outcome must be unaffected by audit errors")
	}
}
