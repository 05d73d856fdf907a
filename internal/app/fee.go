package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"escrow-engine/internal/fees"
	"escrow-engine/internal/storage"
)

// FeeOptions configure the fee and validate commands.
type FeeOptions struct {
	UserAddress string
	Amount      decimal.Decimal
	ChainID     uint64
	ClientFee   *decimal.Decimal
}

// Fee computes the authoritative fee split for a user and amount, or, when a
// client fee is supplied, validates it against the authoritative value.
func (a *App) Fee(ctx context.Context, opts FeeOptions) error {
	if !common.IsHexAddress(opts.UserAddress) {
		return fmt.Errorf("invalid user address: %s", opts.UserAddress)
	}
	user := common.HexToAddress(opts.UserAddress)

	var audits fees.AuditStore
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store != nil {
		audits = store
	}

	engine, reader := a.newEngine(true, audits)
	defer reader.Close()

	if opts.ClientFee != nil {
		result, err := engine.ValidateClientFee(ctx, user, opts.Amount, opts.ChainID, *opts.ClientFee)
		if err != nil {
			return describeFeeError(err)
		}
		if result.IsValid {
			fmt.Fprintln(os.Stdout, "client fee accepted")
		} else {
			fmt.Fprintf(os.Stdout, "client fee rejected; authoritative fee is %s\n", result.CorrectFee.String())
		}
		return nil
	}

	calc, err := engine.CalculateUserFee(ctx, user, opts.Amount, opts.ChainID)
	if err != nil {
		return describeFeeError(err)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fee %\tFee Amount\tNet Amount")
	fmt.Fprintf(writer, "%s\t%s\t%s\n", calc.FeePercentage.String(), calc.FeeAmount.String(), calc.NetAmount.String())
	writer.Flush()
	return nil
}

// describeFeeError keeps the "cannot verify" distinction visible to operators.
func describeFeeError(err error) error {
	var unavailable *fees.FeeUnavailableError
	if errors.As(err, &unavailable) {
		return fmt.Errorf("settlement blocked, fee tier cannot be verified: %w", err)
	}
	return err
}

var _ fees.AuditStore = (*storage.Store)(nil)
