package app

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"escrow-engine/internal/chains"
)

// ConvertOptions configure the convert command.
type ConvertOptions struct {
	ChainID       uint64
	USDAmount     *decimal.Decimal
	SmallestUnits *big.Int
}

// Convert translates between USD and a chain's native smallest units at the
// current oracle price.
func (a *App) Convert(ctx context.Context, opts ConvertOptions) error {
	if (opts.USDAmount == nil) == (opts.SmallestUnits == nil) {
		return fmt.Errorf("exactly one of --usd or --units is required")
	}

	engine, reader := a.newEngine(true, nil)
	defer reader.Close()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	if opts.USDAmount != nil {
		units, err := engine.ConvertUSDToSmallestUnit(ctx, *opts.USDAmount, opts.ChainID)
		if err != nil {
			return err
		}
		fmt.Fprintln(writer, "USD\tSmallest Units")
		fmt.Fprintf(writer, "%s\t%s\n", opts.USDAmount.String(), units.String())
		return nil
	}

	usd, err := engine.ConvertSmallestUnitToUSD(ctx, opts.SmallestUnits, opts.ChainID)
	if err != nil {
		return err
	}
	fmt.Fprintln(writer, "Smallest Units\tUSD")
	fmt.Fprintf(writer, "%s\t%s\n", opts.SmallestUnits.String(), usd.String())
	return nil
}

// AmountsOptions configure the amounts command.
type AmountsOptions struct {
	ChainID uint64
	Amount  decimal.Decimal
	FeePct  decimal.Decimal
}

// Amounts prints the escrow settlement split for an amount and fee
// percentage in both on-chain encodings.
func (a *App) Amounts(_ context.Context, opts AmountsOptions) error {
	engine, reader := a.newEngine(true, nil)
	defer reader.Close()

	breakdown, err := engine.EscrowAmounts(opts.Amount, opts.FeePct, opts.ChainID)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Part\tContract Amount\tTransaction Value")
	printPair(writer, "base", breakdown.BaseAmount)
	printPair(writer, "fee", breakdown.FeeAmount)
	printPair(writer, "total", breakdown.TotalAmount)
	writer.Flush()
	return nil
}

func printPair(w io.Writer, label string, pair chains.AmountPair) {
	fmt.Fprintf(w, "%s\t%s\t%s\n", label, pair.ContractAmount.String(), pair.TransactionValue.String())
}
