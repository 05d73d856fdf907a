package cli

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"escrow-engine/internal/app"
)

var (
	convertChainID uint64
	convertUSD     string
	convertUnits   string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert between USD and a chain's native smallest units",
	RunE: func(cmd *cobra.Command, args []string) error {
		if convertChainID == 0 {
			return fmt.Errorf("--chain is required")
		}

		opts := app.ConvertOptions{ChainID: convertChainID}

		if convertUSD != "" {
			usd, err := decimal.NewFromString(convertUSD)
			if err != nil {
				return fmt.Errorf("invalid --usd value: %w", err)
			}
			opts.USDAmount = &usd
		}
		if convertUnits != "" {
			units, ok := new(big.Int).SetString(convertUnits, 10)
			if !ok {
				return fmt.Errorf("invalid --units value: %s", convertUnits)
			}
			opts.SmallestUnits = units
		}

		return getApp().Convert(cmd.Context(), opts)
	},
}

var (
	amountsChainID uint64
	amountsAmount  string
	amountsFeePct  string
)

var amountsCmd = &cobra.Command{
	Use:   "amounts",
	Short: "Show the escrow base/fee/total split in both on-chain encodings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if amountsChainID == 0 {
			return fmt.Errorf("--chain is required")
		}

		amount, err := decimal.NewFromString(amountsAmount)
		if err != nil {
			return fmt.Errorf("invalid --amount value: %w", err)
		}
		feePct, err := decimal.NewFromString(amountsFeePct)
		if err != nil {
			return fmt.Errorf("invalid --fee-pct value: %w", err)
		}

		return getApp().Amounts(cmd.Context(), app.AmountsOptions{
			ChainID: amountsChainID,
			Amount:  amount,
			FeePct:  feePct,
		})
	},
}

func init() {
	convertCmd.Flags().Uint64Var(&convertChainID, "chain", 0, "Chain id")
	convertCmd.Flags().StringVar(&convertUSD, "usd", "", "USD amount to convert to smallest units")
	convertCmd.Flags().StringVar(&convertUnits, "units", "", "Smallest-unit amount to convert to USD")

	amountsCmd.Flags().Uint64Var(&amountsChainID, "chain", 0, "Chain id")
	amountsCmd.Flags().StringVar(&amountsAmount, "amount", "0", "Base amount in native decimal units")
	amountsCmd.Flags().StringVar(&amountsFeePct, "fee-pct", "0", "Fee percentage (e.g. 2.5)")
}
