package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"escrow-engine/internal/app"
)

var (
	feeUser      string
	feeAmount    string
	feeChainID   uint64
	feeClientFee string
)

var feeCmd = &cobra.Command{
	Use:   "fee",
	Short: "Compute the authoritative fee split for a user and amount",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseFeeOptions()
		if err != nil {
			return err
		}
		return getApp().Fee(cmd.Context(), opts)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a client-submitted fee against the authoritative one",
	RunE: func(cmd *cobra.Command, args []string) error {
		if feeClientFee == "" {
			return fmt.Errorf("--client-fee is required")
		}
		opts, err := parseFeeOptions()
		if err != nil {
			return err
		}
		return getApp().Fee(cmd.Context(), opts)
	},
}

func parseFeeOptions() (app.FeeOptions, error) {
	if feeUser == "" {
		return app.FeeOptions{}, fmt.Errorf("--user is required")
	}
	if feeChainID == 0 {
		return app.FeeOptions{}, fmt.Errorf("--chain is required")
	}

	amount, err := decimal.NewFromString(feeAmount)
	if err != nil {
		return app.FeeOptions{}, fmt.Errorf("invalid --amount value: %w", err)
	}

	opts := app.FeeOptions{
		UserAddress: feeUser,
		Amount:      amount,
		ChainID:     feeChainID,
	}

	if feeClientFee != "" {
		clientFee, err := decimal.NewFromString(feeClientFee)
		if err != nil {
			return app.FeeOptions{}, fmt.Errorf("invalid --client-fee value: %w", err)
		}
		opts.ClientFee = &clientFee
	}
	return opts, nil
}

func init() {
	for _, cmd := range []*cobra.Command{feeCmd, validateCmd} {
		cmd.Flags().StringVar(&feeUser, "user", "", "User address (hex)")
		cmd.Flags().StringVar(&feeAmount, "amount", "0", "Trade amount in native decimal units")
		cmd.Flags().Uint64Var(&feeChainID, "chain", 0, "Chain id")
	}
	validateCmd.Flags().StringVar(&feeClientFee, "client-fee", "", "Client-submitted fee amount")
}
