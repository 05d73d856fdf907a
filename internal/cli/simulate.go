package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var simulateChainID uint64

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic pricing-outage alert through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateChainID == 0 {
			return errors.New("--chain is required")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateChainID)
	},
}

func init() {
	simulateCmd.Flags().Uint64Var(&simulateChainID, "chain", 0, "Chain id the simulated outage refers to")
}
