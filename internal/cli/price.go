package cli

import (
	"github.com/spf13/cobra"

	"escrow-engine/internal/app"
)

var (
	priceSymbol        string
	priceCoinGeckoID   string
	priceCoinPaprikaID string
	priceChainID       uint64
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Resolve a USD price through the provider fallback chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PriceOptions{
			Symbol:        priceSymbol,
			CoinGeckoID:   priceCoinGeckoID,
			CoinPaprikaID: priceCoinPaprikaID,
			ChainID:       priceChainID,
		}
		return getApp().Price(cmd.Context(), opts)
	},
}

func init() {
	priceCmd.Flags().StringVar(&priceSymbol, "symbol", "", "Ticker symbol (e.g. ETH)")
	priceCmd.Flags().StringVar(&priceCoinGeckoID, "coingecko-id", "", "CoinGecko canonical id (e.g. ethereum)")
	priceCmd.Flags().StringVar(&priceCoinPaprikaID, "coinpaprika-id", "", "CoinPaprika coin id (e.g. eth-ethereum)")
	priceCmd.Flags().Uint64Var(&priceChainID, "chain", 0, "Resolve the native currency price of this chain id instead")
}
