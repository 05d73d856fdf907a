package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"escrow-engine/internal/providers"
)

// PriceOptions configure a one-shot price lookup.
type PriceOptions struct {
	Symbol        string
	CoinGeckoID   string
	CoinPaprikaID string
	ChainID       uint64
}

// Price performs a one-shot price lookup and prints the result. One-shot
// invocations bypass the shared cache: there is no process to share it with.
func (a *App) Price(ctx context.Context, opts PriceOptions) error {
	engine, reader := a.newEngine(true, nil)
	defer reader.Close()

	var q providers.Query
	if opts.ChainID != 0 {
		result, err := engine.NativePrice(ctx, opts.ChainID)
		if err != nil {
			return err
		}
		printPrice(result.Provider, result.Price.String(), result.FetchedAt)
		return nil
	}

	q = providers.Query{
		Symbol:        strings.ToUpper(opts.Symbol),
		CoinGeckoID:   opts.CoinGeckoID,
		CoinPaprikaID: opts.CoinPaprikaID,
	}
	if q.Symbol == "" && q.CoinGeckoID == "" {
		return fmt.Errorf("either --symbol or --coingecko-id is required")
	}

	result, err := engine.Price(ctx, q)
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Fprintln(os.Stdout, "price unavailable: all providers exhausted")
		return nil
	}

	printPrice(result.Provider, result.Price.String(), result.FetchedAt)
	return nil
}

func printPrice(provider, price string, fetchedAt time.Time) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Price (USD)\tProvider\tFetched")
	fmt.Fprintf(writer, "%s\t%s\t%s\n", price, provider, fetchedAt.UTC().Format(time.RFC3339))
	writer.Flush()
}
