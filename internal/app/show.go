package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"escrow-engine/internal/storage"
)

type feeAuditLister interface {
	ListRecentFeeAudits(ctx context.Context, limit int) ([]storage.FeeAudit, error)
}

// Show prints recent price samples, or the fee audit trail with Audits set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Audits {
		return a.showAudits(ctx, store, opts.Limit)
	}

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tChain\tSymbol\tPrice USD\tProvider\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			sample.Bucket.UTC().Format(time.RFC3339),
			sample.ChainID,
			sample.Symbol,
			sample.PriceUSD.StringFixed(4),
			sample.Provider,
			sample.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showAudits(ctx context.Context, store feeAuditLister, limit int) error {
	audits, err := store.ListRecentFeeAudits(ctx, limit)
	if err != nil {
		return err
	}
	if len(audits) == 0 {
		fmt.Fprintln(os.Stdout, "no fee audits found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tUser\tChain\tAmount\tClient Fee\tAuthoritative\tValid")

	for _, audit := range audits {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\t%t\n",
			audit.CreatedAt.UTC().Format(time.RFC3339),
			audit.UserAddress,
			audit.ChainID,
			audit.Amount.String(),
			audit.ClientFee.String(),
			audit.AuthoritativeFee.String(),
			audit.Valid,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
