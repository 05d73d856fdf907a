package app

import (
	"context"
	"errors"
	"time"

	"escrow-engine/internal/alerting"
)

// SimulateAlert pushes a synthetic pricing-outage notification through the
// configured channels, verifying alert routing without waiting for a real
// outage.
func (a *App) SimulateAlert(ctx context.Context, chainID uint64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	registry := a.newRegistry()
	chain, err := registry.Chain(chainID)
	if err != nil {
		return err
	}

	note := alerting.Notification{
		Bucket:        time.Now().UTC().Truncate(a.Config.Sampler.Interval),
		ChainID:       chain.ID,
		Symbol:        chain.Symbol,
		Kind:          alerting.KindPriceUnavailable,
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "simulated alert",
	}
	return notifier.Notify(ctx, note)
}
