package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"escrow-engine/internal/alerting"
	"escrow-engine/internal/chains"
	"escrow-engine/internal/config"
	"escrow-engine/internal/pricing"
	"escrow-engine/internal/providers"
	"escrow-engine/internal/scheduler"
	"escrow-engine/internal/storage"
)

// Monitor samples every configured chain's native price on a schedule,
// persists the observations, and alerts on pricing outages.
type Monitor struct {
	scheduler *scheduler.Scheduler
	registry  *chains.Registry
	resolver  pricing.Resolver
	health    *pricing.HealthRegistry
	store     storage.PriceSampleStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	channels []string
	alertsOn bool
	cooldown time.Duration
	locker   storage.AdvisoryLocker
	lockKey  int64

	mu         sync.Mutex
	lastAlerts map[string]time.Time
}

// NewMonitor constructs the sampling monitor. store, notifier, and locker may
// be nil; the corresponding behaviour is skipped.
func NewMonitor(cfg *config.Config, sched *scheduler.Scheduler, registry *chains.Registry, resolver pricing.Resolver, health *pricing.HealthRegistry, store storage.PriceSampleStore, notifier alerting.Notifier, logger zerolog.Logger) *Monitor {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Monitor{
		scheduler:  sched,
		registry:   registry,
		resolver:   resolver,
		health:     health,
		store:      store,
		notifier:   notifier,
		logger:     logger.With().Str("component", "monitor").Logger(),
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		cooldown:   cfg.Alerting.Cooldown,
		locker:     locker,
		lockKey:    cfg.Sampler.AdvisoryLockKey,
		lastAlerts: make(map[string]time.Time),
	}
}

// Run begins the aligned sampling loop.
func (m *Monitor) Run(ctx context.Context) error {
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return m.scheduler.Run(ctx, m.ProcessBucket)
}

// ProcessBucket samples every chain for one time bucket.
func (m *Monitor) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	for _, chain := range m.registry.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.sampleChain(ctx, bucket, chain)
	}

	m.reportUnhealthyProviders(ctx, bucket)
	return nil
}

func (m *Monitor) sampleChain(ctx context.Context, bucket time.Time, chain chains.Chain) {
	result, err := m.resolver.Resolve(ctx, providers.Query{
		Symbol:        chain.Symbol,
		CoinGeckoID:   chain.CoinGeckoID,
		CoinPaprikaID: chain.CoinPaprikaID,
	})
	if err != nil {
		m.logger.Error().Err(err).Uint64("chain_id", chain.ID).Msg("sampling aborted")
		return
	}

	sample := storage.PriceSample{
		Bucket:    bucket,
		ChainID:   chain.ID,
		Symbol:    chain.Symbol,
		Status:    "complete",
		CreatedAt: time.Now().UTC(),
	}

	if result == nil {
		msg := "all providers exhausted"
		sample.Status = "errored"
		sample.Error = &msg
		m.logger.Warn().Uint64("chain_id", chain.ID).Str("symbol", chain.Symbol).Msg("no price resolved for bucket")
		m.alertOutage(ctx, bucket, chain)
	} else {
		sample.PriceUSD = result.Price
		sample.Provider = result.Provider
		m.logger.Info().Time("bucket", bucket).
			Uint64("chain_id", chain.ID).
			Str("symbol", chain.Symbol).
			Str("provider", result.Provider).
			Str("price_usd", result.Price.String()).
			Msg("sample recorded")
	}

	if m.store != nil {
		if err := m.store.UpsertPriceSample(ctx, sample); err != nil {
			m.logger.Error().Err(err).Time("bucket", bucket).Uint64("chain_id", chain.ID).Msg("failed to upsert sample")
		}
	}
}

func (m *Monitor) alertOutage(ctx context.Context, bucket time.Time, chain chains.Chain) {
	if !m.alertsOn || m.notifier == nil {
		return
	}
	key := fmt.Sprintf("outage:%d", chain.ID)
	if !m.shouldAlert(key) {
		return
	}

	note := alerting.Notification{
		Bucket:   bucket,
		ChainID:  chain.ID,
		Symbol:   chain.Symbol,
		Kind:     alerting.KindPriceUnavailable,
		Channels: m.channels,
	}
	if err := m.notifier.Notify(ctx, note); err != nil {
		m.logger.Error().Err(err).Uint64("chain_id", chain.ID).Msg("failed to dispatch outage alert")
	}
}

func (m *Monitor) reportUnhealthyProviders(ctx context.Context, bucket time.Time) {
	if m.health == nil {
		return
	}
	for _, h := range m.health.Snapshot() {
		if h.Healthy {
			continue
		}
		m.logger.Warn().Str("provider", h.Provider).Int("consecutive_fails", h.ConsecutiveFails).Msg("provider unhealthy")

		if !m.alertsOn || m.notifier == nil {
			continue
		}
		key := "provider:" + h.Provider
		if !m.shouldAlert(key) {
			continue
		}
		note := alerting.Notification{
			Bucket:      bucket,
			Kind:        alerting.KindProviderUnhealthy,
			Provider:    h.Provider,
			FailedSince: h.LastSuccess,
			Channels:    m.channels,
		}
		if err := m.notifier.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("provider", h.Provider).Msg("failed to dispatch provider alert")
		}
	}
}

// shouldAlert enforces the per-key cooldown.
func (m *Monitor) shouldAlert(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if last, ok := m.lastAlerts[key]; ok && m.cooldown > 0 && now.Sub(last) < m.cooldown {
		return false
	}
	m.lastAlerts[key] = now
	return true
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
