package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"escrow-engine/internal/alerting"
	"escrow-engine/internal/chains"
	"escrow-engine/internal/config"
	"escrow-engine/internal/contracts"
	"escrow-engine/internal/fees"
	"escrow-engine/internal/pricing"
	"escrow-engine/internal/providers"
	"escrow-engine/internal/retry"
	"escrow-engine/internal/scheduler"
	"escrow-engine/internal/service"
	"escrow-engine/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	health *pricing.HealthRegistry
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		health: pricing.NewHealthRegistry(),
	}
}

func (a *App) newRegistry() *chains.Registry {
	configured := make([]chains.Chain, 0, len(a.Config.Chains))
	for _, c := range a.Config.Chains {
		configured = append(configured, chains.Chain{
			ID:                  c.ID,
			Name:                c.Name,
			Symbol:              c.Symbol,
			CoinGeckoID:         c.CoinGeckoID,
			CoinPaprikaID:       c.CoinPaprikaID,
			Decimals:            c.Decimals,
			RPCURL:              c.RPCURL,
			EscrowAddress:       c.EscrowAddress,
			SubscriptionAddress: c.SubscriptionAddress,
		})
	}
	return chains.NewRegistry(configured)
}

// newAdapters builds the enabled provider adapters in fixed fallback order:
// primary aggregator, the three exchange tickers, then the secondary
// aggregator.
func (a *App) newAdapters() []providers.Adapter {
	build := func(cfg config.ProviderConfig, construct func(providers.Options, zerolog.Logger) providers.Adapter) providers.Adapter {
		if !cfg.Enabled {
			return nil
		}
		return construct(providers.Options{
			BaseURL:         cfg.BaseURL,
			APIKey:          cfg.APIKey,
			Timeout:         cfg.RequestTimeout,
			RateLimitPerMin: cfg.RateLimitPerMin,
			Policy: retry.Policy{
				MaxRetries:        cfg.MaxRetries,
				MinDelay:          cfg.MinDelay,
				MaxDelay:          cfg.MaxDelay,
				BackoffMultiplier: cfg.BackoffMultiplier,
			},
		}, a.Logger)
	}

	candidates := []providers.Adapter{
		build(a.Config.Pricing.CoinGecko, func(o providers.Options, l zerolog.Logger) providers.Adapter { return providers.NewCoinGecko(o, l) }),
		build(a.Config.Pricing.Binance, func(o providers.Options, l zerolog.Logger) providers.Adapter { return providers.NewBinance(o, l) }),
		build(a.Config.Pricing.Coinbase, func(o providers.Options, l zerolog.Logger) providers.Adapter { return providers.NewCoinbase(o, l) }),
		build(a.Config.Pricing.Kraken, func(o providers.Options, l zerolog.Logger) providers.Adapter { return providers.NewKraken(o, l) }),
		build(a.Config.Pricing.CoinPaprika, func(o providers.Options, l zerolog.Logger) providers.Adapter { return providers.NewCoinPaprika(o, l) }),
	}

	adapters := make([]providers.Adapter, 0, len(candidates))
	for _, adapter := range candidates {
		if adapter != nil {
			adapters = append(adapters, adapter)
		}
	}
	return adapters
}

func (a *App) newResolver() *pricing.Engine {
	return pricing.NewEngine(a.newAdapters(), a.health, a.Logger)
}

// newCache picks the cache implementation: shared memoisation for long-lived
// processes, direct passthrough for one-shot command invocations.
func (a *App) newCache(oneShot bool) pricing.Cache {
	resolver := a.newResolver()
	if oneShot || !a.Config.Pricing.CacheEnabled {
		return pricing.NewNoopCache(resolver)
	}
	return pricing.NewMemoryCache(resolver, a.Config.Pricing.CacheWindow, a.Logger)
}

// newEngine builds the full settlement engine. audits may be nil.
func (a *App) newEngine(oneShot bool, audits fees.AuditStore) (*service.Engine, *contracts.EthReader) {
	registry := a.newRegistry()
	cache := a.newCache(oneShot)
	converter := chains.NewConverter(registry, cache)

	reader := contracts.NewEthReader(contracts.Options{
		Timeout: a.Config.Contracts.RequestTimeout,
	}, registry, a.Logger)

	feeService := fees.NewService(reader, audits, a.Logger)
	engine := service.NewEngine(registry, cache, converter, feeService, a.Config.Fees.StrictAdditiveTotal, a.Logger)
	return engine, reader
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running price monitor.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Sampler.Interval,
		AlignToBucket: a.Config.Sampler.AlignToBucket,
		StartupDelay:  a.Config.Sampler.StartupDelay,
	}, a.Logger)

	registry := a.newRegistry()
	resolver := a.newResolver()
	notifier := a.newNotifier()

	var sampleStore storage.PriceSampleStore
	if store != nil {
		sampleStore = store
	}

	monitor := service.NewMonitor(a.Config, sched, registry, resolver, a.health, sampleStore, notifier, a.Logger)

	a.Logger.Info().Msg("starting price monitor")
	err = monitor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("price monitor stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	ChainID   uint64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Audits bool
}
