package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"escrow-engine/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Chains    []ChainConfig   `mapstructure:"chains"`
	Fees      FeesConfig      `mapstructure:"fees"`
	Contracts ContractsConfig `mapstructure:"contracts"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ProviderConfig parameterises one upstream price provider.
type ProviderConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Priority          int           `mapstructure:"priority"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	RateLimitPerMin   int           `mapstructure:"rate_limit_per_min"`
}

// PricingConfig governs the price oracle.
type PricingConfig struct {
	CacheWindow  time.Duration  `mapstructure:"cache_window"`
	CacheEnabled bool           `mapstructure:"cache_enabled"`
	CoinGecko    ProviderConfig `mapstructure:"coingecko"`
	Binance      ProviderConfig `mapstructure:"binance"`
	Coinbase     ProviderConfig `mapstructure:"coinbase"`
	Kraken       ProviderConfig `mapstructure:"kraken"`
	CoinPaprika  ProviderConfig `mapstructure:"coinpaprika"`
}

// ChainConfig describes or overrides one settlement chain.
type ChainConfig struct {
	ID                  uint64 `mapstructure:"id"`
	Name                string `mapstructure:"name"`
	Symbol              string `mapstructure:"symbol"`
	CoinGeckoID         string `mapstructure:"coingecko_id"`
	CoinPaprikaID       string `mapstructure:"coinpaprika_id"`
	Decimals            int32  `mapstructure:"decimals"`
	RPCURL              string `mapstructure:"rpc_url"`
	EscrowAddress       string `mapstructure:"escrow_address"`
	SubscriptionAddress string `mapstructure:"subscription_address"`
}

// FeesConfig tunes fee computation behaviour.
type FeesConfig struct {
	// StrictAdditiveTotal makes the escrow total the integer sum of the
	// rescaled base and fee instead of an independently rescaled decimal
	// sum, which can drift from base+fee by one smallest unit.
	StrictAdditiveTotal bool `mapstructure:"strict_additive_total"`
}

// ContractsConfig covers on-chain read access.
type ContractsConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SamplerConfig governs the price sampling cadence.
type SamplerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines alert routing for pricing outages.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ESCROWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "escrowd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("pricing.cache_window", "300s")
	v.SetDefault("pricing.cache_enabled", true)
	setProviderDefaults(v, "coingecko", 1)
	setProviderDefaults(v, "binance", 2)
	setProviderDefaults(v, "coinbase", 3)
	setProviderDefaults(v, "kraken", 4)
	setProviderDefaults(v, "coinpaprika", 5)

	v.SetDefault("fees.strict_additive_total", false)

	v.SetDefault("contracts.request_timeout", "10s")

	v.SetDefault("sampler.interval", "5m")
	v.SetDefault("sampler.align_to_bucket", true)
	v.SetDefault("sampler.advisory_lock_key", int64(0x65736372))
	v.SetDefault("sampler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func setProviderDefaults(v *viper.Viper, name string, priority int) {
	prefix := "pricing." + name + "."
	v.SetDefault(prefix+"enabled", true)
	v.SetDefault(prefix+"priority", priority)
	v.SetDefault(prefix+"request_timeout", "10s")
	v.SetDefault(prefix+"max_retries", 3)
	v.SetDefault(prefix+"min_delay", "500ms")
	v.SetDefault(prefix+"max_delay", "10s")
	v.SetDefault(prefix+"backoff_multiplier", 2.0)
	v.SetDefault(prefix+"rate_limit_per_min", 30)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Providers returns the provider configs keyed by name.
func (c *PricingConfig) Providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"coingecko":   c.CoinGecko,
		"binance":     c.Binance,
		"coinbase":    c.Coinbase,
		"kraken":      c.Kraken,
		"coinpaprika": c.CoinPaprika,
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Pricing.CacheWindow <= 0 {
		return fmt.Errorf("pricing.cache_window must be greater than zero")
	}
	if c.Sampler.Interval <= 0 {
		return fmt.Errorf("sampler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	// Priority ranks must form a total order across enabled providers.
	seen := make(map[int]string)
	for name, p := range c.Pricing.Providers() {
		if !p.Enabled {
			continue
		}
		if p.Priority <= 0 {
			return fmt.Errorf("pricing.%s.priority must be greater than zero", name)
		}
		if other, ok := seen[p.Priority]; ok {
			return fmt.Errorf("pricing.%s.priority collides with pricing.%s", name, other)
		}
		seen[p.Priority] = name
	}

	for _, chain := range c.Chains {
		if chain.ID == 0 {
			return fmt.Errorf("chains entries require an id")
		}
		if chain.Decimals < 0 {
			return fmt.Errorf("chain %d: decimals cannot be negative", chain.ID)
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
