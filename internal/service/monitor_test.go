package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"escrow-engine/internal/alerting"
	"escrow-engine/internal/chains"
	"escrow-engine/internal/config"
	"escrow-engine/internal/pricing"
	"escrow-engine/internal/providers"
	"escrow-engine/internal/storage"
)

type mapResolver struct {
	prices map[string]decimal.Decimal
}

func (r mapResolver) Resolve(ctx context.Context, q providers.Query) (*pricing.PriceResult, error) {
	price, ok := r.prices[q.Symbol]
	if !ok {
		return nil, nil
	}
	return &pricing.PriceResult{Price: price, Provider: "coingecko", FetchedAt: time.Now()}, nil
}

type memorySampleStore struct {
	samples []storage.PriceSample
}

func (s *memorySampleStore) UpsertPriceSample(ctx context.Context, sample storage.PriceSample) error {
	s.samples = append(s.samples, sample)
	return nil
}

func (s *memorySampleStore) ListSamplesBetween(ctx context.Context, chainID uint64, from, to time.Time) ([]storage.PriceSample, error) {
	return s.samples, nil
}

func (s *memorySampleStore) ListRecentSamples(ctx context.Context, limit int) ([]storage.PriceSample, error) {
	return s.samples, nil
}

func (s *memorySampleStore) CountSamples(ctx context.Context) (int64, error) {
	return int64(len(s.samples)), nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

func monitorConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.Cooldown = time.Hour
	cfg.Alerting.Channels = []string{"telegram"}
	return cfg
}

func TestProcessBucketRecordsSamples(t *testing.T) {
	registry := chains.NewRegistry(nil)
	resolver := mapResolver{prices: map[string]decimal.Decimal{
		"ETH":  decimal.NewFromInt(3000),
		"BNB":  decimal.NewFromInt(600),
		"POL":  decimal.RequireFromString("0.45"),
		"AVAX": decimal.NewFromInt(30),
		"HBAR": decimal.RequireFromString("0.07"),
	}}
	store := &memorySampleStore{}

	monitor := NewMonitor(monitorConfig(), nil, registry, resolver, pricing.NewHealthRegistry(), store, nil, zerolog.Nop())

	bucket := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	if err := monitor.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}

	if len(store.samples) != len(registry.All()) {
		t.Fatalf("expected one sample per chain, got %d", len(store.samples))
	}
	for _, sample := range store.samples {
		if sample.Status != "complete" {
			t.Fatalf("chain %d: expected complete, got %q", sample.ChainID, sample.Status)
		}
		if !sample.Bucket.Equal(bucket) {
			t.Fatalf("chain %d: bucket not stamped", sample.ChainID)
		}
		if sample.Provider == "" {
			t.Fatalf("chain %d: provider not recorded", sample.ChainID)
		}
	}
}

func TestProcessBucketRecordsOutageAndAlerts(t *testing.T) {
	registry := chains.NewRegistry(nil)
	store := &memorySampleStore{}
	notifier := &recordingNotifier{}

	// Empty resolver: every chain exhausts its providers.
	monitor := NewMonitor(monitorConfig(), nil, registry, mapResolver{}, pricing.NewHealthRegistry(), store, notifier, zerolog.Nop())

	bucket := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	if err := monitor.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}

	for _, sample := range store.samples {
		if sample.Status != "errored" {
			t.Fatalf("chain %d: expected errored, got %q", sample.ChainID, sample.Status)
		}
		if sample.Error == nil {
			t.Fatalf("chain %d: outage samples must carry an error message", sample.ChainID)
		}
	}

	if len(notifier.notes) != len(registry.All()) {
		t.Fatalf("expected one alert per chain, got %d", len(notifier.notes))
	}
	if notifier.notes[0].Kind != alerting.KindPriceUnavailable {
		t.Fatalf("unexpected alert kind %q", notifier.notes[0].Kind)
	}
}

func TestAlertCooldownSuppressesRepeats(t *testing.T) {
	registry := chains.NewRegistry(nil)
	notifier := &recordingNotifier{}
	monitor := NewMonitor(monitorConfig(), nil, registry, mapResolver{}, pricing.NewHealthRegistry(), nil, notifier, zerolog.Nop())

	bucket := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	if err := monitor.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}
	first := len(notifier.notes)

	if err := monitor.ProcessBucket(context.Background(), bucket.Add(5*time.Minute)); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}
	if len(notifier.notes) != first {
		t.Fatalf("alerts within the cooldown must be suppressed: %d then %d", first, len(notifier.notes))
	}
}

func TestProcessBucketReportsUnhealthyProviders(t *testing.T) {
	registry := chains.NewRegistry(nil)
	notifier := &recordingNotifier{}
	health := pricing.NewHealthRegistry()
	health.RecordFailure("kraken")
	health.RecordFailure("kraken")
	health.RecordFailure("kraken")

	resolver := mapResolver{prices: map[string]decimal.Decimal{
		"ETH": decimal.NewFromInt(1), "BNB": decimal.NewFromInt(1), "POL": decimal.NewFromInt(1),
		"AVAX": decimal.NewFromInt(1), "HBAR": decimal.NewFromInt(1),
	}}
	monitor := NewMonitor(monitorConfig(), nil, registry, resolver, health, nil, notifier, zerolog.Nop())

	if err := monitor.ProcessBucket(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ProcessBucket: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected a single provider alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Kind != alerting.KindProviderUnhealthy || note.Provider != "kraken" {
		t.Fatalf("unexpected alert %+v", note)
	}
}
