package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"escrow-engine/internal/retry"
)

// Binance quotes spot pairs against USDT. Symbols arriving without a quote
// currency get the USDT suffix appended.
type Binance struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewBinance constructs the Binance adapter.
func NewBinance(opts Options, logger zerolog.Logger) *Binance {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com/api/v3"
	}
	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "provider_binance").Logger(),
		client:  newClient(opts.Timeout),
		limiter: newLimiter(opts.RateLimitPerMin),
		baseURL: baseURL,
	}
}

// Name returns the provider identifier.
func (b *Binance) Name() string { return "binance" }

// FetchPrice retrieves the last USDT spot price for the query symbol.
func (b *Binance) FetchPrice(ctx context.Context, q Query) (decimal.Decimal, bool, error) {
	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" {
		return decimal.Decimal{}, false, nil
	}
	if !strings.HasSuffix(symbol, "USDT") && !strings.HasSuffix(symbol, "USDC") {
		symbol += "USDT"
	}
	if err := waitLimiter(ctx, b.limiter); err != nil {
		return decimal.Decimal{}, false, err
	}

	endpoint := fmt.Sprintf("%s/ticker/price?symbol=%s", b.baseURL, url.QueryEscape(symbol))

	body, err := retry.Do(ctx, loggedPolicy(b.opts.Policy, b.logger), func(ctx context.Context) ([]byte, error) {
		return getJSON(ctx, b.client, endpoint, nil)
	})
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	var payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse binance response: %w", err)
	}

	price, ok := parsePrice(payload.Price)
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	return price, true, nil
}

var _ Adapter = (*Binance)(nil)
