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

// CoinPaprika is the secondary aggregator, tried last. It keys on its own
// coin id (e.g. "btc-bitcoin").
type CoinPaprika struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewCoinPaprika constructs the CoinPaprika adapter.
func NewCoinPaprika(opts Options, logger zerolog.Logger) *CoinPaprika {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coinpaprika.com/v1"
	}
	return &CoinPaprika{
		opts:    opts,
		logger:  logger.With().Str("component", "provider_coinpaprika").Logger(),
		client:  newClient(opts.Timeout),
		limiter: newLimiter(opts.RateLimitPerMin),
		baseURL: baseURL,
	}
}

// Name returns the provider identifier.
func (c *CoinPaprika) Name() string { return "coinpaprika" }

// FetchPrice retrieves the USD quote for the query's CoinPaprika coin id.
func (c *CoinPaprika) FetchPrice(ctx context.Context, q Query) (decimal.Decimal, bool, error) {
	id := strings.ToLower(strings.TrimSpace(q.CoinPaprikaID))
	if id == "" {
		return decimal.Decimal{}, false, nil
	}

	if err := waitLimiter(ctx, c.limiter); err != nil {
		return decimal.Decimal{}, false, err
	}

	endpoint := fmt.Sprintf("%s/tickers/%s?quotes=USD", c.baseURL, url.PathEscape(id))

	body, err := retry.Do(ctx, loggedPolicy(c.opts.Policy, c.logger), func(ctx context.Context) ([]byte, error) {
		return getJSON(ctx, c.client, endpoint, nil)
	})
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	var payload struct {
		Quotes map[string]struct {
			Price json.Number `json:"price"`
		} `json:"quotes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse coinpaprika response: %w", err)
	}

	quote, ok := payload.Quotes["USD"]
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	price, ok := parsePrice(quote.Price.String())
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	return price, true, nil
}

var _ Adapter = (*CoinPaprika)(nil)
