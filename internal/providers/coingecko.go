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

// CoinGecko is the primary aggregator. It keys on the lowercase canonical
// coin id, not the ticker symbol.
type CoinGecko struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewCoinGecko constructs the CoinGecko adapter.
func NewCoinGecko(opts Options, logger zerolog.Logger) *CoinGecko {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "provider_coingecko").Logger(),
		client:  newClient(opts.Timeout),
		limiter: newLimiter(opts.RateLimitPerMin),
		baseURL: baseURL,
	}
}

// Name returns the provider identifier.
func (c *CoinGecko) Name() string { return "coingecko" }

// FetchPrice retrieves the USD price for the query's canonical coin id.
func (c *CoinGecko) FetchPrice(ctx context.Context, q Query) (decimal.Decimal, bool, error) {
	id := strings.ToLower(strings.TrimSpace(q.CoinGeckoID))
	if id == "" {
		return decimal.Decimal{}, false, nil
	}
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return decimal.Decimal{}, false, err
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(id))
	headers := map[string]string{}
	if c.opts.APIKey != "" {
		headers["x-cg-demo-api-key"] = c.opts.APIKey
	}

	body, err := retry.Do(ctx, loggedPolicy(c.opts.Policy, c.logger), func(ctx context.Context) ([]byte, error) {
		return getJSON(ctx, c.client, endpoint, headers)
	})
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	var payload map[string]struct {
		USD json.Number `json:"usd"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse coingecko response: %w", err)
	}

	entry, ok := payload[id]
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	price, ok := parsePrice(entry.USD.String())
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	return price, true, nil
}

var _ Adapter = (*CoinGecko)(nil)
