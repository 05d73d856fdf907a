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

// Coinbase serves spot prices keyed by SYMBOL-USD currency pairs.
type Coinbase struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewCoinbase constructs the Coinbase adapter.
func NewCoinbase(opts Options, logger zerolog.Logger) *Coinbase {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coinbase.com/v2"
	}
	return &Coinbase{
		opts:    opts,
		logger:  logger.With().Str("component", "provider_coinbase").Logger(),
		client:  newClient(opts.Timeout),
		limiter: newLimiter(opts.RateLimitPerMin),
		baseURL: baseURL,
	}
}

// Name returns the provider identifier.
func (c *Coinbase) Name() string { return "coinbase" }

// FetchPrice retrieves the USD spot price for the query symbol.
func (c *Coinbase) FetchPrice(ctx context.Context, q Query) (decimal.Decimal, bool, error) {
	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" {
		return decimal.Decimal{}, false, nil
	}

	if err := waitLimiter(ctx, c.limiter); err != nil {
		return decimal.Decimal{}, false, err
	}

	pair := symbol + "-USD"
	endpoint := fmt.Sprintf("%s/prices/%s/spot", c.baseURL, url.PathEscape(pair))

	body, err := retry.Do(ctx, loggedPolicy(c.opts.Policy, c.logger), func(ctx context.Context) ([]byte, error) {
		return getJSON(ctx, c.client, endpoint, nil)
	})
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	var payload struct {
		Data struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse coinbase response: %w", err)
	}

	price, ok := parsePrice(payload.Data.Amount)
	if !ok {
		return decimal.Decimal{}, false, nil
	}
	return price, true, nil
}

var _ Adapter = (*Coinbase)(nil)
