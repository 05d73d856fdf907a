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

// krakenSymbolOverrides maps common tickers onto Kraken's idiosyncratic ones.
var krakenSymbolOverrides = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// Kraken serves public ticker data keyed by PAIRUSD pairs.
type Kraken struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewKraken constructs the Kraken adapter.
func NewKraken(opts Options, logger zerolog.Logger) *Kraken {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.kraken.com/0/public"
	}
	return &Kraken{
		opts:    opts,
		logger:  logger.With().Str("component", "provider_kraken").Logger(),
		client:  newClient(opts.Timeout),
		limiter: newLimiter(opts.RateLimitPerMin),
		baseURL: baseURL,
	}
}

// Name returns the provider identifier.
func (k *Kraken) Name() string { return "kraken" }

// FetchPrice retrieves the last trade price in USD for the query symbol.
func (k *Kraken) FetchPrice(ctx context.Context, q Query) (decimal.Decimal, bool, error) {
	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" {
		return decimal.Decimal{}, false, nil
	}
	if override, ok := krakenSymbolOverrides[symbol]; ok {
		symbol = override
	}

	if err := waitLimiter(ctx, k.limiter); err != nil {
		return decimal.Decimal{}, false, err
	}

	pair := symbol + "USD"
	endpoint := fmt.Sprintf("%s/Ticker?pair=%s", k.baseURL, url.QueryEscape(pair))

	body, err := retry.Do(ctx, loggedPolicy(k.opts.Policy, k.logger), func(ctx context.Context) ([]byte, error) {
		return getJSON(ctx, k.client, endpoint, nil)
	})
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	var payload struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			C []string `json:"c"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse kraken response: %w", err)
	}
	if len(payload.Error) > 0 {
		// Unknown pair and similar API-level rejections are a soft miss,
		// but forward rate-limit errors to the retry classifier.
		joined := strings.Join(payload.Error, "; ")
		if strings.Contains(strings.ToLower(joined), "rate limit") {
			return decimal.Decimal{}, false, fmt.Errorf("kraken: %s", joined)
		}
		return decimal.Decimal{}, false, nil
	}

	// Kraken prefixes pair names unpredictably; take the first result entry.
	for _, entry := range payload.Result {
		if len(entry.C) == 0 {
			continue
		}
		if price, ok := parsePrice(entry.C[0]); ok {
			return price, true, nil
		}
	}
	return decimal.Decimal{}, false, nil
}

var _ Adapter = (*Kraken)(nil)
