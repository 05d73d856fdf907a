package providers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"escrow-engine/internal/retry"
)

// Query identifies the asset a price is requested for. Some providers key on
// the ticker symbol, others on an aggregator-specific canonical id; callers
// supply everything they know.
type Query struct {
	Symbol        string
	CoinGeckoID   string
	CoinPaprikaID string
}

// Adapter fetches a single USD price from one upstream service.
//
// The boolean result distinguishes a soft miss (well-formed response without a
// usable positive price) from a transport or parse failure: soft misses return
// (zero, false, nil) and the fallback engine simply moves on.
type Adapter interface {
	Name() string
	FetchPrice(ctx context.Context, q Query) (decimal.Decimal, bool, error)
}

// Options parameterise a single adapter.
type Options struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	Policy          retry.Policy
	RateLimitPerMin int
}

// newLimiter builds the client-side request budget for one adapter. A
// non-positive budget disables limiting.
func newLimiter(perMin int) *rate.Limiter {
	if perMin <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMin)/60), perMin)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// loggedPolicy fills in the default retry policy when the config left it
// empty and attaches a logging observer.
func loggedPolicy(p retry.Policy, logger zerolog.Logger) retry.Policy {
	if p.MaxRetries == 0 && p.MinDelay == 0 && p.MaxDelay == 0 {
		p = retry.DefaultPolicy
	}
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn().Int("attempt", attempt).Err(err).Dur("delay", delay).Msg("retrying provider request")
	}
	return p
}

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// getJSON issues a GET and returns the raw body, mapping non-2xx statuses to
// retry.StatusError so the executor can classify them.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "escrowd/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.StatusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func positive(d decimal.Decimal) bool {
	return d.Sign() > 0
}

func parsePrice(raw string) (decimal.Decimal, bool) {
	if raw == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !positive(d) {
		return decimal.Decimal{}, false
	}
	return d, true
}
