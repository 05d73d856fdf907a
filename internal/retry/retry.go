package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// Policy bounds retries for a single network operation.
type Policy struct {
	MaxRetries        int
	MinDelay          time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// OnRetry is invoked before each sleep with the attempt number (1-based),
	// the error that triggered the retry, and the computed delay. Observability
	// only; it cannot alter control flow.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is used when a provider config leaves the policy empty.
var DefaultPolicy = Policy{
	MaxRetries:        3,
	MinDelay:          500 * time.Millisecond,
	MaxDelay:          10 * time.Second,
	BackoffMultiplier: 2,
}

// StatusError carries an upstream HTTP status for retry classification.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// Do executes op, retrying retryable failures up to policy.MaxRetries times
// (MaxRetries+1 total tries). The last error is returned unchanged once
// retries are exhausted. Non-retryable errors propagate immediately.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.MinDelay <= 0 {
		policy.MinDelay = DefaultPolicy.MinDelay
	}
	if policy.MaxDelay < policy.MinDelay {
		policy.MaxDelay = policy.MinDelay
	}
	if policy.BackoffMultiplier < 1 {
		policy.BackoffMultiplier = DefaultPolicy.BackoffMultiplier
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Retryable(err) || attempt > policy.MaxRetries {
			return zero, lastErr
		}

		delay := policy.delayFor(attempt, err)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func (p Policy) delayFor(attempt int, err error) time.Duration {
	if IsRateLimited(err) {
		// Uniform jitter between min and max desynchronizes callers that
		// tripped the same rate limit at the same time.
		span := p.MaxDelay - p.MinDelay
		if span <= 0 {
			return p.MinDelay
		}
		return p.MinDelay + time.Duration(rand.Int63n(int64(span)))
	}

	scaled := float64(p.MinDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if scaled > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(scaled)
}

// Retryable reports whether err is worth another attempt: rate limits,
// server-side failures, request timeouts, and network-class errors.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 || statusErr.Status == 408
	}

	return isNetworkError(err)
}

// IsRateLimited reports whether err is an upstream rate-limit rejection.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
