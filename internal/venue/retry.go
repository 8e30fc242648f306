package venue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy defines the single backoff schedule used for every outbound
// venue call. Divergent per-module schedules are deliberately not supported.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Factor         float64
}

// DefaultRetryPolicy is the production schedule: 1s, 2s, 4s, ... capped at
// 64s, up to 7 retries after the initial attempt.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:     7,
	InitialBackoff: time.Second,
	MaxBackoff:     64 * time.Second,
	Factor:         2,
}

// Delay returns the backoff before retry n (0-based). The schedule is a
// pure function of the policy so it can be verified without real I/O.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// connErrSubstrings match transport-level failures that are safe to retry
var connErrSubstrings = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"ESOCKETTIMEDOUT",
	"ECONNREFUSED",
	"connection reset",
	"connection refused",
	"i/o timeout",
	"EOF",
}

// gatewayErrSubstrings match proxy/gateway failures reported in error bodies
var gatewayErrSubstrings = []string{
	"502 Bad Gateway",
	"504 Gateway",
	"bad gateway",
	"gateway timeout",
}

// IsRetryable classifies an error as transient. Rate limits, 5xx responses
// and connection-level failures are retried; auth, validation and balance
// errors surface immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.IsRateLimited() {
			return true
		}
		if httpErr.StatusCode >= 500 {
			return true
		}
		for _, s := range gatewayErrSubstrings {
			if strings.Contains(httpErr.Body, s) {
				return true
			}
		}
		return false
	}

	msg := err.Error()
	for _, s := range connErrSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	for _, s := range gatewayErrSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RetryDo runs fn under the policy, sleeping the exponential schedule
// between transient failures. Non-retryable errors and context cancellation
// abort immediately; after the final attempt the last error is returned.
func RetryDo(ctx context.Context, policy RetryPolicy, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.MaxInterval = policy.MaxBackoff
	b.Multiplier = policy.Factor
	// The schedule is deterministic; jitter would break the documented
	// 1-2-4-...-64s ladder.
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}
