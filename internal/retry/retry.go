// Package retry implements exponential backoff with jitter for fallible
// operations against the broker.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/sageinvest/kis-engine/internal/kiserr"
)

const (
	_defaultMaxRetries = 5
	_defaultBaseDelay  = 1 * time.Second
	_defaultMaxDelay   = 16 * time.Second
	_jitterCeiling     = 1 * time.Second
)

type Options struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ShouldRetry func(error) bool
}

func (o *Options) setup() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = _defaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = _defaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = _defaultMaxDelay
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = DefaultShouldRetry
	}
}

// DefaultShouldRetry retries network-level failures (no HTTP response)
// and the transient status codes 408, 429, 500, 502, 503, 504.
func DefaultShouldRetry(err error) bool {
	status, ok := kiserr.StatusOf(err)
	if !ok {
		return true
	}
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Backoff returns the delay before retry attempt+1: the capped
// exponential base delay, without jitter. Exposed separately so the
// curve can be verified without sleeping.
func Backoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	d := baseDelay << uint(attempt)
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}

// Delay is Backoff plus an independent random jitter in [0, 1s), so
// concurrent callers with identical parameters spread out.
func Delay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	return Backoff(attempt, baseDelay, maxDelay) + time.Duration(rand.Int63n(int64(_jitterCeiling)))
}

// Do runs op up to opts.MaxRetries+1 times. On exhaustion, or when the
// predicate rejects an error, the original error is returned unwrapped
// so callers can branch on it.
func Do[T any](ctx context.Context, op func() (T, error), opts Options) (T, error) {
	opts.setup()

	var (
		result  T
		lastErr error
	)
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}
		if !opts.ShouldRetry(lastErr) || attempt == opts.MaxRetries {
			return result, lastErr
		}

		if err := sleep(ctx, Delay(attempt, opts.BaseDelay, opts.MaxDelay)); err != nil {
			return result, lastErr
		}
	}

	return result, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
