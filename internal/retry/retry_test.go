package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNetwork = errors.New("connection reset")

func fastOptions(maxRetries int) Options {
	return Options{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}
}

func TestDo_ExhaustsRetriesAndReturnsOriginalError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func() (int, error) {
		calls++
		return 0, errNetwork
	}, fastOptions(2))

	assert.Equal(t, 3, calls, "1 initial + 2 retries")
	assert.Same(t, errNetwork, err, "original error must propagate unwrapped")
}

func TestDo_ReturnsSuccessAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errNetwork
		}
		return "ok", nil
	}, fastOptions(3))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "ok", result)
}

func TestDo_NonRetryableStatusShortCircuits(t *testing.T) {
	badRequest := &kiserr.APIError{Status: 400, Body: "bad request"}

	calls := 0
	_, err := Do(context.Background(), func() (int, error) {
		calls++
		return 0, badRequest
	}, fastOptions(5))

	assert.Equal(t, 1, calls)
	assert.Same(t, error(badRequest), err)
}

func TestDefaultShouldRetry(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"network error", errNetwork, true},
		{"timeout 408", &kiserr.APIError{Status: 408}, true},
		{"rate limit 429", &kiserr.APIError{Status: 429}, true},
		{"server 500", &kiserr.APIError{Status: 500}, true},
		{"bad gateway 502", &kiserr.APIError{Status: 502}, true},
		{"unavailable 503", &kiserr.APIError{Status: 503}, true},
		{"gateway timeout 504", &kiserr.APIError{Status: 504}, true},
		{"bad request 400", &kiserr.APIError{Status: 400}, false},
		{"unauthorized 401", &kiserr.APIError{Status: 401}, false},
		{"not found 404", &kiserr.APIError{Status: 404}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, DefaultShouldRetry(tt.err))
		})
	}
}

func TestBackoff_Curve(t *testing.T) {
	base := time.Second
	max := 16 * time.Second

	assert.Equal(t, 1*time.Second, Backoff(0, base, max))
	assert.Equal(t, 2*time.Second, Backoff(1, base, max))
	assert.Equal(t, 4*time.Second, Backoff(2, base, max))
	assert.Equal(t, 8*time.Second, Backoff(3, base, max))
	assert.Equal(t, 16*time.Second, Backoff(4, base, max))
	assert.Equal(t, 16*time.Second, Backoff(5, base, max), "capped at max")
	assert.Equal(t, 16*time.Second, Backoff(60, base, max), "shift overflow still capped")
}

func TestDelay_JitterBounds(t *testing.T) {
	base := time.Second
	max := 16 * time.Second

	for attempt := 0; attempt < 6; attempt++ {
		floor := Backoff(attempt, base, max)
		for i := 0; i < 50; i++ {
			d := Delay(attempt, base, max)
			assert.GreaterOrEqual(t, d, floor)
			assert.Less(t, d, floor+time.Second)
		}
	}
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, func() (int, error) {
		calls++
		return 0, errNetwork
	}, Options{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})

	assert.Equal(t, 1, calls, "no further attempts once the context is done")
	assert.Same(t, errNetwork, err)
}
