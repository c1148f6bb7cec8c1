package ward

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/ward/retrier"
)

func newTestWard(t *testing.T, opts ...Option) *Ward {
	t.Helper()
	base := []Option{
		WithLogger(zap.NewNop()),
		WithCache(32, time.Minute),
		WithRateLimit(100, time.Minute),
		WithRetry(3, 10*time.Millisecond, 100*time.Millisecond, 2.0),
	}
	w, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return w
}

// countingCall returns a remote call stub that records invocations.
func countingCall(value string) (RemoteCall[string], *atomic.Int64) {
	var calls atomic.Int64
	return func(ctx context.Context) (string, error) {
		calls.Inc()
		return value, nil
	}, &calls
}

func TestDoCachesResult(t *testing.T) {
	w := newTestWard(t)
	fn, calls := countingCall("ranges")

	v1, err := Do(context.Background(), w, "ranges.list", fn)
	require.NoError(t, err)
	v2, err := Do(context.Background(), w, "ranges.list", fn)
	require.NoError(t, err)

	assert.Equal(t, "ranges", v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), calls.Load())

	stats := w.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestDoDistinguishesArguments(t *testing.T) {
	w := newTestWard(t)
	fn, calls := countingCall("vm")

	_, err := Do(context.Background(), w, "vm.get", fn, "vm-1")
	require.NoError(t, err)
	_, err = Do(context.Background(), w, "vm.get", fn, "vm-2")
	require.NoError(t, err)
	_, err = Do(context.Background(), w, "vm.get", fn, "vm-1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
}

func TestInvalidateForcesRecompute(t *testing.T) {
	w := newTestWard(t)
	fn, calls := countingCall("templates")

	_, err := Do(context.Background(), w, "templates.list", fn)
	require.NoError(t, err)

	w.Invalidate("templates.list")

	_, err = Do(context.Background(), w, "templates.list", fn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCacheHitSkipsRateLimiter(t *testing.T) {
	w := newTestWard(t, WithRateLimit(1, time.Hour))
	fn, _ := countingCall("v")

	_, err := Do(context.Background(), w, "op", fn)
	require.NoError(t, err)

	// The limiter is fully saturated; only a cache hit can succeed now.
	start := time.Now()
	_, err = Do(context.Background(), w, "op", fn)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, w.Usage().CurrentRequests)
}

func TestCallBypassesCache(t *testing.T) {
	w := newTestWard(t)
	fn, calls := countingCall("deployed")

	for i := 0; i < 3; i++ {
		_, err := Call(context.Background(), w, "range.deploy", fn)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 0, w.CacheStats().Size)
}

func TestRetriesTransientAPIErrors(t *testing.T) {
	w := newTestWard(t)
	var calls atomic.Int64

	v, err := Do(context.Background(), w, "ranges.list", func(ctx context.Context) (string, error) {
		if calls.Inc() < 3 {
			return "", &APIError{StatusCode: 503, Message: "host busy"}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int64(3), calls.Load())
}

func TestNonRetryableAPIErrorFailsFast(t *testing.T) {
	w := newTestWard(t)
	var calls atomic.Int64

	_, err := Do(context.Background(), w, "vm.get", func(ctx context.Context) (string, error) {
		calls.Inc()
		return "", &APIError{StatusCode: 404, Message: "no such vm"}
	}, "vm-9")

	assert.Equal(t, int64(1), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestExhaustionSurfacesOriginalFailure(t *testing.T) {
	w := newTestWard(t, WithRetry(2, 10*time.Millisecond, 50*time.Millisecond, 2.0))
	var calls atomic.Int64

	_, err := Do(context.Background(), w, "ranges.list", func(ctx context.Context) (string, error) {
		calls.Inc()
		return "", &APIError{StatusCode: 502, Message: "bad gateway"}
	})

	assert.Equal(t, int64(2), calls.Load())
	assert.ErrorIs(t, err, retrier.ErrExhausted)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr, "exhaustion keeps the last upstream failure reachable")
	assert.Equal(t, 502, apiErr.StatusCode)
}

func TestFailedComputeIsNotCached(t *testing.T) {
	w := newTestWard(t)
	var calls atomic.Int64

	fn := func(ctx context.Context) (string, error) {
		if calls.Inc() == 1 {
			return "", &APIError{StatusCode: 403, Message: "forbidden"}
		}
		return "ok", nil
	}

	_, err := Do(context.Background(), w, "op", fn)
	require.Error(t, err)

	v, err := Do(context.Background(), w, "op", fn)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRateLimitDelaysThirdCall(t *testing.T) {
	const window = 300 * time.Millisecond
	w := newTestWard(t, WithRateLimit(2, window))
	fn, _ := countingCall("v")

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := Call(context.Background(), w, fmt.Sprintf("op-%d", i), fn)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, window-50*time.Millisecond,
		"first two admitted immediately, third waits out the window")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	w := newTestWard(t, WithBreakerSettings(gobreaker.Settings{
		Name:    "test",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}))
	var calls atomic.Int64

	fail := func(ctx context.Context) (string, error) {
		calls.Inc()
		return "", &APIError{StatusCode: 400, Message: "bad request"}
	}

	for i := 0; i < 3; i++ {
		_, err := Call(context.Background(), w, "vm.get", fail)
		require.Error(t, err)
	}

	_, err := Call(context.Background(), w, "vm.get", fail)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(3), calls.Load(), "an open breaker short-circuits before any attempt")
}

func TestWarmPrimesCache(t *testing.T) {
	w := newTestWard(t)
	templates, templateCalls := countingCall("templates")
	ranges, rangeCalls := countingCall("ranges")

	wrappedTemplates := Wrap(w, "templates.list", templates)
	wrappedRanges := Wrap(w, "ranges.list", ranges)

	err := w.Warm(context.Background(),
		func(ctx context.Context) error { _, err := wrappedTemplates(ctx); return err },
		func(ctx context.Context) error { _, err := wrappedRanges(ctx); return err },
	)
	require.NoError(t, err)

	_, err = wrappedTemplates(context.Background())
	require.NoError(t, err)
	_, err = wrappedRanges(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), templateCalls.Load())
	assert.Equal(t, int64(1), rangeCalls.Load())
}

func TestWarmPropagatesFirstError(t *testing.T) {
	w := newTestWard(t)
	boom := errors.New("unreachable")

	err := w.Warm(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	)
	assert.ErrorIs(t, err, boom)
}

func TestInvalidateAll(t *testing.T) {
	w := newTestWard(t)
	fn, calls := countingCall("v")

	_, err := Do(context.Background(), w, "a", fn)
	require.NoError(t, err)
	_, err = Do(context.Background(), w, "b", fn)
	require.NoError(t, err)

	w.InvalidateAll()
	assert.Equal(t, 0, w.CacheStats().Size)

	_, err = Do(context.Background(), w, "a", fn)
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestResetLimiter(t *testing.T) {
	w := newTestWard(t, WithRateLimit(2, time.Hour))
	fn, _ := countingCall("v")

	_, err := Call(context.Background(), w, "a", fn)
	require.NoError(t, err)
	_, err = Call(context.Background(), w, "b", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Usage().CurrentRequests)

	w.ResetLimiter()
	assert.Equal(t, 0, w.Usage().CurrentRequests)
}

func TestCallNilInterfaceResult(t *testing.T) {
	w := newTestWard(t)

	v, err := Call[any](context.Background(), w, "vm.console", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDoNilInterfaceResult(t *testing.T) {
	w := newTestWard(t)
	var calls atomic.Int64

	fn := func(ctx context.Context) (any, error) {
		calls.Inc()
		return nil, nil
	}

	v, err := Do[any](context.Background(), w, "vm.console", fn)
	require.NoError(t, err)
	assert.Nil(t, v)

	// The nil result is a legitimate memoized value, not an error.
	v, err = Do[any](context.Background(), w, "vm.console", fn)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, int64(1), calls.Load())
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{StatusCode: 503, Message: "host busy"}
	assert.Equal(t, "api error: status 503: host busy", err.Error())
	assert.True(t, err.Temporary())
	assert.False(t, (&APIError{StatusCode: 422, Message: "bad spec"}).Temporary())
}
