package ward

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"goflare.io/ward/cache"
)

// RemoteCall is any asynchronous remote operation: callable, returns a value,
// may fail. The pipeline neither knows nor cares what it does.
type RemoteCall[T any] func(ctx context.Context) (T, error)

// Do runs fn guarded by the full pipeline, memoizing the result under op and
// args. A cached result is returned without touching the rate limiter or the
// network. Concurrent misses for the same key are not deduplicated (see
// cache.Cache.GetOrCompute).
func Do[T any](ctx context.Context, w *Ward, op string, fn RemoteCall[T], args ...any) (T, error) {
	var zero T

	key := cache.Fingerprint(op, args...)
	v, err := w.cache.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		return w.execute(ctx, op, erase(fn))
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}

	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cached value for %q is %T, not %T", op, v, zero)
	}
	return out, nil
}

// Call runs fn guarded by rate limiting, the breaker, and retries, without
// memoization. Use it for mutating operations, then Invalidate the reads
// they made stale.
func Call[T any](ctx context.Context, w *Ward, op string, fn RemoteCall[T]) (T, error) {
	var zero T

	v, err := w.execute(ctx, op, erase(fn))
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

// Wrap returns a guarded version of fn with the same call contract, memoized
// under op and args. The returned closure can replace the original at its
// call sites.
func Wrap[T any](w *Ward, op string, fn RemoteCall[T], args ...any) RemoteCall[T] {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, w, op, fn, args...)
	}
}

// Warm runs the given guarded operations concurrently, typically closures
// built with Wrap, to prime the cache at startup. The first error cancels
// the rest.
func (w *Ward) Warm(ctx context.Context, ops ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, op := range ops {
		op := op
		g.Go(func() error {
			return op(ctx)
		})
	}
	return g.Wait()
}

// erase adapts a typed remote call to the untyped miss path.
func erase[T any](fn RemoteCall[T]) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

// execute is the miss path: rate-limit admission, then the remote call under
// the breaker and retry policy. Neither stage swallows errors from fn; the
// retry policy alone suppresses intermediate retryable failures, up to its
// attempt budget.
func (w *Ward) execute(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, span := w.tracer.Start(ctx, "ward.call",
		trace.WithAttributes(attribute.String("operation", op)))
	defer span.End()

	if err := w.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var out any
	err := w.withBreaker(func() error {
		return w.retrier.Run(ctx, func(ctx context.Context) error {
			v, err := fn(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Ward) withBreaker(fn func() error) error {
	if w.breaker == nil {
		return fn()
	}
	_, err := w.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}
