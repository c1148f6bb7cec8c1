package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	minMaxAttempts  = 1
	minInitialDelay = time.Millisecond
	minFactor       = 1.0
)

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidInitialDelay is returned when the initial delay parameter is invalid.
	ErrInvalidInitialDelay = errors.New("initial delay must be at least 1ms")
	// ErrInvalidFactor is returned when the backoff factor parameter is invalid.
	ErrInvalidFactor = errors.New("backoff factor must be at least 1.0")

	// ErrExhausted marks errors returned after every permitted attempt failed.
	// Match it with errors.Is; the original upstream failure stays reachable
	// through errors.Is/errors.As on the same error.
	ErrExhausted = errors.New("retry attempts exhausted")
)

// Policy executes operations with exponential-backoff retries. Failures are
// classified by a caller-supplied predicate; anything it rejects propagates
// immediately without further attempts.
type Policy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	retryable    func(error) bool
	logger       *zap.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithClassifier overrides the predicate deciding whether an error is retryable.
func WithClassifier(retryable func(error) bool) Option {
	return func(p *Policy) {
		if retryable != nil {
			p.retryable = retryable
		}
	}
}

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Policy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Policy.
// Parameters:
// - maxAttempts: total attempts, including the first try.
// - initialDelay: delay before the first retry.
// - maxDelay: upper bound on any computed delay.
// - factor: multiplier for exponential backoff.
// By default errors are classified with IsTemporary.
func New(maxAttempts int, initialDelay, maxDelay time.Duration, factor float64, opts ...Option) (*Policy, error) {
	if maxAttempts < minMaxAttempts {
		return nil, ErrInvalidMaxAttempts
	}
	if initialDelay < minInitialDelay {
		return nil, ErrInvalidInitialDelay
	}
	if factor < minFactor {
		return nil, ErrInvalidFactor
	}

	p := &Policy{
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		factor:       factor,
		retryable:    IsTemporary,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// delay computes the backoff before retry number r (1-based): the first retry
// waits initialDelay, growth is geometric, and maxDelay caps the result.
func (p *Policy) delay(r int) time.Duration {
	d := float64(p.initialDelay) * math.Pow(p.factor, float64(r-1))
	if d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	return time.Duration(d)
}

// Run executes fn under the policy. A non-retryable error propagates
// untouched after a single attempt; once attempts are exhausted the last
// error is returned wrapped in an ExhaustedError.
func (p *Policy) Run(ctx context.Context, fn func(context.Context) error) error {
	a := p.Begin(ctx)
	for a.Next() {
		if a.Done(fn(ctx)) {
			break
		}
	}
	return a.Err()
}

// Do is the generic form of Run for operations that produce a value.
func Do[T any](ctx context.Context, p *Policy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ExhaustedError is returned when every permitted attempt failed with a
// retryable error. It unwraps to the last upstream failure and matches
// ErrExhausted via errors.Is.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }
