// Package ward is a client-side resilience layer for remote HTTP APIs. It
// wraps caller-supplied remote calls with response memoization (LRU + TTL),
// sliding-window rate limiting, retry with exponential backoff, and an
// optional circuit breaker. The remote API's payloads are opaque to this
// layer.
package ward

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/ward/cache"
	"goflare.io/ward/internal/config"
	"goflare.io/ward/ratelimit"
	"goflare.io/ward/retrier"
)

// Option configures a Ward during construction.
type Option func(*config.Config) error

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config.Config) error {
		cfg.Logger = logger
		return nil
	}
}

// WithCache sets the response cache capacity and entry TTL.
func WithCache(maxSize int, ttl time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.CacheMaxSize = maxSize
		cfg.CacheTTL = ttl
		return nil
	}
}

// WithRateLimit sets the admission rate: maxRequests per sliding window.
func WithRateLimit(maxRequests int, window time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.RateMaxRequests = maxRequests
		cfg.RateWindow = window
		return nil
	}
}

// WithRetry sets the retry budget and backoff shape.
func WithRetry(maxAttempts int, initialDelay, maxDelay time.Duration, factor float64) Option {
	return func(cfg *config.Config) error {
		cfg.RetryMaxAttempts = maxAttempts
		cfg.RetryInitialDelay = initialDelay
		cfg.RetryMaxDelay = maxDelay
		cfg.RetryFactor = factor
		return nil
	}
}

// WithClassifier sets the predicate deciding which errors are retryable.
// The default is retrier.IsTemporary.
func WithClassifier(retryable func(error) bool) Option {
	return func(cfg *config.Config) error {
		cfg.Retryable = retryable
		return nil
	}
}

// WithBreakerSettings replaces the default circuit breaker settings.
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return func(cfg *config.Config) error {
		cfg.Breaker = settings
		cfg.EnableBreaker = true
		return nil
	}
}

// WithoutBreaker disables the circuit breaker stage.
func WithoutBreaker() Option {
	return func(cfg *config.Config) error {
		cfg.EnableBreaker = false
		return nil
	}
}

// FromEnv overrides settings from WARD_* environment variables.
func FromEnv() Option {
	return func(cfg *config.Config) error {
		return cfg.LoadEnv()
	}
}

// Ward composes the resilience pipeline around remote calls. A cache hit
// consumes no rate-limit slot and performs no retry; the miss path acquires
// an admission slot and runs the call under the breaker and retry policy.
//
// Construct one Ward per process (or per remote endpoint) and share it by
// reference; configuration is immutable after New returns.
type Ward struct {
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	retrier *retrier.Policy
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New initializes a Ward, applying the given options over the defaults.
func New(opts ...Option) (*Ward, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}

	responseCache, err := cache.New(cfg.CacheMaxSize, cfg.CacheTTL, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	limiter, err := ratelimit.New(cfg.RateMaxRequests, cfg.RateWindow, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	retryOpts := []retrier.Option{retrier.WithLogger(cfg.Logger)}
	if cfg.Retryable != nil {
		retryOpts = append(retryOpts, retrier.WithClassifier(cfg.Retryable))
	}
	policy, err := retrier.New(cfg.RetryMaxAttempts, cfg.RetryInitialDelay, cfg.RetryMaxDelay, cfg.RetryFactor, retryOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry policy: %w", err)
	}

	var breaker *gobreaker.CircuitBreaker
	if cfg.EnableBreaker {
		breaker = gobreaker.NewCircuitBreaker(cfg.Breaker)
	}

	return &Ward{
		cache:   responseCache,
		limiter: limiter,
		retrier: policy,
		breaker: breaker,
		tracer:  otel.Tracer("ward"),
		logger:  cfg.Logger,
	}, nil
}

// CacheStats reports response cache counters.
func (w *Ward) CacheStats() cache.Stats {
	return w.cache.Stats()
}

// Usage reports rate limiter state.
func (w *Ward) Usage() ratelimit.Usage {
	return w.limiter.Usage()
}

// ResetLimiter clears all tracked admissions.
func (w *Ward) ResetLimiter() {
	w.limiter.Reset()
}

// Invalidate drops the memoized result for op with the given arguments.
// Call it after a mutating operation makes the cached value stale.
func (w *Ward) Invalidate(op string, args ...any) {
	w.cache.Invalidate(cache.Fingerprint(op, args...))
}

// InvalidateAll clears the response cache.
func (w *Ward) InvalidateAll() {
	w.cache.InvalidateAll()
}
