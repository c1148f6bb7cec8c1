package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config carries the settings for every stage of the resilience pipeline.
// Configuration is immutable once the owning facade has been constructed.
type Config struct {
	CacheMaxSize int           `env:"WARD_CACHE_MAX_SIZE"`
	CacheTTL     time.Duration `env:"WARD_CACHE_TTL"`

	RateMaxRequests int           `env:"WARD_RATE_MAX_REQUESTS"`
	RateWindow      time.Duration `env:"WARD_RATE_WINDOW"`

	RetryMaxAttempts  int           `env:"WARD_RETRY_MAX_ATTEMPTS"`
	RetryInitialDelay time.Duration `env:"WARD_RETRY_INITIAL_DELAY"`
	RetryMaxDelay     time.Duration `env:"WARD_RETRY_MAX_DELAY"`
	RetryFactor       float64       `env:"WARD_RETRY_FACTOR"`

	EnableBreaker bool               `env:"WARD_BREAKER_ENABLED"`
	Breaker       gobreaker.Settings `env:"-"`

	Retryable func(error) bool `env:"-"`
	Logger    *zap.Logger      `env:"-"`
}

// Option mutates a Config during construction.
type Option func(*Config) error

// New builds a Config with defaults, then applies options in order.
func New(options ...Option) (*Config, error) {
	cfg := &Config{
		CacheMaxSize: 256,
		CacheTTL:     30 * time.Second,

		RateMaxRequests: 100,
		RateWindow:      60 * time.Second,

		RetryMaxAttempts:  3,
		RetryInitialDelay: 1 * time.Second,
		RetryMaxDelay:     60 * time.Second,
		RetryFactor:       2.0,

		EnableBreaker: true,
		Breaker: gobreaker.Settings{
			Name:        "ward",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadEnv overrides fields from WARD_* environment variables. Variables that
// are unset leave the current values untouched.
func (c *Config) LoadEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
