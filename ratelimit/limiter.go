package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidMaxRequests is returned when the max requests parameter is invalid.
	ErrInvalidMaxRequests = errors.New("max requests must be at least 1")
	// ErrInvalidWindow is returned when the window parameter is invalid.
	ErrInvalidWindow = errors.New("window must be greater than zero")
)

// Limiter admits at most maxRequests calls within any sliding window of the
// configured duration. Callers that would exceed the rate are suspended, not
// rejected. Admission order among suspended callers is not guaranteed.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	stamps      []time.Time

	now    func() time.Time
	logger *zap.Logger
}

// Usage is a non-blocking snapshot of limiter state.
type Usage struct {
	CurrentRequests    int     `json:"current_requests"`
	MaxRequests        int     `json:"max_requests"`
	WindowSeconds      float64 `json:"window_seconds"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// New creates a Limiter admitting maxRequests calls per window.
func New(maxRequests int, window time.Duration, logger *zap.Logger) (*Limiter, error) {
	if maxRequests < 1 {
		return nil, ErrInvalidMaxRequests
	}
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		stamps:      make([]time.Time, 0, maxRequests),
		now:         time.Now,
		logger:      logger,
	}, nil
}

// prune drops admission stamps that have aged out of the window. The edge is
// inclusive: a stamp exactly one window old no longer blocks admission, so a
// waiter waking at the computed deadline always makes progress. Callers must
// hold mu.
func (l *Limiter) prune(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Acquire blocks until a request slot is available under the configured
// rate, then records the admission. After waking from a wait it re-checks
// from scratch, since other waiters may have claimed the freed slot first.
// A caller cancelled while waiting records no admission stamp.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.stamps) < l.maxRequests {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.stamps[0].Add(l.window).Sub(now)
		count := len(l.stamps)
		l.mu.Unlock()

		if wait > 0 {
			l.logger.Debug("rate limit reached, waiting",
				zap.Int("current_requests", count),
				zap.Int("max_requests", l.maxRequests),
				zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

// Usage reports current limiter state. It prunes before reporting, so the
// numbers are never stale by more than one window.
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return Usage{
		CurrentRequests:    len(l.stamps),
		MaxRequests:        l.maxRequests,
		WindowSeconds:      l.window.Seconds(),
		UtilizationPercent: float64(len(l.stamps)) / float64(l.maxRequests) * 100,
	}
}

// Reset clears all tracked admissions. In-flight waiters will race against
// the cleaned window on their next re-check.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = l.stamps[:0]
}
