package retrier

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Attempt drives one guarded call manually: Next marks an attempt start,
// sleeping the backoff before retries, and Done records the outcome and
// decides whether to retry or stop. Run is built on these same methods, so
// the wrapper and the manual form cannot drift apart.
//
// One call goes Idle -> Attempting -> Succeeded, or back through a backoff
// wait to Attempting, until a non-retryable failure or exhaustion ends it.
type Attempt struct {
	policy   *Policy
	ctx      context.Context
	attempts int
	lastErr  error
	finished bool
}

// Begin starts attempt bookkeeping for one guarded call.
func (p *Policy) Begin(ctx context.Context) *Attempt {
	return &Attempt{policy: p, ctx: ctx}
}

// Next reports whether another attempt should start. Before every attempt
// after the first it sleeps the computed backoff; a context cancellation
// during that wait finishes the call with ctx.Err().
func (a *Attempt) Next() bool {
	if a.finished || a.attempts >= a.policy.maxAttempts {
		a.finished = true
		return false
	}
	if a.attempts > 0 {
		d := a.policy.delay(a.attempts)
		a.policy.logger.Warn("attempt failed, backing off",
			zap.Int("attempt", a.attempts),
			zap.Int("max_attempts", a.policy.maxAttempts),
			zap.Duration("delay", d),
			zap.Error(a.lastErr))
		select {
		case <-a.ctx.Done():
			a.lastErr = a.ctx.Err()
			a.finished = true
			return false
		case <-time.After(d):
		}
	}
	a.attempts++
	return true
}

// Done records the outcome of the attempt just made and reports whether the
// call is finished: success, a non-retryable failure, or exhaustion. A false
// return means the caller should loop back to Next.
func (a *Attempt) Done(err error) bool {
	if err == nil {
		a.lastErr = nil
		a.finished = true
		return true
	}
	a.lastErr = err
	if !a.policy.retryable(err) {
		a.finished = true
		return true
	}
	if a.attempts >= a.policy.maxAttempts {
		a.policy.logger.Error("all attempts failed",
			zap.Int("attempts", a.attempts),
			zap.Error(err))
		a.lastErr = &ExhaustedError{Attempts: a.attempts, Err: err}
		a.finished = true
		return true
	}
	return false
}

// Err returns the final error of the guarded call, nil after success.
func (a *Attempt) Err() error { return a.lastErr }

// Number returns how many attempts have started.
func (a *Attempt) Number() int { return a.attempts }
