package engine

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// RetrySettings bound the file tree removal loop.
type RetrySettings struct {
	// Attempts is the total number of attempts including the first.
	Attempts int

	// Delay is the constant wait between attempts.
	Delay time.Duration
}

// DefaultRetrySettings returns 3 attempts with a 2 second delay.
func DefaultRetrySettings() RetrySettings {
	return RetrySettings{Attempts: 3, Delay: 2 * time.Second}
}

// RetryPolicy runs an operation until it succeeds, fails fatally, or runs out of attempts.
type RetryPolicy struct {
	settings RetrySettings
	clock    clock.Clock
}

// NewRetryPolicy builds a policy on the given clock. A nil clock means wall time.
func NewRetryPolicy(settings RetrySettings, clk clock.Clock) *RetryPolicy {
	if settings.Attempts < 1 {
		settings.Attempts = 1
	}
	if settings.Delay <= 0 {
		// retry.CallArgs rejects a zero delay
		settings.Delay = time.Nanosecond
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &RetryPolicy{settings: settings, clock: clk}
}

// Attempts returns the configured bound.
func (p *RetryPolicy) Attempts() int {
	return p.settings.Attempts
}

// Do calls fn until it returns nil or a non-retryable error, or the bound is reached.
// notify is called after every failed attempt with the 1-based attempt number.
// It returns the number of attempts made and the last error.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error, retryable func(error) bool, notify func(err error, attempt int)) (int, error) {
	attempts := 0
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			return fn()
		},
		IsFatalError: func(err error) bool {
			return !retryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if notify != nil {
				notify(err, attempt)
			}
		},
		Attempts: p.settings.Attempts,
		Delay:    p.settings.Delay,
		Clock:    p.clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return attempts, nil
	}
	if retry.IsAttemptsExceeded(err) {
		return attempts, NewTransientLockError("retries exhausted", retry.LastError(err)).
			WithCode(ErrCodeRetriesExhausted)
	}
	if retry.IsRetryStopped(err) {
		if last := retry.LastError(err); last != nil {
			return attempts, last
		}
		return attempts, errors.Join(ctx.Err(), err)
	}
	return attempts, err
}
