// Package retrypolicy runs a fallible login step with bounded retries, jittered
// backoff and a per-attempt deadline.
package retrypolicy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"

	"steam-sessions/internal/auth"
)

const (
	DefaultRetries        = 5
	DefaultDelay          = 10 * time.Second
	DefaultMaxJitter      = 50 * time.Second
	DefaultAttemptTimeout = 35 * time.Second
)

// Policy retries an operation Retries times after the first attempt.
type Policy struct {
	Retries        int
	Delay          time.Duration
	MaxJitter      time.Duration
	AttemptTimeout time.Duration

	// OnRetry runs after a failed attempt that will be retried. attempt is 1-based.
	OnRetry func(attempt int, err error)
}

func Default() Policy {
	return Policy{
		Retries:        DefaultRetries,
		Delay:          DefaultDelay,
		MaxJitter:      DefaultMaxJitter,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Result reports how many attempts ran, including the successful one.
type Result struct {
	Attempts int
}

func (r Result) Retries() int {
	if r.Attempts <= 1 {
		return 0
	}
	return r.Attempts - 1
}

// Do calls fn until it succeeds, fails with a terminal error, the attempts run
// out or ctx ends. The returned error wraps the last failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (Result, error) {
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	attempts := 0

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(retries + 1)),
		retry.Delay(p.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return Retryable(ctx, err)
		}),
		retry.OnRetry(func(n uint, err error) {
			if p.OnRetry != nil && int(n) < retries && Retryable(ctx, err) {
				p.OnRetry(int(n)+1, err)
			}
		}),
	}
	if p.MaxJitter > 0 {
		opts = append(opts,
			retry.MaxJitter(p.MaxJitter),
			retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		)
	} else {
		opts = append(opts, retry.DelayType(retry.FixedDelay))
	}

	err := retry.Do(func() error {
		attempts++
		return p.attempt(ctx, attempts, fn)
	}, opts...)
	res := Result{Attempts: attempts}
	if err == nil {
		return res, nil
	}
	if attempts == 0 {
		return res, err
	}
	return res, fmt.Errorf("failed after %d attempt(s): %w", attempts, err)
}

func (p Policy) attempt(ctx context.Context, n int, fn func(ctx context.Context, attempt int) error) error {
	return WithTimeout(ctx, p.AttemptTimeout, func(attemptCtx context.Context) error {
		return fn(attemptCtx, n)
	})
}

// WithTimeout runs fn under a deadline of timeout (none when <= 0). A failure
// caused by that deadline, rather than by ctx, is reported as auth.ErrTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, auth.ErrTimeout) {
		return fmt.Errorf("%w after %s: %w", auth.ErrTimeout, timeout, err)
	}
	return err
}

// Retryable reports whether err is worth another attempt while ctx is alive.
func Retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if auth.IsTerminal(err) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
