package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetsync/pkg/logger"
)

// Policy retries a fallible operation with an optionally doubling delay.
// Only the error of the final attempt is returned to the caller; earlier
// failures are reported through the logger and OnRetry.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first. Values below 1 behave as 1.
	MaxAttempts int

	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration

	// Exponential doubles the delay after every failed attempt.
	Exponential bool

	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(Attempt)

	Logger *logger.Logger
}

// Attempt describes a failed try that is about to be retried.
type Attempt struct {
	Operation   string
	Number      int
	MaxAttempts int
	Delay       time.Duration
	Err         error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Exponential:  true,
	}
}

// WithDelay returns a copy of the policy using a different initial delay.
func (p Policy) WithDelay(d time.Duration) Policy {
	p.InitialDelay = d
	return p
}

// Do runs fn until it succeeds, returns a permanent error, the context is
// cancelled, or the attempts run out.
func (p Policy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	log := p.Logger
	if log == nil {
		log = logger.NewDefault()
	}

	delay := p.InitialDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt >= maxAttempts {
			if maxAttempts > 1 {
				log.Warn("final attempt failed", map[string]any{
					"operation":    operation,
					"attempt":      attempt,
					"max_attempts": maxAttempts,
					"error":        err.Error(),
				})
				return fmt.Errorf("%s failed after %d attempts: %w", operation, attempt, err)
			}
			return err
		}

		log.Warn("attempt failed, retrying", map[string]any{
			"operation":    operation,
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"delay":        delay.String(),
			"error":        err.Error(),
		})
		if p.OnRetry != nil {
			p.OnRetry(Attempt{
				Operation:   operation,
				Number:      attempt,
				MaxAttempts: maxAttempts,
				Delay:       delay,
				Err:         err,
			})
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s cancelled during backoff: %w", operation, ctx.Err())
			case <-timer.C:
			}
		}

		if p.Exponential {
			delay *= 2
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do returns it immediately without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}
