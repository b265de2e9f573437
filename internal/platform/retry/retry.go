// Package retry runs an operation until it succeeds, fails permanently, or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // rate-limited, use the rate-limit backoff or the error's own delay
)

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration // zero means unbounded
	RateLimitBackoff time.Duration
	Clock            clockwork.Clock // nil means the real clock
	OnRetry          func(attempt int, err error, backoff time.Duration)
}

// Delayer is implemented by errors that know how long to wait before the next attempt,
// e.g. from a Ratelimit-Reset header. It only applies to errors classified as After.
type Delayer interface {
	RetryAfter() time.Duration
}

type Classify func(err error) Action

// Operation receives the 1-based attempt number.
type Operation[T any] func(attempt int) (T, error)

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, errors.New("retry: MaxAttempts must be >= 1")
	}

	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	backoff := p.InitialBackoff

	for attempt := 1; ; attempt++ {
		val, err := op(attempt)
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		wait := backoff
		if action == After {
			wait = p.RateLimitBackoff
			var d Delayer
			if errors.As(err, &d) && d.RetryAfter() > 0 {
				wait = d.RetryAfter()
			}
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		if wait > 0 {
			select {
			case <-clock.After(wait):
			case <-ctx.Done():
				return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			}
		} else if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}

		if action == Retry {
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}
	}
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
