package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pscheid92/twitch-analytics/internal/domain"
	"github.com/pscheid92/twitch-analytics/internal/platform/retry"
)

// APIError describes a failed call to Twitch. It unwraps to one of the domain
// sentinels (Kind) and, for transport failures, to the underlying error.
type APIError struct {
	Endpoint   string
	StatusCode int // 0 when no response was received
	Message    string
	Kind       error
	Err        error
	RetryIn    time.Duration

	// tokenRejected is set when Helix answered 401 for the token we sent.
	tokenRejected bool
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("twitch %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("twitch %s: status %d", e.Endpoint, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("twitch %s: %v", e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("twitch %s: %v", e.Endpoint, e.Kind)
	}
}

func (e *APIError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// RetryAfter implements retry.Delayer.
func (e *APIError) RetryAfter() time.Duration {
	return e.RetryIn
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusBadRequest:
		return domain.ErrInvalidQuery
	case status == http.StatusUnauthorized:
		return domain.ErrAuthentication
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return domain.ErrUpstream
	}
}

// classify maps an attempt's error to a retry action. A rejected token is not
// retried here: call re-authenticates once outside the attempt budget.
func classify(err error) retry.Action {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Stop
	case errors.Is(err, domain.ErrRateLimited):
		return retry.After
	case errors.Is(err, domain.ErrUpstream):
		return retry.Retry
	default:
		return retry.Stop
	}
}

// isTokenRejected reports whether Helix answered 401 for the token we sent.
func isTokenRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.tokenRejected
}

// isFailure reports whether err should count against the circuit breaker.
// The caller giving up says nothing about Twitch's health.
func isFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, domain.ErrUpstream)
}
