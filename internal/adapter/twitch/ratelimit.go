package twitch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	headerRateLimitRemaining = "Ratelimit-Remaining"
	headerRateLimitReset     = "Ratelimit-Reset"

	// maxRateLimitWait bounds how long a request is held back for a reset far in the future.
	maxRateLimitWait = time.Minute
)

// rateLimitGate holds requests back once Helix reported an exhausted bucket,
// until the advertised reset time.
type rateLimitGate struct {
	mu      sync.Mutex
	resetAt time.Time
	clock   clockwork.Clock
}

func newRateLimitGate(clock clockwork.Clock) *rateLimitGate {
	return &rateLimitGate{clock: clock}
}

// observe records the reset time when the response says no points are left.
func (g *rateLimitGate) observe(status int, h http.Header) {
	if h == nil {
		return
	}
	if status != http.StatusTooManyRequests && h.Get(headerRateLimitRemaining) != "0" {
		return
	}

	reset, ok := parseReset(h)
	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if reset.After(g.resetAt) {
		g.resetAt = reset
	}
}

// delay returns how long a request has to wait before it may be sent.
func (g *rateLimitGate) delay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.resetAt.Sub(g.clock.Now())
	if d <= 0 {
		return 0
	}
	return min(d, maxRateLimitWait)
}

// wait blocks until the gate opens or ctx is done. It reports whether it had to wait.
func (g *rateLimitGate) wait(ctx context.Context) (bool, error) {
	d := g.delay()
	if d == 0 {
		return false, nil
	}

	select {
	case <-g.clock.After(d):
		return true, nil
	case <-ctx.Done():
		return true, fmt.Errorf("waiting for twitch rate limit reset: %w", ctx.Err())
	}
}

func parseReset(h http.Header) (time.Time, bool) {
	raw := h.Get(headerRateLimitReset)
	if raw == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// retryIn is the wait hint attached to a 429 error.
func retryIn(clock clockwork.Clock, h http.Header) time.Duration {
	reset, ok := parseReset(h)
	if !ok {
		return 0
	}
	d := reset.Sub(clock.Now())
	if d <= 0 {
		return 0
	}
	return min(d, maxRateLimitWait)
}
