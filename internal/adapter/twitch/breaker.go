package twitch

import (
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/twitch-analytics/internal/adapter/metrics"
)

// BreakerSettings configures the circuit breaker in front of Twitch.
type BreakerSettings struct {
	FailureRate      float64
	MinExecutions    uint
	Window           time.Duration
	OpenDelay        time.Duration
	SuccessThreshold uint
}

// DefaultBreakerSettings opens the breaker at 60% failures over at least 5 calls
// within 10s, and probes again after 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureRate:      0.6,
		MinExecutions:    5,
		Window:           10 * time.Second,
		OpenDelay:        30 * time.Second,
		SuccessThreshold: 1,
	}
}

func newBreaker(s BreakerSettings, m *metrics.UpstreamMetrics) circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(s.FailureRate, s.MinExecutions, s.Window).
		WithDelay(s.OpenDelay).
		WithSuccessThreshold(s.SuccessThreshold).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "twitch",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.BreakerState.Set(stateToFloat(e.NewState))
		}).
		Build()
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}
