package metrics

import "github.com/prometheus/client_golang/prometheus"

// UpstreamMetrics tracks calls from the service to the Twitch Helix API.
type UpstreamMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Retries         *prometheus.CounterVec
	RateLimitWaits  prometheus.Counter
	BreakerState    prometheus.Gauge
}

func NewUpstreamMetrics(reg prometheus.Registerer) *UpstreamMetrics {
	m := &UpstreamMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitch",
			Name:      "requests_total",
			Help:      "Total number of Helix requests, by endpoint and status code (\"error\" for transport failures).",
		}, []string{"endpoint", "status_code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "twitch",
			Name:      "request_duration_seconds",
			Help:      "Duration of Helix requests in seconds.",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitch",
			Name:      "retries_total",
			Help:      "Total number of retried Helix requests, by endpoint.",
		}, []string{"endpoint"}),
		RateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitch",
			Name:      "rate_limit_waits_total",
			Help:      "Total number of requests delayed until the Helix rate limit reset.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "twitch",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Retries, m.RateLimitWaits, m.BreakerState)
	return m
}
