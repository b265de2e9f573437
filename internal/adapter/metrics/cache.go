package metrics

import "github.com/prometheus/client_golang/prometheus"

// TokenMetrics tracks the app access token cache of the Twitch client.
type TokenMetrics struct {
	Hits      prometheus.Counter
	Refreshes *prometheus.CounterVec
	Shared    prometheus.Counter
}

func NewTokenMetrics(reg prometheus.Registerer) *TokenMetrics {
	m := &TokenMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "cache_hits_total",
			Help:      "Total number of token lookups served from the cached token.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "refreshes_total",
			Help:      "Total number of calls to the OAuth token endpoint, by result.",
		}, []string{"result"}),
		Shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "refreshes_shared_total",
			Help:      "Total number of token lookups that joined a refresh already in flight.",
		}),
	}

	reg.MustRegister(m.Hits, m.Refreshes, m.Shared)
	return m
}
