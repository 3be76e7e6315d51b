package oauth

import "github.com/prometheus/client_golang/prometheus"

var (
	tokenRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dav_proxy_oauth_token_requests_total",
			Help: "Token requests by how they were served (cache, flight, error)",
		},
		[]string{"result"},
	)
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dav_proxy_oauth_refresh_total",
			Help: "Refresh token grants by outcome",
		},
		[]string{"outcome"},
	)
	authorizationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dav_proxy_oauth_authorization_total",
			Help: "Interactive authorization flows by outcome",
		},
		[]string{"outcome"},
	)
	invalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dav_proxy_oauth_invalidations_total",
			Help: "Access tokens invalidated after the upstream rejected them",
		},
	)
	tokenValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dav_proxy_oauth_token_valid",
			Help: "Cached access token validity (1=valid, 0=invalid)",
		},
	)
	tokenPersisted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dav_proxy_oauth_token_persisted",
			Help: "Whether the cached token is saved to the token file (1=yes, 0=no)",
		},
	)
)

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// MetricsCollectors returns collectors for the credential lifecycle.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		tokenRequests,
		refreshTotal,
		authorizationTotal,
		invalidations,
		tokenValid,
		tokenPersisted,
	}
}
