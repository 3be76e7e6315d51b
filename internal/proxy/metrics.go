package proxy

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dav_proxy_requests_total",
			Help: "Forwarded requests by method and response status",
		},
		[]string{"method", "code"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dav_proxy_request_duration_seconds",
			Help:    "Time from receiving a request to writing the response",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dav_proxy_upstream_errors_total",
			Help: "Requests that could not be forwarded, by cause",
		},
		[]string{"cause"},
	)
	upstreamUnauthorized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dav_proxy_upstream_unauthorized_total",
			Help: "Upstream 401 responses",
		},
	)
)

// MetricsCollectors returns collectors for the forwarder.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		requestsTotal,
		requestDuration,
		upstreamErrors,
		upstreamUnauthorized,
	}
}
