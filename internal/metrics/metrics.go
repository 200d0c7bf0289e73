// Package metrics defines the gateway's Prometheus collectors. Everything is
// registered on the default registry and exposed at /metrics on the local mux.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyRequests counts forwarded requests by handling class and outcome.
	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrgate_proxy_requests_total",
		Help: "Forwarded upstream requests by handling class and status bucket.",
	}, []string{"class", "status"})

	// UpstreamErrors counts transport-level upstream failures.
	UpstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvrgate_upstream_errors_total",
		Help: "Upstream requests that failed before a response was received.",
	})

	// UpstreamLatency observes time to complete an upstream call.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nvrgate_upstream_latency_seconds",
		Help:    "Upstream request latency by handling class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"class"})

	// TranscodeJobs counts probe/encode pipeline outcomes.
	TranscodeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrgate_transcode_jobs_total",
		Help: "Transcode pipeline operations by kind and outcome.",
	}, []string{"kind", "outcome"})

	// WSBridges counts WebSocket proxy sessions.
	WSBridges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvrgate_ws_bridges_total",
		Help: "WebSocket upgrade requests successfully bridged upstream.",
	})
)

// StatusBucket collapses an HTTP status into its class label ("2xx", "4xx", …).
func StatusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
