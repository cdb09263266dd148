// Package metrics defines the Prometheus collectors exposed at /metrics.
// This is an ambient addition: it must never influence firewall decisions,
// only observe them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BlockedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechain_blocked_requests_total",
			Help: "Number of requests blocked by the firewall, by product.",
		},
		[]string{"product"},
	)

	MalwareListRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechain_malware_list_refresh_total",
			Help: "Malware list refresh attempts, by list and outcome.",
		},
		[]string{"list", "outcome"},
	)

	ProxiedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "safechain_proxied_requests_total",
			Help: "Total requests handled by the proxy, blocked or allowed.",
		},
	)
)

func init() {
	prometheus.MustRegister(BlockedRequestsTotal, MalwareListRefreshTotal, ProxiedRequestsTotal)
}
