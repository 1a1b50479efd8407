package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics records request activity on the node's HTTP surface.
type RPCMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	rpcOnce     sync.Once
	rpcRegistry *RPCMetrics
)

// RPC returns the lazily-initialised request metrics registry.
func RPC() *RPCMetrics {
	rpcOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Count of HTTP requests by route and status class.",
			}, []string{"route", "status"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Count of failed HTTP requests by route.",
			}, []string{"route"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendledger",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Request latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.errors, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records one completed request.
func (m *RPCMetrics) Observe(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route = normalizeRoute(route)
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route).Inc()
	}
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func normalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		return "unknown"
	}
	return route
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
