// Package metrics exposes the node's Prometheus instrumentation, following
// the package-level-vector-plus-registration pattern of this project's
// teacher codebase (nspcc-dev/neo-go's cli/server/metrics.go), but scoped
// to its own registry rather than the global default one so that multiple
// Client instances (as in tests) can coexist.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge/counter/histogram the network core reports.
type Metrics struct {
	registry *prometheus.Registry

	PeersConnected prometheus.Gauge
	MessagesTotal  *prometheus.CounterVec
	RTT            prometheus.Histogram
}

// New builds a fresh, independently registered Metrics set.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatmesh",
			Name:      "connected_peers",
			Help:      "Number of peers currently connected.",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatmesh",
			Name:      "messages_total",
			Help:      "Messages processed, by wire type and direction.",
		}, []string{"type", "direction"}),
		RTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatmesh",
			Name:      "rtt_milliseconds",
			Help:      "Round-trip time samples recorded from PING/PONG exchanges.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	reg.MustRegister(m.PeersConnected, m.MessagesTotal, m.RTT)
	return m
}

// Handler serves the registry's exposition format, for mounting on an
// optional metrics.port HTTP listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
