// Package metrics exposes aggregator counters in the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/flashbots/fedledger/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "fedledger"

// Metrics holds the counters updated when a round commits. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	roundsCompleted  prometheus.Counter
	recordsAccepted  prometheus.Counter
	recordsDiscarded *prometheus.CounterVec
}

// New registers the counters, plus the Go runtime and process collectors, on
// a registry private to the returned Metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		roundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rounds_completed_total",
			Help:      "Rounds aggregated and checkpointed",
		}),
		recordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_accepted_total",
			Help:      "Update records that passed verification in a committed round",
		}),
		recordsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_discarded_total",
			Help:      "Update records discarded in a committed round, by reason",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.roundsCompleted,
		m.recordsAccepted,
		m.recordsDiscarded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Every reason is exported from the start, at zero.
	for _, reason := range []protocol.RejectReason{
		protocol.RejectUnknownClient,
		protocol.RejectTamperedOrCorrupt,
		protocol.RejectInvalidSignature,
		protocol.RejectMalformedPayload,
	} {
		m.recordsDiscarded.WithLabelValues(string(reason))
	}

	return m
}

// RoundCompleted records one committed round.
func (m *Metrics) RoundCompleted(accepted int, discarded []protocol.RejectReason) {
	if m == nil {
		return
	}
	m.roundsCompleted.Inc()
	m.recordsAccepted.Add(float64(accepted))
	for _, reason := range discarded {
		m.recordsDiscarded.WithLabelValues(string(reason)).Inc()
	}
}

// Registry returns the registry the counters live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry at any path.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NewServer returns an http.Server that serves m on /metrics at addr.
func NewServer(addr string, m *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
