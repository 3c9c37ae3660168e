// Package metrics exposes the diagnostics spec.md section 7 names
// (corrupt packets, retransmits, NAT churn) as Prometheus counters and
// gauges, scraped over HTTP by an operator's monitoring stack.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doismellburning/athernet/internal/mac"
)

// Registry owns one private prometheus.Registry (rather than the global
// default) so multiple nodes in the same test process don't collide on
// duplicate metric registration.
type Registry struct {
	reg *prometheus.Registry

	CorruptPackets    prometheus.Counter
	MacRetransmits    prometheus.Gauge
	MacPacketsSent    prometheus.Gauge
	MacPacketsRecv    prometheus.Gauge
	NatMappingsActive *prometheus.GaugeVec
	TCPRetransmits    prometheus.Counter
}

// NewRegistry builds and registers the full metric set.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		CorruptPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "athernet_corrupt_packets_total",
			Help: "IPv4 datagrams discarded by the broker after failing their header checksum.",
		}),
		MacRetransmits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "athernet_mac_retransmits_total",
			Help: "MAC-layer data packets retransmitted after timing out unacknowledged (cumulative).",
		}),
		MacPacketsSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "athernet_mac_packets_sent_total",
			Help: "MAC-layer data packets sent for the first time, excluding retransmits (cumulative).",
		}),
		MacPacketsRecv: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "athernet_mac_packets_received_total",
			Help: "MAC-layer packets of any type received addressed to this node (cumulative).",
		}),
		NatMappingsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "athernet_nat_mappings_active",
			Help: "Currently live NAT port mappings, by transport protocol.",
		}, []string{"protocol"}),
		TCPRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "athernet_tcp_retransmits_total",
			Help: "TCP segments retransmitted after timing out unacknowledged.",
		}),
	}

	r.reg.MustRegister(
		r.CorruptPackets,
		r.MacRetransmits,
		r.MacPacketsSent,
		r.MacPacketsRecv,
		r.NatMappingsActive,
		r.TCPRetransmits,
	)

	return r
}

// Handler serves the registered metrics in the Prometheus exposition
// format, for wiring into an operator's HTTP mux.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SampleMac mirrors a mac.Stats snapshot's cumulative counters into the
// registry; called periodically (e.g. from a node's main loop) since Mac
// tracks its own running totals rather than pushing deltas.
func (r *Registry) SampleMac(stats mac.Stats) {
	r.MacPacketsSent.Set(float64(stats.PacketsSent))
	r.MacPacketsRecv.Set(float64(stats.PacketsReceived))
	r.MacRetransmits.Set(float64(stats.Retransmits))
}

// SetNatMappings records the current mapping count for protocol (one of
// "tcp", "udp", "icmp").
func (r *Registry) SetNatMappings(protocol string, count int) {
	r.NatMappingsActive.WithLabelValues(protocol).Set(float64(count))
}
