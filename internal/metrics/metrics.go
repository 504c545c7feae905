// Package metrics exposes relftpd's Prometheus collectors: this is pure
// observability layered on top of the protocol, not a protocol feature
// (§11), so it carries no influence over cwnd, window size, or any other
// wire-visible behavior.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects counters/gauges for every active and completed
// transfer.
type Metrics struct {
	PacketsSentTotal     *prometheus.CounterVec
	RetransmissionsTotal *prometheus.CounterVec // labels: arq, reason (the senders only record "timeout")
	DuplicateAcksTotal   *prometheus.CounterVec // labels: arq
	TransfersTotal       *prometheus.CounterVec // labels: operation, status
	ActiveTransfers      prometheus.Gauge
	CongestionWindow     *prometheus.GaugeVec // labels: transfer_id
	GoodputMbps          *prometheus.GaugeVec // labels: transfer_id
	Utilization          *prometheus.GaugeVec // labels: transfer_id
}

// New builds the collector set under the given namespace/subsystem,
// following promauto.NewCounterVec/NewGaugeVec conventions.
func New(namespace, subsystem string) *Metrics {
	return &Metrics{
		PacketsSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "packets_sent_total",
				Help:      "Total datagrams sent, including retransmissions.",
			},
			[]string{"arq"},
		),
		RetransmissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "retransmissions_total",
				Help:      "Total retransmitted packets by trigger.",
			},
			[]string{"arq", "reason"},
		),
		DuplicateAcksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "duplicate_acks_total",
				Help:      "Total duplicate ACKs observed.",
			},
			[]string{"arq"},
		),
		TransfersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transfers_total",
				Help:      "Total completed transfers by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		ActiveTransfers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_transfers",
				Help:      "Number of transfers currently in flight.",
			},
		),
		CongestionWindow: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cwnd",
				Help:      "Current congestion window of an active transfer.",
			},
			[]string{"transfer_id"},
		),
		GoodputMbps: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goodput_mbps",
				Help:      "Goodput of the most recently completed transfer.",
			},
			[]string{"transfer_id"},
		),
		Utilization: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "utilization",
				Help:      "Unique payload bytes over total bytes sent, including retransmissions.",
			},
			[]string{"transfer_id"},
		),
	}
}

// Handler returns the standard promhttp handler for mounting at the
// configured metrics path.
func Handler() http.Handler {
	return promhttp.Handler()
}
