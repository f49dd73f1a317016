// Package metrics provides Prometheus instrumentation for the chat
// coordination service. It exposes gauges for connection and broadcast
// group counts, counters for message and delivery throughput, and a
// histogram for send-pipeline latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts send-message outcomes, labeled by result:
	// "sent", "rate_limited", "invalid", "denied", or "store_error".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of send-message attempts by outcome",
	}, []string{"result"})

	// DeliveriesTotal counts per-recipient fan-out deliveries, labeled
	// "delivered" or "failed".
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_deliveries_total",
		Help: "Total number of per-recipient event deliveries",
	}, []string{"result"})

	// SendLatency records the send pipeline latency in seconds, from
	// intent receipt through durable write and fan-out.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_send_latency_seconds",
		Help:    "Send pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ChannelGroups tracks the current number of live broadcast groups.
	ChannelGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_channel_groups",
		Help: "Current number of channel broadcast groups with members",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		DeliveriesTotal,
		SendLatency,
		ChannelGroups,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
