// Package metrics provides Prometheus instrumentation for the support
// widget. It exposes a gauge for the connection state, counters for attempt
// and message throughput, and a histogram for connect latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionState mirrors the connection state machine:
	// 0=disconnected, 1=connecting, 2=connected, 3=reconnecting.
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "widget_connection_state",
		Help: "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting)",
	})

	// ConnectAttemptsTotal counts every dial attempt, including retries.
	ConnectAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "widget_connect_attempts_total",
		Help: "Total number of transport dial attempts",
	})

	// ReconnectsTotal counts retries scheduled after a failure or drop.
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "widget_reconnects_total",
		Help: "Total number of reconnection attempts scheduled",
	})

	// MessagesTotal counts event frames processed, labeled by direction:
	// "inbound" or "outbound".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "widget_messages_total",
		Help: "Total number of event frames processed",
	}, []string{"direction"})

	// TypingSignalsTotal counts typing signals emitted to the server.
	TypingSignalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "widget_typing_signals_total",
		Help: "Total number of typing signals emitted",
	})

	// ConnectLatency records successful handshake latency in seconds.
	ConnectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "widget_connect_latency_seconds",
		Help:    "Transport handshake latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionState,
		ConnectAttemptsTotal,
		ReconnectsTotal,
		MessagesTotal,
		TypingSignalsTotal,
		ConnectLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
