// Package metrics exposes Prometheus collectors for the session engine and
// a constructor that wires them to internal/session.Hooks, so a session
// never imports the metrics library directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seroze/fixengine/internal/session"
)

var (
	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_messages_sent_total",
			Help: "Total FIX messages sent by message type",
		},
		[]string{"session", "msg_type"},
	)

	messagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_messages_received_total",
			Help: "Total FIX messages received by message type",
		},
		[]string{"session", "msg_type"},
	)

	sequenceGapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_sequence_gaps_total",
			Help: "Total inbound sequence gaps detected",
		},
		[]string{"session"},
	)

	resendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_resend_requests_total",
			Help: "Total ResendRequest messages, by direction",
		},
		[]string{"session", "direction"},
	)

	resyncEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_framer_resync_total",
			Help: "Total times the framer discarded bytes to resynchronize on a garbled stream",
		},
		[]string{"session"},
	)

	heartbeatLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fix_heartbeat_latency_ms",
			Help:    "Round-trip latency between a TestRequest and its answering Heartbeat, in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"session"},
	)

	sessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fix_session_state",
			Help: "Current session state as an enum value (see session.State)",
		},
		[]string{"session"},
	)

	sessionTerminationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fix_session_terminations_total",
			Help: "Total session terminations by reason",
		},
		[]string{"session", "reason"},
	)
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Hooks returns a session.Hooks wired to this package's collectors, labeled
// with sessionName (typically "<SenderCompID>-<TargetCompID>").
func Hooks(sessionName string) session.Hooks {
	return session.Hooks{
		OnSent: func(msgType string) {
			messagesSent.WithLabelValues(sessionName, msgType).Inc()
		},
		OnReceived: func(msgType string) {
			messagesReceived.WithLabelValues(sessionName, msgType).Inc()
		},
		OnSequenceGap: func() {
			sequenceGapsTotal.WithLabelValues(sessionName).Inc()
		},
		OnResendRequest: func(direction string) {
			resendRequestsTotal.WithLabelValues(sessionName, direction).Inc()
		},
		OnHeartbeatLatency: func(d time.Duration) {
			heartbeatLatency.WithLabelValues(sessionName).Observe(float64(d.Milliseconds()))
		},
		OnStateChange: func(st session.State) {
			sessionState.WithLabelValues(sessionName).Set(float64(st))
		},
		OnResync: func(discarded int) {
			resyncEventsTotal.WithLabelValues(sessionName).Add(float64(discarded))
		},
		OnTerminal: func(reason session.TerminalReason) {
			sessionTerminationsTotal.WithLabelValues(sessionName, string(reason)).Inc()
		},
	}
}
