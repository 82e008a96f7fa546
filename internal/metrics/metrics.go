// Package metrics provides Prometheus instrumentation for the matchkit
// client. Counters cover socket traffic and poll outcomes; the match
// duration histogram tracks how long users wait for a partner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SocketsOpened counts WebSocket connections dialed, labeled by channel
	// kind ("match" or "chat").
	SocketsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchkit_sockets_opened_total",
		Help: "WebSocket connections dialed",
	}, []string{"channel"})

	// FramesReceived counts inbound WebSocket frames, labeled by channel kind.
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchkit_frames_received_total",
		Help: "Inbound WebSocket frames",
	}, []string{"channel"})

	// FramesDropped counts inbound frames discarded because they failed to
	// parse, labeled by channel kind.
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchkit_frames_dropped_total",
		Help: "Inbound WebSocket frames dropped as malformed",
	}, []string{"channel"})

	// MatchPolls counts match requests issued, labeled by response status
	// ("waiting", "matched", ...) or "error" for transport failures.
	MatchPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchkit_match_polls_total",
		Help: "Match poll requests issued",
	}, []string{"status"})

	// MatchDuration records the time from Start to Matched in seconds.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchkit_match_duration_seconds",
		Help:    "Time from starting the matching loop to a confirmed match",
		Buckets: []float64{1, 3, 6, 12, 30, 60, 120, 300},
	})

	// MessagesSent counts chat frames transmitted.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchkit_messages_sent_total",
		Help: "Chat frames transmitted",
	})

	// Reports counts report submissions, labeled by outcome
	// ("ok", "duplicate", "error").
	Reports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchkit_reports_total",
		Help: "Message report submissions",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		SocketsOpened,
		FramesReceived,
		FramesDropped,
		MatchPolls,
		MatchDuration,
		MessagesSent,
		Reports,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
