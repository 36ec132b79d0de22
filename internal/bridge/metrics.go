package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exposed through the debug listener's /metrics endpoint.
var (
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmbridge_frames_sent_total",
		Help: "Frames sent to the gamemode client, by command.",
	}, []string{"command"})

	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmbridge_frames_received_total",
		Help: "Frames received from the gamemode client, by command.",
	}, []string{"command"})

	nativeInvocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmbridge_native_invocations_total",
		Help: "Native function invocations dispatched for the client.",
	})

	publicCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmbridge_public_calls_total",
		Help: "Gamemode events forwarded to the client.",
	})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmbridge_client_reconnects_total",
		Help: "Reconnects requested by the gamemode client.",
	})

	unexpectedDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmbridge_unexpected_disconnects_total",
		Help: "Client sessions lost without a reconnect request.",
	})

	desyncReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmbridge_desync_replies_total",
		Help: "Replies that arrived with no request waiting on them.",
	})
)
