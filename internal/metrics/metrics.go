// Package metrics holds the client's prometheus collectors. They are
// registered with the default registry and served by the status API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "voiceclient"

var (
	SignalPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "signal",
		Name:      "pending_requests",
		Help:      "Outbound requests waiting for the control channel.",
	})
	SignalDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "signal",
		Name:      "dropped_requests_total",
		Help:      "Pending requests dropped because the queue bound was exceeded.",
	})
	SignalMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "signal",
		Name:      "messages_total",
		Help:      "Signalling messages by direction and type.",
	}, []string{"direction", "type"})
	SignalRTT = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "signal",
		Name:      "rtt_milliseconds",
		Help:      "Last ping round trip on the control channel.",
	})

	EngineState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "state",
		Help:      "Current engine state (0 idle .. 5 disconnected).",
	})
	ReconnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts by strategy.",
	}, []string{"strategy"})
	ReconnectOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "reconnect_outcomes_total",
		Help:      "Reconnect cycle results by strategy.",
	}, []string{"strategy", "result"})

	RoomEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "events_total",
		Help:      "Public room events emitted.",
	}, []string{"event"})
	RoomEventBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "event_backlog",
		Help:      "Events queued for subscribers but not yet received.",
	})
	RoomParticipants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "remote_participants",
		Help:      "Remote participants currently known.",
	})
	StaleUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "stale_updates_total",
		Help:      "Updates dropped because they referenced unknown entities.",
	})
)

func init() {
	prometheus.MustRegister(
		SignalPending, SignalDropped, SignalMessages, SignalRTT,
		EngineState, ReconnectAttempts, ReconnectOutcomes,
		RoomEvents, RoomEventBacklog, RoomParticipants, StaleUpdates,
	)
}
