package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery metrics. At-least-once with drop-under-backpressure means
// published >= delivered and dropped accounts for the difference.
var (
	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_realtime_events_published_total",
		Help: "Message insert events handed to the broker.",
	})

	eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_realtime_events_delivered_total",
		Help: "Events delivered to subscriber callbacks.",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_realtime_events_dropped_total",
		Help: "Events dropped because a subscriber queue was full.",
	})

	mergesDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_session_merges_deduped_total",
		Help: "Delivered events suppressed as duplicates by session buffers (optimistic insert vs realtime echo).",
	})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_ws_connections",
		Help: "Open websocket connections.",
	})
)
