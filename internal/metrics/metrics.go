// Package metrics provides Prometheus instrumentation for the presence
// core: connection and registry gauges, event throughput counters, and
// query latency histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nearby_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RegisteredUsers tracks the current number of connections bound to a user.
	RegisteredUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nearby_registered_connections",
		Help: "Current number of connections registered to a user identity",
	})

	// LocationUpdatesTotal counts accepted location upserts.
	LocationUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nearby_location_updates_total",
		Help: "Total number of accepted location updates",
	})

	// NearbyQueriesTotal counts spatial queries by outcome: "local" when the
	// radius search produced results, "fallback" when the global sample was
	// substituted.
	NearbyQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearby_queries_total",
		Help: "Total number of nearby queries by result kind",
	}, []string{"result"}) // result = "local", "fallback"

	// QueryDuration records end-to-end nearby query latency, including
	// profile enrichment.
	QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nearby_query_duration_seconds",
		Help:    "Nearby query latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MatchNotificationsTotal counts match notifications that passed the
	// cooldown ledger and were delivered.
	MatchNotificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nearby_match_notifications_total",
		Help: "Total number of match notifications delivered",
	})

	// RoomMessagesTotal counts chat signaling traffic: "in" for accepted
	// sends, "fanout" for per-connection deliveries.
	RoomMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearby_room_messages_total",
		Help: "Total number of room messages by direction",
	}, []string{"direction"}) // direction = "in", "fanout"
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RegisteredUsers,
		LocationUpdatesTotal,
		NearbyQueriesTotal,
		QueryDuration,
		MatchNotificationsTotal,
		RoomMessagesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
