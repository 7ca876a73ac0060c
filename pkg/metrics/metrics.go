package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MessagesRouted counts relayed messages by payload class.
var MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meetrelay",
	Name:      "messages_routed_total",
	Help:      "Messages routed to room members, by payload class.",
}, []string{"type"})

// RoomStats is the subset of the room store the gauges read from.
type RoomStats interface {
	Rooms() int
	Participants() int
}

// RegisterRoomStats exposes live room/participant counts as gauges.
func RegisterRoomStats(src RoomStats) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "meetrelay",
		Name:      "rooms_active",
		Help:      "Rooms currently held in the store.",
	}, func() float64 { return float64(src.Rooms()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "meetrelay",
		Name:      "participants_active",
		Help:      "Participants currently joined across all rooms.",
	}, func() float64 { return float64(src.Participants()) })
}

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
