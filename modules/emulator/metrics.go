package emulator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	messages    *prometheus.CounterVec
	roomsOpened prometheus.Counter
	connections prometheus.Gauge
}

// newMetrics registers the emulator collectors, plus the Go runtime ones, on reg.
func newMetrics(reg *prometheus.Registry) *metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_emulator_messages_total",
			Help: "Messages stored, by the transport they arrived on.",
		}, []string{"transport"}),
		roomsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_emulator_rooms_created_total",
			Help: "Direct rooms created.",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_emulator_socket_connections",
			Help: "Open socket connections.",
		}),
	}
}
