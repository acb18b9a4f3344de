package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts reconciliation outcomes.
type Metrics struct {
	Appended   prometheus.Counter
	Duplicates prometheus.Counter
	Invalid    prometheus.Counter
	Stale      prometheus.Counter
	Fallback   prometheus.Counter
	Toasts     *prometheus.CounterVec
}

// NewMetrics creates the engine counters and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Appended: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_sync_messages_appended_total",
			Help: "Messages appended to the open room.",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_sync_duplicates_dropped_total",
			Help: "Inbound messages dropped because their id was already present.",
		}),
		Invalid: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_sync_invalid_dropped_total",
			Help: "Inbound messages dropped because they carried no id.",
		}),
		Stale: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_sync_stale_history_discarded_total",
			Help: "History pages discarded because another room was selected meanwhile.",
		}),
		Fallback: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_sync_fallback_sends_total",
			Help: "Messages sent over REST because the socket was unavailable.",
		}),
		Toasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_sync_toasts_total",
			Help: "Notifications raised to the user, by kind.",
		}, []string{"kind"}),
	}
}
