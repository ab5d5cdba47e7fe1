package bus

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Total events published, per topic",
		},
		[]string{"topic"},
	)

	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Events dropped from full subscriber queues, per topic",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDropped)
}
