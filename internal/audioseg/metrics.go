package audioseg

import "github.com/prometheus/client_golang/prometheus"

var (
	utterancesFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "audio",
		Name:      "utterances_total",
		Help:      "Utterances flushed to the bus",
	})

	utterancesForced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "audio",
		Name:      "utterances_forced_total",
		Help:      "Utterances flushed by the max-duration cap",
	})
)

func init() {
	prometheus.MustRegister(utterancesFlushed, utterancesForced)
}
