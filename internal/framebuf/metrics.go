package framebuf

import "github.com/prometheus/client_golang/prometheus"

var (
	framesPushed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "frames",
		Name:      "pushed_total",
		Help:      "Frames retained in the ring buffer",
	})

	framesSignificant = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "frames",
		Name:      "significant_total",
		Help:      "Frames whose change score crossed the threshold",
	})

	framesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "frames",
		Name:      "rejected_total",
		Help:      "Frames rejected by the quality gate",
	})
)

func init() {
	prometheus.MustRegister(framesPushed, framesSignificant, framesRejected)
}
