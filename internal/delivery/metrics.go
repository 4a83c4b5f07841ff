package delivery

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "delivery",
		Name:      "jobs_total",
		Help:      "Delivery jobs by final result.",
	}, []string{"result"}) // accepted, failed, queue_full

	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "delivery",
		Name:      "attempts_total",
		Help:      "Delivery attempts by deliverer and result.",
	}, []string{"deliverer", "result"})

	deliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "packshop",
		Subsystem: "delivery",
		Name:      "duration_seconds",
		Help:      "Time from first attempt to final result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"deliverer"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "packshop",
		Subsystem: "delivery",
		Name:      "queue_depth",
		Help:      "Jobs waiting for a worker.",
	})
)

func init() {
	prometheus.MustRegister(jobsTotal, attemptsTotal, deliveryDuration, queueDepth)
}
