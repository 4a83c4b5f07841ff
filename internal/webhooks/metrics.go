package webhooks

import "github.com/prometheus/client_golang/prometheus"

var (
	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "webhooks",
		Name:      "notifications_total",
		Help:      "Payment notifications by result.",
	}, []string{"result"}) // applied, duplicate, ignored, rejected, unauthenticated, malformed, not_found, error

	verificationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "webhooks",
		Name:      "verification_failures_total",
		Help:      "Notifications rejected by the authenticity check.",
	}, []string{"verifier"})

	ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "packshop",
		Subsystem: "webhooks",
		Name:      "ingest_duration_seconds",
		Help:      "Time to verify, correlate and apply a notification.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

func init() {
	prometheus.MustRegister(notificationsTotal, verificationFailures, ingestDuration)
}
