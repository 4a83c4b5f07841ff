package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	requeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "reconciliation",
		Name:      "requeued_deliveries_total",
		Help:      "Stranded deliveries put back through the dispatcher.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "packshop",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation run errors.",
	})
)

func init() {
	prometheus.MustRegister(requeuedTotal, runDuration, runErrors)
}
