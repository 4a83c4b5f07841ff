package orders

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Total orders created.",
	})

	referenceConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "orders",
		Name:      "reference_conflicts_total",
		Help:      "Payment reference collisions resolved by regeneration.",
	})

	transitionsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Order state transitions by source and target state.",
	}, []string{"from", "to"})

	eventOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "orders",
		Name:      "event_outcomes_total",
		Help:      "Events applied to orders by event and outcome.",
	}, []string{"event", "outcome"}) // outcome: applied, duplicate, rejected

	latePaymentConfirmations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "packshop",
		Name:      "late_payment_confirmations_total",
		Help:      "Payment confirmations received for orders already failed or expired.",
	})

	deliveryResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "packshop",
		Subsystem: "orders",
		Name:      "delivery_results_total",
		Help:      "Delivery outcomes recorded on orders.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(
		ordersCreated,
		referenceConflicts,
		transitionsApplied,
		eventOutcomes,
		latePaymentConfirmations,
		deliveryResults,
	)
}
