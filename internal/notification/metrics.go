package notification

import "github.com/prometheus/client_golang/prometheus"

var deliveryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "analysis_engine",
	Subsystem: "notification",
	Name:      "conflict_deliveries_total",
	Help:      "Conflict message deliveries by destination kind and outcome.",
}, []string{"destination", "outcome"})

func init() {
	prometheus.MustRegister(deliveryCounter)
}

func recordDelivery(destination string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	deliveryCounter.WithLabelValues(destination, outcome).Inc()
}
