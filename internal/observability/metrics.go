package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "analysis_engine",
		Subsystem: "pipeline",
		Name:      "activities_created_total",
		Help:      "Number of new activities appended to day buckets.",
	})

	activitiesExtended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "analysis_engine",
		Subsystem: "pipeline",
		Name:      "activities_extended_total",
		Help:      "Number of committed extensions of an existing last activity.",
	})

	extensionsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "analysis_engine",
		Subsystem: "pipeline",
		Name:      "extensions_skipped_total",
		Help:      "Number of sub-window extensions dropped to avoid write amplification.",
	})

	eventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analysis_engine",
		Subsystem: "pipeline",
		Name:      "events_rejected_total",
		Help:      "Number of events rejected by time validation, by reason.",
	}, []string{"reason"})

	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analysis_engine",
		Subsystem: "cache",
		Name:      "last_activity_lookups_total",
		Help:      "Last-activity cache lookups by outcome.",
	}, []string{"outcome"})

	lockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "analysis_engine",
		Subsystem: "locks",
		Name:      "user_lock_wait_seconds",
		Help:      "Time spent waiting for the per-user lock.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
	})
)

func init() {
	prometheus.MustRegister(activitiesCreated, activitiesExtended, extensionsSkipped,
		eventsRejected, cacheLookups, lockWaitSeconds)
}

// RecordActivityCreated counts a newly appended activity.
func RecordActivityCreated() {
	activitiesCreated.Inc()
}

// RecordActivityExtended counts a committed extension.
func RecordActivityExtended() {
	activitiesExtended.Inc()
}

// RecordExtensionSkipped counts a dropped sub-window extension.
func RecordExtensionSkipped() {
	extensionsSkipped.Inc()
}

// RecordEventRejected counts a validation rejection by reason code.
func RecordEventRejected(reason string) {
	eventsRejected.WithLabelValues(reason).Inc()
}

// RecordCacheLookup counts a last-activity cache lookup outcome ("hit" or
// "miss").
func RecordCacheLookup(outcome string) {
	cacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveLockWait records how long an event waited for its user lock.
func ObserveLockWait(d time.Duration) {
	lockWaitSeconds.Observe(d.Seconds())
}
