package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the lifecycle counters exported on /metrics.
type Metrics struct {
	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	conflicts     prometheus.Counter
	sideEffects   *prometheus.CounterVec
	sweepExpired  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	outbox        *prometheus.CounterVec
}

// NewMetrics registers the lifecycle metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Committed booking transitions by from_state, to_state and event",
		}, []string{"from_state", "to_state", "event"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_transition_rejections_total",
			Help: "Rejected booking events by event and reason",
		}, []string{"event", "reason"}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "booking_commit_conflicts_total",
			Help: "Optimistic version conflicts seen while committing a transition",
		}),
		sideEffects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_side_effects_total",
			Help: "Side effects by kind and outcome (dispatched or deferred)",
		}, []string{"kind", "outcome"}),
		sweepExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_sweeper_bookings_total",
			Help: "Bookings visited by the expiry sweeper by state and outcome",
		}, []string{"state", "outcome"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "booking_sweeper_duration_seconds",
			Help:    "Duration of one expiry sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		outbox: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_outbox_deliveries_total",
			Help: "Deferred side effect delivery attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
}

// NewNopMetrics returns metrics bound to a private registry.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
