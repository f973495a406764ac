package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	shipmentsMaterialized   prometheus.Counter
	groupFailures           *prometheus.CounterVec
	overAllocationRejects   prometheus.Counter
	lineTransitions         *prometheus.CounterVec
	materializationDuration prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, *prometheus.CounterVec, prometheus.Counter, *prometheus.CounterVec, prometheus.Histogram) {
	shp := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_shipments_materialized_total",
			Help: "Number of shipments emitted by dispatch grouping",
		},
	)
	fail := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_group_failures_total",
			Help: "Number of shipment groups rolled back during materialization",
		},
		[]string{"reason"},
	)
	over := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_overallocation_rejections_total",
			Help: "Number of operations rejected for over-allocation",
		},
	)
	lines := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_line_transitions_total",
			Help: "Number of dispatch line state changes",
		},
		[]string{"to"},
	)
	dur := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_materialization_seconds",
			Help:    "Duration of a materialization run",
			Buckets: prometheus.DefBuckets,
		},
	)
	return shp, fail, over, lines, dur
}

func init() {
	shipmentsMaterialized, groupFailures, overAllocationRejects, lineTransitions, materializationDuration = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(shipmentsMaterialized, groupFailures, overAllocationRejects, lineTransitions, materializationDuration)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	shipmentsMaterialized, groupFailures, overAllocationRejects, lineTransitions, materializationDuration = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
