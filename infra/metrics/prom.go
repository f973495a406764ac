package metrics

import (
	coremetrics "github.com/kilianp07/orderdispatch/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records shipments and allocation activity in Prometheus metrics.
type PromSink struct {
	shipments  *prometheus.CounterVec
	moves      prometheus.Histogram
	rejections *prometheus.CounterVec
	lines      *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The Prometheus server should be started separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.shipments, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipments_emitted_total",
		Help: "Shipments emitted per company",
	}, []string{"company_id"})); err != nil {
		return nil, err
	}
	if s.moves, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipment_moves",
		Help:    "Number of moves per emitted shipment",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})); err != nil {
		return nil, err
	}
	if s.rejections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_rejections_total",
		Help: "Writes refused for over-allocation per product",
	}, []string{"product"})); err != nil {
		return nil, err
	}
	if s.lines, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "line_state_changes_total",
		Help: "Dispatch line state changes",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}
	if s.failures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_group_failures_total",
		Help: "Shipment groups left in draft after a failure",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordShipments increments the shipment counter and observes move counts.
func (s *PromSink) RecordShipments(recs []coremetrics.ShipmentRecord) error {
	for _, r := range recs {
		s.shipments.WithLabelValues(r.CompanyID).Inc()
		s.moves.Observe(float64(r.Moves))
	}
	return nil
}

// RecordAllocationRejection counts an over-allocation rejection.
func (s *PromSink) RecordAllocationRejection(ev coremetrics.AllocationRejection) error {
	s.rejections.WithLabelValues(ev.Product).Inc()
	return nil
}

// RecordLineTransition counts a dispatch line state change.
func (s *PromSink) RecordLineTransition(ev coremetrics.LineTransition) error {
	s.lines.WithLabelValues(ev.From, ev.To).Inc()
	return nil
}

// RecordGroupFailure counts a failed shipment group.
func (s *PromSink) RecordGroupFailure(ev coremetrics.GroupFailure) error {
	s.failures.WithLabelValues(ev.Reason).Inc()
	return nil
}
