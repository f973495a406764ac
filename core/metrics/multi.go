package metrics

// MultiSink fans out records to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordShipments forwards the records to all sinks, returning the first error encountered.
func (m *MultiSink) RecordShipments(recs []ShipmentRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordShipments(recs); err != nil {
			return err
		}
	}
	return nil
}

// RecordAllocationRejection forwards rejections to sinks supporting them.
func (m *MultiSink) RecordAllocationRejection(ev AllocationRejection) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(AllocationRecorder); ok {
			if err := rec.RecordAllocationRejection(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordLineTransition forwards line transitions.
func (m *MultiSink) RecordLineTransition(ev LineTransition) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(LineTransitionRecorder); ok {
			if err := rec.RecordLineTransition(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordGroupFailure forwards group failures.
func (m *MultiSink) RecordGroupFailure(ev GroupFailure) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(GroupFailureRecorder); ok {
			if err := rec.RecordGroupFailure(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
