package metrics

import "time"

// ShipmentRecord describes a shipment emitted by the grouping engine.
type ShipmentRecord struct {
	ShipmentID    string
	Reference     string
	OrderID       string
	HeaderID      string
	CompanyID     string
	PartnerID     string
	AddressID     string
	ScheduledDate time.Time
	Moves         int
	Quantity      float64
	Time          time.Time
}

// MetricsSink records emitted shipments for observability purposes.
type MetricsSink interface {
	RecordShipments(recs []ShipmentRecord) error
}

// AllocationRejection captures a write refused for over-allocation.
type AllocationRejection struct {
	OrderID     string
	OrderLineID string
	Product     string
	Ordered     float64
	Dispatched  float64
	Available   float64
	Time        time.Time
}

// AllocationRecorder records over-allocation rejections.
type AllocationRecorder interface {
	RecordAllocationRejection(ev AllocationRejection) error
}

// LineTransition is a dispatch line state change.
type LineTransition struct {
	LineID   string
	HeaderID string
	From     string
	To       string
	Time     time.Time
}

// LineTransitionRecorder records dispatch line state changes.
type LineTransitionRecorder interface {
	RecordLineTransition(ev LineTransition) error
}

// GroupFailure describes a shipment group that could not be emitted.
type GroupFailure struct {
	HeaderID string
	Reason   string
	Lines    int
	Time     time.Time
}

// GroupFailureRecorder records per-group materialization failures.
type GroupFailureRecorder interface {
	RecordGroupFailure(ev GroupFailure) error
}

// NopSink implements MetricsSink and every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordShipments([]ShipmentRecord) error              { return nil }
func (NopSink) RecordAllocationRejection(AllocationRejection) error { return nil }
func (NopSink) RecordLineTransition(LineTransition) error           { return nil }
func (NopSink) RecordGroupFailure(GroupFailure) error               { return nil }
