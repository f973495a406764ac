package events

import (
	"time"

	"github.com/kilianp07/orderdispatch/core/model"
)

// Event is implemented by every event published by the dispatch engine.
// Type is used as the last topic segment by transports.
type Event interface {
	Type() string
}

// HeaderEvent is published when a dispatch header changes state.
type HeaderEvent struct {
	HeaderID  string              `json:"header_id"`
	OrderID   string              `json:"order_id"`
	Reference string              `json:"reference"`
	From      model.DispatchState `json:"from"`
	To        model.DispatchState `json:"to"`
	Time      time.Time           `json:"time"`
}

func (HeaderEvent) Type() string { return "header" }

// LineEvent is published when a dispatch line changes state.
type LineEvent struct {
	LineID   string              `json:"line_id"`
	HeaderID string              `json:"header_id"`
	OrderID  string              `json:"order_id"`
	From     model.DispatchState `json:"from"`
	To       model.DispatchState `json:"to"`
	Time     time.Time           `json:"time"`
}

func (LineEvent) Type() string { return "line" }

// ShipmentEvent is published when a shipment is emitted or changes state.
type ShipmentEvent struct {
	ShipmentID    string              `json:"shipment_id"`
	Reference     string              `json:"reference"`
	OrderID       string              `json:"order_id"`
	HeaderID      string              `json:"header_id"`
	PartnerID     string              `json:"partner_id"`
	AddressID     string              `json:"address_id"`
	ScheduledDate time.Time           `json:"scheduled_date"`
	State         model.ShipmentState `json:"state"`
	Moves         int                 `json:"moves"`
	Time          time.Time           `json:"time"`
}

func (ShipmentEvent) Type() string { return "shipment" }

// AllocationRejectedEvent is published when a write would over-allocate an
// order line.
type AllocationRejectedEvent struct {
	OrderID     string    `json:"order_id"`
	OrderLineID string    `json:"order_line_id"`
	Product     string    `json:"product"`
	Ordered     string    `json:"ordered"`
	Dispatched  string    `json:"dispatched"`
	Available   string    `json:"available"`
	Time        time.Time `json:"time"`
}

func (AllocationRejectedEvent) Type() string { return "allocation_rejected" }

// GroupFailedEvent is published when a shipment group could not be emitted.
type GroupFailedEvent struct {
	HeaderID      string    `json:"header_id"`
	StakeholderID string    `json:"stakeholder_id"`
	AddressID     string    `json:"address_id"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Lines         int       `json:"lines"`
	Reason        string    `json:"reason"`
	Time          time.Time `json:"time"`
}

func (GroupFailedEvent) Type() string { return "group_failed" }

// ShipmentNotification reports a shipment state change from the warehouse.
type ShipmentNotification struct {
	ShipmentID string              `json:"shipment_id"`
	State      model.ShipmentState `json:"state"`
}
