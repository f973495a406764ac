package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentState mirrors the stock engine's picking lifecycle.
type ShipmentState string

const (
	ShipmentDraft     ShipmentState = "draft"
	ShipmentWaiting   ShipmentState = "waiting"
	ShipmentAssigned  ShipmentState = "assigned"
	ShipmentDone      ShipmentState = "done"
	ShipmentCancelled ShipmentState = "cancel"
)

// ParseShipmentState converts s to a ShipmentState.
func ParseShipmentState(s string) (ShipmentState, bool) {
	switch st := ShipmentState(s); st {
	case ShipmentDraft, ShipmentWaiting, ShipmentAssigned, ShipmentDone, ShipmentCancelled:
		return st, true
	case "cancelled":
		return ShipmentCancelled, true
	}
	return "", false
}

// Active reports whether the shipment is being processed by the warehouse.
func (s ShipmentState) Active() bool {
	return s == ShipmentWaiting || s == ShipmentAssigned || s == ShipmentDone
}

// PickingType describes an operation type of a warehouse.
type PickingType struct {
	ID                  string `json:"id"`
	CompanyID           string `json:"company_id"`
	Code                string `json:"code"`
	SequencePrefix      string `json:"sequence_prefix"`
	SourceLocationID    string `json:"source_location_id"`
	DestinationLocation string `json:"destination_location_id"`
}

// Outgoing is the picking type code for deliveries.
const Outgoing = "outgoing"

// Shipment is an outbound transfer grouping one or more moves.
type Shipment struct {
	ID                    string        `json:"id"`
	Reference             string        `json:"reference"`
	CompanyID             string        `json:"company_id"`
	OrderID               string        `json:"order_id"`
	HeaderID              string        `json:"header_id,omitempty"`
	PartnerID             string        `json:"partner_id"`
	AddressID             string        `json:"address_id,omitempty"`
	ScheduledDate         time.Time     `json:"scheduled_date"`
	Origin                string        `json:"origin"`
	PickingTypeID         string        `json:"picking_type_id"`
	SourceLocationID      string        `json:"source_location_id"`
	DestinationLocationID string        `json:"destination_location_id"`
	State                 ShipmentState `json:"state"`
	Note                  string        `json:"note,omitempty"`
	Moves                 []Move        `json:"moves"`
	CreatedAt             time.Time     `json:"created_at"`
}

// Move is a stock move inside a shipment.
type Move struct {
	ID                 string          `json:"id"`
	ProductID          string          `json:"product_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	UoMID              string          `json:"uom_id"`
	Deadline           time.Time       `json:"deadline"`
	OrderLineID        string          `json:"order_line_id,omitempty"`
	DispatchLineID     string          `json:"dispatch_line_id,omitempty"`
	TemperatureControl bool            `json:"temperature_control,omitempty"`
	MaxTemperature     int             `json:"max_temperature,omitempty"`
	Tracking           string          `json:"tracking,omitempty"`
}
