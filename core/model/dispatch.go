package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DispatchState is shared by dispatch headers and dispatch lines.
type DispatchState string

const (
	DispatchDraft     DispatchState = "draft"
	DispatchConfirmed DispatchState = "confirmed"
	DispatchDone      DispatchState = "done"
	DispatchCancelled DispatchState = "cancelled"
)

// Rank orders DRAFT < CONFIRMED < DONE. Cancelled ranks below draft so a
// cancelled line is never ahead of its header.
func (s DispatchState) Rank() int {
	switch s {
	case DispatchDraft:
		return 1
	case DispatchConfirmed:
		return 2
	case DispatchDone:
		return 3
	default:
		return 0
	}
}

// Active reports whether the state is DRAFT or CONFIRMED.
func (s DispatchState) Active() bool {
	return s == DispatchDraft || s == DispatchConfirmed
}

// DispatchHeader collects the dispatch lines of one order.
type DispatchHeader struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	Reference       string          `json:"reference"`
	MandatorID      string          `json:"mandator_id"`
	StakeholderIDs  []string        `json:"stakeholder_ids"`
	CommitmentDate  time.Time       `json:"commitment_date,omitempty"`
	State           DispatchState   `json:"state"`
	CurrentProgress decimal.Decimal `json:"current_progress"`
	GlobalProgress  decimal.Decimal `json:"global_progress"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HasStakeholder reports whether id is one of the header's stakeholders.
func (h *DispatchHeader) HasStakeholder(id string) bool {
	for _, s := range h.StakeholderIDs {
		if s == id {
			return true
		}
	}
	return false
}

// DispatchLine allocates part of an order line to a stakeholder, address and date.
type DispatchLine struct {
	ID            string          `json:"id"`
	HeaderID      string          `json:"header_id"`
	OrderID       string          `json:"order_id"`
	OrderLineID   string          `json:"order_line_id"`
	ProductID     string          `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UoMID         string          `json:"uom_id"`
	StakeholderID string          `json:"stakeholder_id"`
	AddressID     string          `json:"address_id"`
	ScheduledDate time.Time       `json:"scheduled_date"`
	State         DispatchState   `json:"state"`
	ShipmentID    string          `json:"shipment_id,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	CreatedAt     time.Time       `json:"created_at"`
}
