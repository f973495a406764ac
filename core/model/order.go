package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryMode selects how a confirmed order is fulfilled.
type DeliveryMode string

const (
	// ModeStandard lets the stock engine create shipments on confirmation.
	ModeStandard DeliveryMode = "standard"
	// ModeDispatch splits the order into dispatch lines shipped in batches.
	ModeDispatch DeliveryMode = "dispatch"
)

// ParseDeliveryMode converts s to a DeliveryMode.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch DeliveryMode(strings.ToLower(s)) {
	case ModeStandard:
		return ModeStandard, nil
	case ModeDispatch:
		return ModeDispatch, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q", s)
	}
}

// OrderState follows the sales order lifecycle of the host platform.
type OrderState string

const (
	OrderDraft     OrderState = "draft"
	OrderSent      OrderState = "sent"
	OrderSale      OrderState = "sale"
	OrderDone      OrderState = "done"
	OrderCancelled OrderState = "cancel"
)

// PreConfirmation reports whether the order can still change its delivery mode.
func (s OrderState) PreConfirmation() bool {
	return s == OrderDraft || s == OrderSent
}

// Confirmed reports whether the order passed confirmation.
func (s OrderState) Confirmed() bool {
	return s == OrderSale || s == OrderDone
}

// Order is a sales order extended with dispatch information.
type Order struct {
	ID             string       `json:"id"`
	Reference      string       `json:"reference"`
	CompanyID      string       `json:"company_id"`
	CustomerID     string       `json:"customer_id"`
	State          OrderState   `json:"state"`
	DeliveryMode   DeliveryMode `json:"delivery_mode"`
	StakeholderIDs []string     `json:"stakeholder_ids,omitempty"`
	CommitmentDate time.Time    `json:"commitment_date,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// HasStakeholder reports whether id belongs to the order's stakeholders.
func (o *Order) HasStakeholder(id string) bool {
	for _, s := range o.StakeholderIDs {
		if s == id {
			return true
		}
	}
	return false
}

// OrderLine requests a quantity of a product. The Dispatched, Remaining and
// Progress fields are rollups maintained by the dispatch ledger.
type OrderLine struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Sequence  int             `json:"sequence"`
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UoMID     string          `json:"uom_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`

	DispatchedQuantity decimal.Decimal `json:"dispatched_quantity"`
	RemainingQuantity  decimal.Decimal `json:"remaining_quantity"`
	DispatchProgress   decimal.Decimal `json:"dispatch_progress"`
}
