package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is an append-only allocation record for an (order, product)
// pair. Debit allocates quantity, credit releases it; at most one is non-zero.
type LedgerEntry struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	ProductID      string          `json:"product_id"`
	DispatchLineID string          `json:"dispatch_line_id,omitempty"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	RunningBalance decimal.Decimal `json:"running_balance"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"created_at"`
	CompanyID      string          `json:"company_id"`
}
