package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/store"
	"github.com/kilianp07/orderdispatch/core/uom"
)

var hundred = decimal.NewFromInt(100)

// convert expresses qty given in unit from in unit to.
func (o *op) convert(ctx context.Context, qty decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return qty, nil
	}
	fu, err := o.unit(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	tu, err := o.unit(ctx, to)
	if err != nil {
		return decimal.Zero, err
	}
	return uom.Convert(qty, fu, tu)
}

// allocation returns the non-cancelled dispatch lines of the order line,
// leaving out the line excludeID, and the order line quantity, both in the
// reference unit of the order line category. Nothing is rounded, so the
// comparison of the two is exact.
func (o *op) allocation(ctx context.Context, ol *model.OrderLine, excludeID string) (allocated, ordered decimal.Decimal, err error) {
	olUnit, err := o.unit(ctx, ol.UoMID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if ordered, err = uom.ToReference(ol.Quantity, olUnit); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	lines, err := o.tx.LinesOfOrderLine(ctx, ol.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	allocated = decimal.Zero
	for _, l := range lines {
		if l.ID == excludeID || l.State == model.DispatchCancelled {
			continue
		}
		q, err := o.reference(ctx, l.Quantity, l.UoMID, olUnit)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("line %s: %w", l.ID, err)
		}
		allocated = allocated.Add(q)
	}
	return allocated, ordered, nil
}

// reference expresses qty, given in unit, in the reference unit of target.
func (o *op) reference(ctx context.Context, qty decimal.Decimal, unit string, target *model.UoM) (decimal.Decimal, error) {
	u, err := o.unit(ctx, unit)
	if err != nil {
		return decimal.Zero, err
	}
	if err := uom.Compatible(u, target); err != nil {
		return decimal.Zero, err
	}
	return uom.ToReference(qty, u)
}

// dispatched sums the non-cancelled dispatch lines of the order line in the
// order line unit, leaving out the line excludeID.
func (o *op) dispatched(ctx context.Context, ol *model.OrderLine, excludeID string) (decimal.Decimal, error) {
	allocated, _, err := o.allocation(ctx, ol, excludeID)
	if err != nil {
		return decimal.Zero, err
	}
	return o.inOrderLineUnit(ctx, ol, allocated)
}

func (o *op) inOrderLineUnit(ctx context.Context, ol *model.OrderLine, ref decimal.Decimal) (decimal.Decimal, error) {
	u, err := o.unit(ctx, ol.UoMID)
	if err != nil {
		return decimal.Zero, err
	}
	return uom.FromReference(ref, u)
}

func (o *op) overAllocation(ctx context.Context, ol *model.OrderLine, others, requested decimal.Decimal) error {
	name := ol.ProductID
	if p, err := o.product(ctx, ol.ProductID); err == nil {
		name = p.Name
	}
	return &OverAllocationError{
		OrderID:     ol.OrderID,
		OrderLineID: ol.ID,
		Product:     name,
		Ordered:     ol.Quantity,
		Dispatched:  others,
		Available:   ol.Quantity.Sub(others),
		Requested:   requested,
	}
}

// ensureCapacity fails when qty, given in unit, does not fit in what the
// other lines of the order line leave available.
func (o *op) ensureCapacity(ctx context.Context, ol *model.OrderLine, qty decimal.Decimal, unit, excludeID string) error {
	others, ordered, err := o.allocation(ctx, ol, excludeID)
	if err != nil {
		return err
	}
	olUnit, err := o.unit(ctx, ol.UoMID)
	if err != nil {
		return err
	}
	own, err := o.reference(ctx, qty, unit, olUnit)
	if err != nil {
		return err
	}
	if others.Add(own).GreaterThan(ordered) {
		return o.overAllocationRef(ctx, ol, others, own)
	}
	return nil
}

// overAllocationRef reports an over-allocation given reference quantities.
func (o *op) overAllocationRef(ctx context.Context, ol *model.OrderLine, othersRef, ownRef decimal.Decimal) error {
	others, err := o.inOrderLineUnit(ctx, ol, othersRef)
	if err != nil {
		return err
	}
	own, err := o.inOrderLineUnit(ctx, ol, ownRef)
	if err != nil {
		return err
	}
	return o.overAllocation(ctx, ol, others, own)
}

// checkAllocation re-evaluates the allocation of an order line against every
// line written so far and refreshes its rollups.
func (o *op) checkAllocation(ctx context.Context, orderLineID, offender string) (*model.OrderLine, error) {
	ol, err := o.tx.OrderLine(ctx, orderLineID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	allocated, ordered, err := o.allocation(ctx, ol, "")
	if err != nil {
		return nil, err
	}
	if allocated.GreaterThan(ordered) {
		others, own := allocated, decimal.Zero
		if offender != "" {
			if others, _, err = o.allocation(ctx, ol, offender); err != nil {
				return nil, err
			}
			own = allocated.Sub(others)
		}
		return nil, o.overAllocationRef(ctx, ol, others, own)
	}
	total, err := o.inOrderLineUnit(ctx, ol, allocated)
	if err != nil {
		return nil, err
	}
	ol.DispatchedQuantity = total
	ol.RemainingQuantity = decimal.Max(ol.Quantity.Sub(total), decimal.Zero)
	ol.DispatchProgress = progress(total, ol.Quantity)
	if err := o.tx.SaveOrderLine(ctx, ol); err != nil {
		return nil, err
	}
	return ol, nil
}

// progress returns part/whole as a percentage bounded to [0, 100].
func progress(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	p := part.Div(whole).Mul(hundred).Round(2)
	if p.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// balance replays entries in creation order.
func balance(entries []model.LedgerEntry) decimal.Decimal {
	b := decimal.Zero
	for _, e := range entries {
		b = b.Add(e.Debit).Sub(e.Credit)
	}
	return b
}

// orderedFor returns the ordered and dispatched quantities of a product on an
// order, expressed in the product unit.
func (o *op) orderedFor(ctx context.Context, orderID, productID string) (ordered, dispatched decimal.Decimal, err error) {
	p, err := o.product(ctx, productID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	lines, err := o.tx.OrderLines(ctx, orderID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	ordered, dispatched = decimal.Zero, decimal.Zero
	for _, ol := range lines {
		if ol.ProductID != productID {
			continue
		}
		q, err := o.convert(ctx, ol.Quantity, ol.UoMID, p.UoMID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		d, err := o.convert(ctx, ol.DispatchedQuantity, ol.UoMID, p.UoMID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		ordered = ordered.Add(q)
		dispatched = dispatched.Add(d)
	}
	return ordered, dispatched, nil
}

// post appends the ledger entry bringing the (order, product) balance to the
// dispatched quantity, if it moved.
func (o *op) post(ctx context.Context, orderID, productID, lineID string) error {
	_, dispatched, err := o.orderedFor(ctx, orderID, productID)
	if err != nil {
		return err
	}
	entries, err := o.tx.Ledger(ctx, orderID, productID)
	if err != nil {
		return err
	}
	prev := balance(entries)
	delta := dispatched.Sub(prev)
	if delta.IsZero() {
		return nil
	}
	order, err := o.tx.Order(ctx, orderID)
	if err != nil {
		return err
	}
	at := o.now
	if n := len(entries); n > 0 && !at.After(entries[n-1].CreatedAt) {
		at = entries[n-1].CreatedAt.Add(time.Nanosecond)
	}
	entry := model.LedgerEntry{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		ProductID:      productID,
		DispatchLineID: lineID,
		Debit:          decimal.Zero,
		Credit:         decimal.Zero,
		RunningBalance: dispatched,
		CreatedAt:      at,
		CompanyID:      order.CompanyID,
	}
	if delta.IsPositive() {
		entry.Debit = delta
		entry.Description = "allocation"
	} else {
		entry.Credit = delta.Neg()
		entry.Description = "release"
	}
	return o.tx.AppendLedger(ctx, entry)
}

// Quantities is the live allocation state of an order line.
type Quantities struct {
	Requested  decimal.Decimal `json:"requested"`
	Dispatched decimal.Decimal `json:"dispatched"`
	// Remaining is signed; a negative value indicates a broken invariant.
	Remaining decimal.Decimal `json:"remaining"`
	Progress  decimal.Decimal `json:"progress"`
}

// Quantities computes dispatched and remaining quantities of an order line
// from its dispatch lines.
func (e *Engine) Quantities(ctx context.Context, orderLineID string) (Quantities, error) {
	var q Quantities
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		o := e.newOp(tx)
		ol, err := tx.OrderLine(ctx, orderLineID)
		if err != nil {
			return err
		}
		d, err := o.dispatched(ctx, ol, "")
		if err != nil {
			return err
		}
		q = Quantities{Requested: ol.Quantity, Dispatched: d, Remaining: ol.Quantity.Sub(d), Progress: progress(d, ol.Quantity)}
		return nil
	})
	return q, err
}

// Ledger returns the ledger entries of an order, optionally restricted to
// one product.
func (e *Engine) Ledger(ctx context.Context, orderID, productID string) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.Ledger(ctx, orderID, productID)
		return err
	})
	return out, err
}
