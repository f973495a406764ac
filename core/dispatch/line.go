package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
)

// LineInput describes a dispatch line to create. UoMID defaults to the order
// line unit and ScheduledDate to the commitment date.
type LineInput struct {
	OrderLineID   string          `json:"order_line_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UoMID         string          `json:"uom_id,omitempty"`
	StakeholderID string          `json:"stakeholder_id"`
	AddressID     string          `json:"address_id"`
	ScheduledDate time.Time       `json:"scheduled_date,omitempty"`
}

// LinePatch lists the fields of a dispatch line to change. Nil fields are
// left untouched.
type LinePatch struct {
	OrderLineID   *string          `json:"order_line_id,omitempty"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	UoMID         *string          `json:"uom_id,omitempty"`
	StakeholderID *string          `json:"stakeholder_id,omitempty"`
	AddressID     *string          `json:"address_id,omitempty"`
	ScheduledDate *time.Time       `json:"scheduled_date,omitempty"`
}

func (p LinePatch) protected() bool {
	return p.OrderLineID != nil || p.Quantity != nil || p.UoMID != nil || p.StakeholderID != nil
}

func (p LinePatch) routing() bool {
	return p.AddressID != nil || p.ScheduledDate != nil
}

// editable loads the header of l and checks it accepts line changes.
func (o *op) editable(ctx context.Context, headerID string) (*model.DispatchHeader, error) {
	h, err := o.tx.Header(ctx, headerID)
	if err != nil {
		return nil, err
	}
	if !h.State.Active() {
		return nil, fmt.Errorf("dispatch %s is %s: %w", h.Reference, h.State, ErrInvalidState)
	}
	return h, nil
}

// validate checks every rule a draft line must satisfy and derives its
// product, price and amounts from the order line.
func (o *op) validate(ctx context.Context, h *model.DispatchHeader, l *model.DispatchLine) error {
	ol, err := o.tx.OrderLine(ctx, l.OrderLineID)
	if err != nil {
		return fmt.Errorf("order line %s: %w", l.OrderLineID, err)
	}
	if ol.OrderID != h.OrderID {
		return fmt.Errorf("order line %s is not part of %s: %w", ol.ID, h.Reference, ErrInvalidState)
	}
	if l.Quantity.IsNegative() {
		return fmt.Errorf("quantity %s: %w", l.Quantity, ErrInvalidQuantity)
	}
	if !h.HasStakeholder(l.StakeholderID) {
		return fmt.Errorf("stakeholder %s: %w", l.StakeholderID, ErrUnknownStakeholder)
	}
	if err := validateTarget(ctx, o.tx, l.StakeholderID, l.AddressID); err != nil {
		return err
	}
	if l.UoMID == "" {
		l.UoMID = ol.UoMID
	}
	if err := o.ensureCapacity(ctx, ol, l.Quantity, l.UoMID, l.ID); err != nil {
		return err
	}
	factor, err := o.convert(ctx, decimal.NewFromInt(1), l.UoMID, ol.UoMID)
	if err != nil {
		return err
	}
	l.ProductID = ol.ProductID
	l.UnitPrice = ol.UnitPrice.Mul(factor)
	l.Subtotal = l.UnitPrice.Mul(l.Quantity)
	return nil
}

// CreateLine adds a draft dispatch line to a header.
func (e *Engine) CreateLine(ctx context.Context, headerID string, in LineInput) (*model.DispatchLine, error) {
	var out *model.DispatchLine
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		h, err := o.editable(ctx, headerID)
		if err != nil {
			return err
		}
		if !in.Quantity.IsPositive() {
			return fmt.Errorf("quantity %s: %w", in.Quantity, ErrInvalidQuantity)
		}
		l := &model.DispatchLine{
			ID:            uuid.NewString(),
			HeaderID:      h.ID,
			OrderID:       h.OrderID,
			OrderLineID:   in.OrderLineID,
			Quantity:      in.Quantity,
			UoMID:         in.UoMID,
			StakeholderID: in.StakeholderID,
			AddressID:     in.AddressID,
			ScheduledDate: in.ScheduledDate,
			State:         model.DispatchDraft,
			CreatedAt:     o.now,
		}
		if l.ScheduledDate.IsZero() {
			l.ScheduledDate = h.CommitmentDate
		}
		if l.ScheduledDate.IsZero() {
			l.ScheduledDate = o.now
		}
		if err := o.validate(ctx, h, l); err != nil {
			return err
		}
		out = l
		return o.saveLine(ctx, l, true)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Line returns the dispatch line with the given id.
func (e *Engine) Line(ctx context.Context, id string) (*model.DispatchLine, error) {
	var out *model.DispatchLine
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.DispatchLine(ctx, id)
		return err
	})
	return out, err
}

// WriteLine applies p to a dispatch line. Order line, quantity, unit and
// stakeholder change only on draft lines; address and date only while the
// line has no shipment.
func (e *Engine) WriteLine(ctx context.Context, id string, p LinePatch) (*model.DispatchLine, error) {
	var out *model.DispatchLine
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		l, err := o.tx.DispatchLine(ctx, id)
		if err != nil {
			return err
		}
		if !l.State.Active() {
			return fmt.Errorf("line %s is %s: %w", l.ID, l.State, ErrFrozenLine)
		}
		if p.protected() && l.State != model.DispatchDraft {
			return fmt.Errorf("line %s is %s: %w", l.ID, l.State, ErrFrozenLine)
		}
		if p.routing() && l.ShipmentID != "" {
			return fmt.Errorf("line %s is shipped: %w", l.ID, ErrFrozenLine)
		}
		h, err := o.editable(ctx, l.HeaderID)
		if err != nil {
			return err
		}
		previous := l.OrderLineID
		if p.OrderLineID != nil {
			l.OrderLineID = *p.OrderLineID
		}
		if p.Quantity != nil {
			l.Quantity = *p.Quantity
		}
		if p.UoMID != nil {
			l.UoMID = *p.UoMID
		}
		if p.StakeholderID != nil {
			l.StakeholderID = *p.StakeholderID
		}
		if p.AddressID != nil {
			l.AddressID = *p.AddressID
		}
		if p.ScheduledDate != nil {
			l.ScheduledDate = *p.ScheduledDate
		}
		if err := o.validate(ctx, h, l); err != nil {
			return err
		}
		if previous != l.OrderLineID {
			o.markOrderLine(previous)
		}
		out = l
		return o.saveLine(ctx, l, true)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmLine confirms a draft line and emits its shipment. A draft header
// is confirmed first.
func (e *Engine) ConfirmLine(ctx context.Context, id string) (*MaterializeResult, error) {
	var headerID string
	deleted := false
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		l, err := o.tx.DispatchLine(ctx, id)
		if err != nil {
			return err
		}
		if l.State != model.DispatchDraft {
			return fmt.Errorf("line %s is %s: %w", l.ID, l.State, ErrInvalidState)
		}
		h, err := o.editable(ctx, l.HeaderID)
		if err != nil {
			return err
		}
		headerID = h.ID
		if h.State == model.DispatchDraft {
			if err := o.promote(ctx, h); err != nil {
				return err
			}
			_, err := o.tx.DispatchLine(ctx, id)
			deleted = err != nil
			return nil
		}
		order, err := o.tx.Order(ctx, h.OrderID)
		if err != nil {
			return err
		}
		if _, err := o.e.stock.OutgoingType(ctx, o.tx, order.CompanyID); err != nil {
			return err
		}
		if l.Quantity.IsZero() {
			deleted = true
			return o.deleteLine(ctx, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if deleted {
		return &MaterializeResult{}, nil
	}
	return e.materialize(ctx, headerID, []string{id})
}

// DoneLine completes a confirmed line whose shipment is done. Lines never get
// ahead of their header, so the header completes with it; the call fails
// while other shipments of the header are pending.
func (e *Engine) DoneLine(ctx context.Context, id string) (*model.DispatchLine, error) {
	var out *model.DispatchLine
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		l, err := o.tx.DispatchLine(ctx, id)
		if err != nil {
			return err
		}
		if l.State != model.DispatchConfirmed {
			return fmt.Errorf("line %s is %s: %w", l.ID, l.State, ErrInvalidState)
		}
		if l.ShipmentID == "" {
			return fmt.Errorf("line %s has no shipment: %w", l.ID, ErrShipmentsIncomplete)
		}
		sh, err := o.tx.Shipment(ctx, l.ShipmentID)
		if err != nil {
			return err
		}
		if sh.State != model.ShipmentDone {
			return fmt.Errorf("shipment %s is %s: %w", sh.Reference, sh.State, ErrShipmentsIncomplete)
		}
		h, err := o.tx.Header(ctx, l.HeaderID)
		if err != nil {
			return err
		}
		v, err := loadView(ctx, o.tx, h)
		if err != nil {
			return err
		}
		if err := completable(v); err != nil {
			return err
		}
		if err := o.complete(ctx, v); err != nil {
			return err
		}
		for _, vl := range v.Lines {
			if vl.ID == id {
				out = vl
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelLine cancels a line. A line in a draft shipment is taken out of it;
// the shipment is cancelled once empty.
func (e *Engine) CancelLine(ctx context.Context, id string) (*model.DispatchLine, error) {
	var out *model.DispatchLine
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		l, err := o.tx.DispatchLine(ctx, id)
		if err != nil {
			return err
		}
		if !l.State.Active() {
			return fmt.Errorf("line %s is %s: %w", l.ID, l.State, ErrInvalidState)
		}
		if l.ShipmentID != "" {
			if err := o.detach(ctx, l); err != nil {
				return err
			}
		}
		o.setLineState(l, model.DispatchCancelled)
		out = l
		return o.saveLine(ctx, l, false)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// detach removes the move of l from its shipment.
func (o *op) detach(ctx context.Context, l *model.DispatchLine) error {
	sh, err := o.tx.Shipment(ctx, l.ShipmentID)
	if err != nil {
		return err
	}
	switch sh.State {
	case model.ShipmentCancelled:
	case model.ShipmentDraft:
		moves := sh.Moves[:0]
		for _, mv := range sh.Moves {
			if mv.DispatchLineID != l.ID {
				moves = append(moves, mv)
			}
		}
		sh.Moves = moves
		if err := o.tx.SaveShipment(ctx, sh); err != nil {
			return err
		}
		if len(sh.Moves) == 0 {
			if _, err := o.e.stock.SetState(ctx, o.tx, sh.ID, model.ShipmentCancelled, stock.OriginDispatch); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("shipment %s is %s: %w", sh.Reference, sh.State, ErrShipmentActive)
	}
	l.ShipmentID = ""
	return nil
}

// DeleteLine removes a draft line.
func (e *Engine) DeleteLine(ctx context.Context, id string) error {
	return e.run(ctx, func(ctx context.Context, o *op) error {
		l, err := o.tx.DispatchLine(ctx, id)
		if err != nil {
			return err
		}
		if l.State != model.DispatchDraft {
			return fmt.Errorf("line %s is %s: %w", l.ID, l.State, ErrInvalidState)
		}
		return o.deleteLine(ctx, l)
	})
}
