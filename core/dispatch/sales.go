package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
)

const orderSequence = "sale.order"

// OrderLineInput describes a requested quantity of a product.
type OrderLineInput struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	// UoMID defaults to the product unit.
	UoMID     string          `json:"uom_id,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderInput describes a new sales order.
type OrderInput struct {
	CompanyID      string             `json:"company_id"`
	CustomerID     string             `json:"customer_id"`
	DeliveryMode   model.DeliveryMode `json:"delivery_mode,omitempty"`
	StakeholderIDs []string           `json:"stakeholder_ids,omitempty"`
	CommitmentDate time.Time          `json:"commitment_date,omitempty"`
	Lines          []OrderLineInput   `json:"lines"`
}

// OrderView is an order with its lines.
type OrderView struct {
	Order *model.Order       `json:"order"`
	Lines []*model.OrderLine `json:"lines"`
}

// CreateOrder creates a draft order. Dispatch mode creates the dispatch
// header right away.
func (e *Engine) CreateOrder(ctx context.Context, in OrderInput) (*OrderView, error) {
	mode := in.DeliveryMode
	if mode == "" {
		mode = model.ModeStandard
	}
	if _, err := model.ParseDeliveryMode(string(mode)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidState)
	}
	var view *OrderView
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		if _, err := o.tx.Partner(ctx, in.CustomerID); err != nil {
			return fmt.Errorf("customer: %w", err)
		}
		n, err := o.tx.NextSequence(ctx, orderSequence)
		if err != nil {
			return fmt.Errorf("order sequence: %w", err)
		}
		order := &model.Order{
			ID:             uuid.NewString(),
			Reference:      fmt.Sprintf("SO%05d", n),
			CompanyID:      in.CompanyID,
			CustomerID:     in.CustomerID,
			State:          model.OrderDraft,
			DeliveryMode:   model.ModeStandard,
			StakeholderIDs: dedupe(in.StakeholderIDs),
			CommitmentDate: in.CommitmentDate,
			CreatedAt:      o.now,
		}
		lines := make([]*model.OrderLine, 0, len(in.Lines))
		for i, li := range in.Lines {
			l, err := o.newOrderLine(ctx, order, i+1, li)
			if err != nil {
				return err
			}
			lines = append(lines, l)
		}
		if mode == model.ModeDispatch {
			if err := o.setMode(ctx, order, mode); err != nil {
				return err
			}
		} else {
			order.StakeholderIDs = nil
			if err := o.tx.SaveOrder(ctx, order); err != nil {
				return err
			}
		}
		view = &OrderView{Order: order, Lines: lines}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Infof("order %s created in %s mode", view.Order.Reference, view.Order.DeliveryMode)
	return view, nil
}

func (o *op) newOrderLine(ctx context.Context, order *model.Order, seq int, in OrderLineInput) (*model.OrderLine, error) {
	if !in.Quantity.IsPositive() {
		return nil, fmt.Errorf("order line quantity %s: %w", in.Quantity, ErrInvalidQuantity)
	}
	if in.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("unit price %s: %w", in.UnitPrice, ErrInvalidQuantity)
	}
	p, err := o.product(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	unit := in.UoMID
	if unit == "" {
		unit = p.UoMID
	}
	if _, err := o.convert(ctx, decimal.NewFromInt(1), unit, p.UoMID); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.Name, err)
	}
	l := &model.OrderLine{
		ID:                 uuid.NewString(),
		OrderID:            order.ID,
		Sequence:           seq,
		ProductID:          p.ID,
		Quantity:           in.Quantity,
		UoMID:              unit,
		UnitPrice:          in.UnitPrice,
		DispatchedQuantity: decimal.Zero,
		RemainingQuantity:  in.Quantity,
		DispatchProgress:   decimal.Zero,
	}
	if err := o.tx.SaveOrderLine(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// AddOrderLine appends a line to an order that is not confirmed yet.
func (e *Engine) AddOrderLine(ctx context.Context, orderID string, in OrderLineInput) (*model.OrderLine, error) {
	var out *model.OrderLine
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		order, err := o.tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.State.PreConfirmation() {
			return fmt.Errorf("order %s is %s: %w", order.Reference, order.State, ErrInvalidState)
		}
		existing, err := o.tx.OrderLines(ctx, orderID)
		if err != nil {
			return err
		}
		seq := 1
		if n := len(existing); n > 0 {
			seq = existing[n-1].Sequence + 1
		}
		out, err = o.newOrderLine(ctx, order, seq, in)
		return err
	})
	return out, err
}

// UpdateRequestedQuantity changes the ordered quantity of a line. It is
// refused once dispatch lines allocate part of it.
func (e *Engine) UpdateRequestedQuantity(ctx context.Context, orderLineID string, qty decimal.Decimal) (*model.OrderLine, error) {
	var out *model.OrderLine
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		if !qty.IsPositive() {
			return fmt.Errorf("requested quantity %s: %w", qty, ErrInvalidQuantity)
		}
		ol, err := o.tx.OrderLine(ctx, orderLineID)
		if err != nil {
			return err
		}
		order, err := o.tx.Order(ctx, ol.OrderID)
		if err != nil {
			return err
		}
		if order.State == model.OrderDone || order.State == model.OrderCancelled {
			return fmt.Errorf("order %s is %s: %w", order.Reference, order.State, ErrInvalidState)
		}
		d, err := o.dispatched(ctx, ol, "")
		if err != nil {
			return err
		}
		if d.IsPositive() {
			return fmt.Errorf("order line %s has %s dispatched: %w", ol.ID, d, ErrRequestedQuantityLocked)
		}
		ol.Quantity = qty
		if err := o.tx.SaveOrderLine(ctx, ol); err != nil {
			return err
		}
		o.markOrderLine(ol.ID)
		out = ol
		return nil
	})
	if err != nil {
		return nil, err
	}
	// rollups are refreshed before commit
	return e.orderLine(ctx, out.ID)
}

func (e *Engine) orderLine(ctx context.Context, id string) (*model.OrderLine, error) {
	var out *model.OrderLine
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.OrderLine(ctx, id)
		return err
	})
	return out, err
}

// Order returns an order with its lines.
func (e *Engine) Order(ctx context.Context, id string) (*OrderView, error) {
	var view *OrderView
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		order, err := tx.Order(ctx, id)
		if err != nil {
			return err
		}
		lines, err := tx.OrderLines(ctx, id)
		if err != nil {
			return err
		}
		view = &OrderView{Order: order, Lines: lines}
		return nil
	})
	return view, err
}

// SetDeliveryMode switches the fulfillment mode of an order that is not
// confirmed yet.
func (e *Engine) SetDeliveryMode(ctx context.Context, orderID string, mode model.DeliveryMode) (*model.Order, error) {
	if _, err := model.ParseDeliveryMode(string(mode)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidState)
	}
	var out *model.Order
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		order, err := o.tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if err := o.setMode(ctx, order, mode); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Infof("order %s delivery mode set to %s", out.Reference, mode)
	return out, nil
}

func (o *op) setMode(ctx context.Context, order *model.Order, mode model.DeliveryMode) error {
	if !order.State.PreConfirmation() {
		return fmt.Errorf("order %s is %s: %w", order.Reference, order.State, ErrInvalidState)
	}
	switch mode {
	case model.ModeDispatch:
		if len(order.StakeholderIDs) == 0 {
			order.StakeholderIDs = []string{order.CustomerID}
		}
		for _, id := range order.StakeholderIDs {
			if _, err := o.tx.Partner(ctx, id); err != nil {
				return fmt.Errorf("stakeholder %s: %w", id, err)
			}
		}
		order.DeliveryMode = mode
		if err := o.tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		_, err := o.ensureHeader(ctx, order)
		return err
	default:
		h, err := o.tx.HeaderByOrder(ctx, order.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		default:
			lines, err := o.tx.LinesOfHeader(ctx, h.ID)
			if err != nil {
				return err
			}
			if h.State != model.DispatchDraft || len(lines) > 0 {
				return fmt.Errorf("dispatch %s is %s with %d lines: %w", h.Reference, h.State, len(lines), ErrDispatchInUse)
			}
			if err := o.tx.DeleteHeader(ctx, h.ID); err != nil {
				return err
			}
			delete(o.headers, h.ID)
		}
		order.DeliveryMode = mode
		order.StakeholderIDs = nil
		return o.tx.SaveOrder(ctx, order)
	}
}

// ensureHeader returns the dispatch header of the order, creating it if needed.
func (o *op) ensureHeader(ctx context.Context, order *model.Order) (*model.DispatchHeader, error) {
	h, err := o.tx.HeaderByOrder(ctx, order.ID)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	cfg := o.e.cfg
	n, err := o.tx.NextSequence(ctx, cfg.HeaderSequence)
	if err != nil {
		return nil, fmt.Errorf("header sequence: %w", err)
	}
	h = &model.DispatchHeader{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		Reference:       fmt.Sprintf("%s%05d", cfg.HeaderPrefix, n),
		MandatorID:      order.CustomerID,
		StakeholderIDs:  append([]string(nil), order.StakeholderIDs...),
		CommitmentDate:  order.CommitmentDate,
		State:           model.DispatchDraft,
		CurrentProgress: decimal.Zero,
		GlobalProgress:  decimal.Zero,
		CreatedAt:       o.now,
	}
	if h.MandatorID == "" {
		return nil, fmt.Errorf("order %s has no customer: %w", order.Reference, ErrInvalidState)
	}
	if len(h.StakeholderIDs) == 0 {
		h.StakeholderIDs = []string{order.CustomerID}
	}
	if err := o.tx.SaveHeader(ctx, h); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("order %s: %w", order.Reference, ErrHeaderExists)
		}
		return nil, err
	}
	o.headers[h.ID] = struct{}{}
	return h, nil
}

// CreateHeader creates the dispatch header of an order in dispatch mode.
func (e *Engine) CreateHeader(ctx context.Context, orderID string) (*model.DispatchHeader, error) {
	var out *model.DispatchHeader
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		order, err := o.tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if order.DeliveryMode != model.ModeDispatch {
			return fmt.Errorf("order %s is in %s mode: %w", order.Reference, order.DeliveryMode, ErrInvalidState)
		}
		if _, err := o.tx.HeaderByOrder(ctx, orderID); err == nil {
			return fmt.Errorf("order %s: %w", order.Reference, ErrHeaderExists)
		}
		out, err = o.ensureHeader(ctx, order)
		return err
	})
	return out, err
}

// ConfirmOrder confirms an order. Standard orders get their shipments from
// the stock engine; dispatch orders are confirmed with shipment generation
// suppressed and keep a dispatch header for later materialization.
func (e *Engine) ConfirmOrder(ctx context.Context, orderID string) ([]*model.Shipment, error) {
	var created []*model.Shipment
	var ref string
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		order, err := o.tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		ref = order.Reference
		if order.DeliveryMode != model.ModeDispatch {
			created, err = e.stock.ConfirmOrder(ctx, o.tx, order)
			return err
		}
		if len(order.StakeholderIDs) == 0 {
			return fmt.Errorf("order %s has no stakeholders: %w", order.Reference, ErrInvalidState)
		}
		if _, err := e.stock.ConfirmOrder(stock.WithSuppression(ctx), o.tx, order); err != nil {
			return err
		}
		if _, err := o.ensureHeader(ctx, order); err != nil {
			return err
		}
		return o.dropHostShipments(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	e.log.Infof("order %s confirmed with %d shipments", ref, len(created))
	return created, nil
}

// dropHostShipments cancels and removes shipments generated for the order
// outside of dispatch grouping.
func (o *op) dropHostShipments(ctx context.Context, order *model.Order) error {
	ships, err := o.tx.ShipmentsOfOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, sh := range ships {
		if sh.HeaderID != "" {
			continue
		}
		if sh.State != model.ShipmentCancelled {
			if _, err := o.e.stock.SetState(ctx, o.tx, sh.ID, model.ShipmentCancelled, stock.OriginDispatch); err != nil {
				return err
			}
		}
		if err := o.e.stock.Remove(ctx, o.tx, sh.ID); err != nil {
			return err
		}
		o.e.log.Warnf("removed host shipment %s of dispatch order %s", sh.Reference, order.Reference)
	}
	return nil
}
