package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
)

// HeaderView is a dispatch header with its lines and shipments.
type HeaderView struct {
	Header    *model.DispatchHeader `json:"header"`
	Lines     []*model.DispatchLine `json:"lines"`
	Shipments []*model.Shipment     `json:"shipments"`
}

func loadView(ctx context.Context, tx *store.Tx, h *model.DispatchHeader) (*HeaderView, error) {
	lines, err := tx.LinesOfHeader(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	ships, err := tx.ShipmentsOfHeader(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	return &HeaderView{Header: h, Lines: lines, Shipments: ships}, nil
}

// Header returns the dispatch header with the given id.
func (e *Engine) Header(ctx context.Context, id string) (*HeaderView, error) {
	var v *HeaderView
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		h, err := tx.Header(ctx, id)
		if err != nil {
			return err
		}
		v, err = loadView(ctx, tx, h)
		return err
	})
	return v, err
}

// HeaderByOrder returns the dispatch header of an order.
func (e *Engine) HeaderByOrder(ctx context.Context, orderID string) (*HeaderView, error) {
	var v *HeaderView
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		h, err := tx.HeaderByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		v, err = loadView(ctx, tx, h)
		return err
	})
	return v, err
}

// promote moves a draft header to CONFIRMED after checking its preconditions.
// Zero-quantity draft lines are deleted first.
func (o *op) promote(ctx context.Context, h *model.DispatchHeader) error {
	order, err := o.tx.Order(ctx, h.OrderID)
	if err != nil {
		return err
	}
	if !order.State.Confirmed() {
		return fmt.Errorf("order %s is %s: %w", order.Reference, order.State, ErrInvalidState)
	}
	if _, err := o.e.stock.OutgoingType(ctx, o.tx, order.CompanyID); err != nil {
		return err
	}
	lines, err := o.tx.LinesOfHeader(ctx, h.ID)
	if err != nil {
		return err
	}
	active := 0
	for _, l := range lines {
		if l.State == model.DispatchCancelled {
			continue
		}
		if l.State == model.DispatchDraft && l.Quantity.IsZero() {
			if err := o.deleteLine(ctx, l); err != nil {
				return err
			}
			continue
		}
		active++
	}
	if active == 0 {
		return fmt.Errorf("dispatch %s: %w", h.Reference, ErrEmptyDispatch)
	}
	o.setHeaderState(h, model.DispatchConfirmed)
	return o.tx.SaveHeader(ctx, h)
}

// ConfirmHeader confirms a draft header and materializes its draft lines.
func (e *Engine) ConfirmHeader(ctx context.Context, id string) (*MaterializeResult, error) {
	var ref string
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		h, err := o.tx.Header(ctx, id)
		if err != nil {
			return err
		}
		ref = h.Reference
		if h.State != model.DispatchDraft {
			return fmt.Errorf("dispatch %s is %s: %w", h.Reference, h.State, ErrInvalidState)
		}
		return o.promote(ctx, h)
	})
	if err != nil {
		return nil, err
	}
	e.log.Infof("dispatch %s confirmed", ref)
	return e.materialize(ctx, id, nil)
}

// Materialize groups the header's draft lines, and confirmed lines detached
// from a cancelled shipment, into shipments. A draft header is confirmed.
func (e *Engine) Materialize(ctx context.Context, id string) (*MaterializeResult, error) {
	var state model.DispatchState
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		h, err := tx.Header(ctx, id)
		if err != nil {
			return err
		}
		state = h.State
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch state {
	case model.DispatchDraft:
		return e.ConfirmHeader(ctx, id)
	case model.DispatchConfirmed:
		if err := e.checkPickingType(ctx, id); err != nil {
			return nil, err
		}
		return e.materialize(ctx, id, nil)
	default:
		return nil, fmt.Errorf("dispatch is %s: %w", state, ErrInvalidState)
	}
}

func (e *Engine) checkPickingType(ctx context.Context, headerID string) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		h, err := tx.Header(ctx, headerID)
		if err != nil {
			return err
		}
		order, err := tx.Order(ctx, h.OrderID)
		if err != nil {
			return err
		}
		_, err = e.stock.OutgoingType(ctx, tx, order.CompanyID)
		return err
	})
}

// completable reports whether a confirmed header can move to DONE: every
// non-cancelled shipment is done and no line still waits for one.
func completable(v *HeaderView) error {
	for _, sh := range v.Shipments {
		if sh.State != model.ShipmentDone && sh.State != model.ShipmentCancelled {
			return fmt.Errorf("shipment %s is %s: %w", sh.Reference, sh.State, ErrShipmentsIncomplete)
		}
	}
	for _, l := range v.Lines {
		switch {
		case l.State == model.DispatchDraft:
			return fmt.Errorf("line %s not confirmed: %w", l.ID, ErrShipmentsIncomplete)
		case l.State == model.DispatchConfirmed && l.ShipmentID == "":
			return fmt.Errorf("line %s has no shipment: %w", l.ID, ErrShipmentsIncomplete)
		}
	}
	return nil
}

// complete moves the header and its confirmed lines to DONE.
func (o *op) complete(ctx context.Context, v *HeaderView) error {
	for _, l := range v.Lines {
		if l.State != model.DispatchConfirmed {
			continue
		}
		o.setLineState(l, model.DispatchDone)
		if err := o.saveLine(ctx, l, false); err != nil {
			return err
		}
	}
	o.setHeaderState(v.Header, model.DispatchDone)
	return o.tx.SaveHeader(ctx, v.Header)
}

// DoneHeader marks a confirmed header and its confirmed lines as done.
func (e *Engine) DoneHeader(ctx context.Context, id string) (*model.DispatchHeader, error) {
	var out *model.DispatchHeader
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		h, err := o.tx.Header(ctx, id)
		if err != nil {
			return err
		}
		if h.State != model.DispatchConfirmed {
			return fmt.Errorf("dispatch %s is %s: %w", h.Reference, h.State, ErrInvalidState)
		}
		v, err := loadView(ctx, o.tx, h)
		if err != nil {
			return err
		}
		if err := completable(v); err != nil {
			return err
		}
		out = h
		return o.complete(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	e.log.Infof("dispatch %s done", out.Reference)
	return out, nil
}

// CancelHeader cancels every line of the header and its shipments.
func (e *Engine) CancelHeader(ctx context.Context, id string) (*model.DispatchHeader, error) {
	var out *model.DispatchHeader
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		h, err := o.tx.Header(ctx, id)
		if err != nil {
			return err
		}
		if !h.State.Active() {
			return fmt.Errorf("dispatch %s is %s: %w", h.Reference, h.State, ErrInvalidState)
		}
		v, err := loadView(ctx, o.tx, h)
		if err != nil {
			return err
		}
		for _, sh := range v.Shipments {
			if sh.State == model.ShipmentDone {
				return fmt.Errorf("shipment %s: %w", sh.Reference, ErrShipmentsCompleted)
			}
		}
		for _, sh := range v.Shipments {
			if sh.State == model.ShipmentCancelled {
				continue
			}
			if _, err := o.e.stock.SetState(ctx, o.tx, sh.ID, model.ShipmentCancelled, stock.OriginDispatch); err != nil {
				return err
			}
		}
		for _, l := range v.Lines {
			if l.State == model.DispatchCancelled {
				continue
			}
			o.setLineState(l, model.DispatchCancelled)
			if err := o.saveLine(ctx, l, false); err != nil {
				return err
			}
		}
		o.setHeaderState(h, model.DispatchCancelled)
		out = h
		return o.tx.SaveHeader(ctx, h)
	})
	if err != nil {
		return nil, err
	}
	e.log.Infof("dispatch %s cancelled", out.Reference)
	return out, nil
}

// ResetHeader reopens a cancelled header: its cancelled shipments are
// removed and its lines return to draft.
func (e *Engine) ResetHeader(ctx context.Context, id string) (*model.DispatchHeader, error) {
	var out *model.DispatchHeader
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		h, err := o.tx.Header(ctx, id)
		if err != nil {
			return err
		}
		if h.State != model.DispatchCancelled {
			return fmt.Errorf("dispatch %s is %s: %w", h.Reference, h.State, ErrInvalidState)
		}
		v, err := loadView(ctx, o.tx, h)
		if err != nil {
			return err
		}
		for _, sh := range v.Shipments {
			if sh.State != model.ShipmentCancelled && sh.State != model.ShipmentDraft {
				return fmt.Errorf("shipment %s is %s: %w", sh.Reference, sh.State, ErrShipmentActive)
			}
			if err := o.e.stock.Remove(ctx, o.tx, sh.ID); err != nil {
				return err
			}
		}
		for _, l := range v.Lines {
			l.ShipmentID = ""
			o.setLineState(l, model.DispatchDraft)
			if err := o.saveLine(ctx, l, true); err != nil {
				return err
			}
		}
		o.setHeaderState(h, model.DispatchDraft)
		out = h
		return o.tx.SaveHeader(ctx, h)
	})
	if err != nil {
		return nil, err
	}
	e.log.Infof("dispatch %s reset to draft", out.Reference)
	return out, nil
}

// settleHeader applies the header rules after the lines of an operation were
// written: a confirmed header left without live lines returns to draft, line
// states never run ahead of the header and progress is refreshed.
func (o *op) settleHeader(ctx context.Context, id string) error {
	h, err := o.tx.Header(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	lines, err := o.tx.LinesOfHeader(ctx, id)
	if err != nil {
		return err
	}
	live := 0
	for _, l := range lines {
		if l.State != model.DispatchCancelled {
			live++
		}
	}
	if h.State == model.DispatchConfirmed && live == 0 {
		o.setHeaderState(h, model.DispatchDraft)
	}
	if h.State == model.DispatchDone && live == 0 {
		return fmt.Errorf("dispatch %s done without lines: %w", h.Reference, ErrEmptyDispatch)
	}
	for _, l := range lines {
		if h.State == model.DispatchCancelled && l.State != model.DispatchCancelled {
			return fmt.Errorf("line %s is %s under cancelled dispatch %s: %w", l.ID, l.State, h.Reference, ErrInvalidState)
		}
		if h.State != model.DispatchCancelled && l.State.Rank() > h.State.Rank() {
			return fmt.Errorf("line %s is %s under %s dispatch %s: %w", l.ID, l.State, h.State, h.Reference, ErrInvalidState)
		}
	}
	current, global, err := o.headerProgress(ctx, h, lines)
	if err != nil {
		return err
	}
	h.CurrentProgress = current
	h.GlobalProgress = global
	return o.tx.SaveHeader(ctx, h)
}

// headerProgress computes the share of the ordered quantity held by the
// header's live lines and the share recorded by the ledger.
func (o *op) headerProgress(ctx context.Context, h *model.DispatchHeader, lines []*model.DispatchLine) (current, global decimal.Decimal, err error) {
	ols, err := o.tx.OrderLines(ctx, h.OrderID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	ordered := decimal.Zero
	products := map[string]struct{}{}
	for _, ol := range ols {
		p, err := o.product(ctx, ol.ProductID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		q, err := o.convert(ctx, ol.Quantity, ol.UoMID, p.UoMID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		ordered = ordered.Add(q)
		products[ol.ProductID] = struct{}{}
	}
	live := decimal.Zero
	for _, l := range lines {
		if l.State == model.DispatchCancelled {
			continue
		}
		p, err := o.product(ctx, l.ProductID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		q, err := o.convert(ctx, l.Quantity, l.UoMID, p.UoMID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		live = live.Add(q)
	}
	booked := decimal.Zero
	for pid := range products {
		entries, err := o.tx.Ledger(ctx, h.OrderID, pid)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		booked = booked.Add(balance(entries))
	}
	return progress(live, ordered), progress(booked, ordered), nil
}
