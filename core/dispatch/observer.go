package dispatch

import (
	"context"
	"fmt"

	"github.com/kilianp07/orderdispatch/core/events"
	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
)

// ShipmentChanged reacts to shipment state changes reported by the warehouse.
// A done shipment completes the header once every shipment is done; a
// cancelled one releases its lines back to confirmed so they can be regrouped.
// Changes made by the engine itself are ignored.
func (e *Engine) ShipmentChanged(ctx context.Context, tx *store.Tx, t stock.Transition) error {
	sh := t.Shipment
	if t.Origin == stock.OriginDispatch || sh.HeaderID == "" {
		return nil
	}
	o, owned := e.join(ctx, tx)
	o.events = append(o.events, events.ShipmentEvent{
		ShipmentID:    sh.ID,
		Reference:     sh.Reference,
		OrderID:       sh.OrderID,
		HeaderID:      sh.HeaderID,
		PartnerID:     sh.PartnerID,
		AddressID:     sh.AddressID,
		ScheduledDate: sh.ScheduledDate,
		State:         t.To,
		Moves:         len(sh.Moves),
		Time:          o.now,
	})
	var err error
	switch t.To {
	case model.ShipmentDone:
		err = o.shipmentDone(ctx, sh)
	case model.ShipmentCancelled:
		err = o.shipmentCancelled(ctx, sh)
	}
	if err != nil {
		return err
	}
	if owned {
		if err := o.settle(ctx); err != nil {
			return err
		}
		tx.AfterCommit(func() { e.publish(o) })
	}
	return nil
}

func (o *op) shipmentDone(ctx context.Context, sh *model.Shipment) error {
	h, err := o.tx.Header(ctx, sh.HeaderID)
	if err != nil {
		return err
	}
	if h.State != model.DispatchConfirmed {
		return nil
	}
	v, err := loadView(ctx, o.tx, h)
	if err != nil {
		return err
	}
	if completable(v) != nil {
		return nil
	}
	o.e.log.Infof("dispatch %s completed by shipment %s", h.Reference, sh.Reference)
	return o.complete(ctx, v)
}

func (o *op) shipmentCancelled(ctx context.Context, sh *model.Shipment) error {
	lines, err := o.tx.LinesOfShipment(ctx, sh.ID)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if l.State != model.DispatchConfirmed {
			continue
		}
		l.ShipmentID = ""
		if err := o.saveLine(ctx, l, false); err != nil {
			return err
		}
	}
	if len(lines) > 0 {
		o.e.log.Infof("shipment %s cancelled: %d line(s) released", sh.Reference, len(lines))
	}
	return nil
}

// ApplyShipmentState moves a shipment to state as the warehouse would.
func (e *Engine) ApplyShipmentState(ctx context.Context, shipmentID string, state model.ShipmentState) (*model.Shipment, error) {
	var out *model.Shipment
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		sh, err := e.stock.SetState(ctx, o.tx, shipmentID, state, stock.OriginHost)
		if err != nil {
			return fmt.Errorf("shipment %s: %w", shipmentID, err)
		}
		out = sh
		return nil
	})
	return out, err
}

// Shipment returns a shipment by id.
func (e *Engine) Shipment(ctx context.Context, id string) (*model.Shipment, error) {
	var out *model.Shipment
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.Shipment(ctx, id)
		return err
	})
	return out, err
}

// ShipmentsOfOrder returns every shipment of an order.
func (e *Engine) ShipmentsOfOrder(ctx context.Context, orderID string) ([]*model.Shipment, error) {
	var out []*model.Shipment
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.ShipmentsOfOrder(ctx, orderID)
		return err
	})
	return out, err
}
