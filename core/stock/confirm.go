package stock

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/store"
)

// ConfirmOrder moves the order to the sale state and runs procurement. When
// the context carries the suppression flag no shipment is created.
func (e *Engine) ConfirmOrder(ctx context.Context, tx *store.Tx, o *model.Order) ([]*model.Shipment, error) {
	if !o.State.PreConfirmation() {
		return nil, fmt.Errorf("order %s in state %s: %w", o.Reference, o.State, ErrInvalidTransition)
	}
	o.State = model.OrderSale
	if err := tx.SaveOrder(ctx, o); err != nil {
		return nil, err
	}
	return e.procure(ctx, tx, o)
}

// procure runs the stock rules of every shippable order line.
func (e *Engine) procure(ctx context.Context, tx *store.Tx, o *model.Order) ([]*model.Shipment, error) {
	if Suppressed(ctx) {
		return nil, nil
	}
	lines, err := tx.OrderLines(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	moves, err := e.moves(ctx, tx, o, lines)
	if err != nil || len(moves) == 0 {
		return nil, err
	}
	sh, err := e.CreateShipment(ctx, tx, ShipmentRequest{
		CompanyID:     o.CompanyID,
		OrderID:       o.ID,
		PartnerID:     o.CustomerID,
		ScheduledDate: o.CommitmentDate,
		Origin:        o.Reference,
		Moves:         moves,
	})
	if err != nil {
		return nil, err
	}
	if err := e.deliveryNote(ctx, tx, sh); err != nil {
		return nil, err
	}
	return []*model.Shipment{sh}, nil
}

func (e *Engine) moves(ctx context.Context, tx *store.Tx, o *model.Order, lines []*model.OrderLine) ([]model.Move, error) {
	if Suppressed(ctx) {
		return nil, nil
	}
	var moves []model.Move
	for _, l := range lines {
		p, err := tx.Product(ctx, l.ProductID)
		if err != nil {
			return nil, err
		}
		if !p.Shippable() || !l.Quantity.IsPositive() {
			continue
		}
		moves = append(moves, model.Move{
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			UoMID:       l.UoMID,
			Deadline:    o.CommitmentDate,
			OrderLineID: l.ID,
		})
	}
	return moves, nil
}

// deliveryNote writes the delivery document summary on the shipment.
func (e *Engine) deliveryNote(ctx context.Context, tx *store.Tx, sh *model.Shipment) error {
	if Suppressed(ctx) {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Delivery %s", sh.Reference)
	if sh.Origin != "" {
		fmt.Fprintf(&b, " for %s", sh.Origin)
	}
	if sh.Note != "" {
		b.WriteString("\n")
		b.WriteString(sh.Note)
	}
	sh.Note = b.String()
	return tx.SaveShipment(ctx, sh)
}
