package dispatch

import (
	"context"
	"fmt"

	"github.com/kilianp07/orderdispatch/core/model"
)

// MasterData is the reference data the engine reads from the host platform.
type MasterData struct {
	UoMs         []*model.UoM         `json:"uoms"`
	Products     []*model.Product     `json:"products"`
	Partners     []*model.Partner     `json:"partners"`
	PickingTypes []*model.PickingType `json:"picking_types"`
}

// Seed upserts master data in one transaction.
func (e *Engine) Seed(ctx context.Context, md MasterData) error {
	return e.run(ctx, func(ctx context.Context, o *op) error {
		for _, u := range md.UoMs {
			if u.Ratio.IsZero() || u.Ratio.IsNegative() {
				return fmt.Errorf("uom %s: ratio %s: %w", u.ID, u.Ratio, ErrInvalidQuantity)
			}
			if err := o.tx.SaveUoM(ctx, u); err != nil {
				return err
			}
		}
		for _, p := range md.Products {
			if _, err := o.tx.UoM(ctx, p.UoMID); err != nil {
				return fmt.Errorf("product %s: uom %s: %w", p.ID, p.UoMID, err)
			}
			if err := o.tx.SaveProduct(ctx, p); err != nil {
				return err
			}
		}
		for _, p := range md.Partners {
			if err := o.tx.SavePartner(ctx, p); err != nil {
				return err
			}
		}
		for _, pt := range md.PickingTypes {
			if err := o.tx.SavePickingType(ctx, pt); err != nil {
				return err
			}
		}
		return nil
	})
}
