// Package uom converts quantities between units of measure of one category.
package uom

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/orderdispatch/core/model"
)

// ErrIncompatible is returned when two units belong to different categories.
var ErrIncompatible = errors.New("incompatible units of measure")

// precision is the number of decimal places kept after a conversion.
const precision = 6

// Convert expresses qty, given in from, in the to unit. Same unit is a no-op.
func Convert(qty decimal.Decimal, from, to *model.UoM) (decimal.Decimal, error) {
	if from == nil || to == nil {
		return decimal.Zero, fmt.Errorf("uom: missing unit")
	}
	if from.ID == to.ID {
		return qty, nil
	}
	if err := Compatible(from, to); err != nil {
		return decimal.Zero, err
	}
	ref, err := ToReference(qty, from)
	if err != nil {
		return decimal.Zero, err
	}
	return FromReference(ref, to)
}

// Compatible fails with ErrIncompatible when a and b belong to different
// categories.
func Compatible(a, b *model.UoM) error {
	if a == nil || b == nil {
		return fmt.Errorf("uom: missing unit")
	}
	if a.CategoryID != b.CategoryID {
		return fmt.Errorf("%w: %s (%s) to %s (%s)", ErrIncompatible, a.Name, a.CategoryID, b.Name, b.CategoryID)
	}
	return nil
}

// ToReference expresses qty, given in u, in the reference unit of its
// category. The result is exact.
func ToReference(qty decimal.Decimal, u *model.UoM) (decimal.Decimal, error) {
	if u == nil {
		return decimal.Zero, fmt.Errorf("uom: missing unit")
	}
	if !u.Ratio.IsPositive() {
		return decimal.Zero, fmt.Errorf("uom: non-positive ratio for %s", u.Name)
	}
	return qty.Mul(u.Ratio), nil
}

// FromReference expresses a reference quantity in u, rounded to the
// conversion precision.
func FromReference(ref decimal.Decimal, u *model.UoM) (decimal.Decimal, error) {
	if u == nil {
		return decimal.Zero, fmt.Errorf("uom: missing unit")
	}
	if !u.Ratio.IsPositive() {
		return decimal.Zero, fmt.Errorf("uom: non-positive ratio for %s", u.Name)
	}
	return ref.DivRound(u.Ratio, precision), nil
}
