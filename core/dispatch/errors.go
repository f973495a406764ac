package dispatch

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
	"github.com/kilianp07/orderdispatch/core/uom"
)

// Validation errors.
var (
	ErrInvalidState        = errors.New("invalid state")
	ErrEmptyDispatch       = errors.New("dispatch has no lines")
	ErrFrozenLine          = errors.New("dispatch line is frozen")
	ErrUnregisteredAddress = errors.New("address is not registered")
	ErrAddressNotLinked    = errors.New("address is not linked to stakeholder")
	ErrIncompatibleUoM     = uom.ErrIncompatible
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrUnknownStakeholder  = errors.New("stakeholder not part of the dispatch")
	ErrNoLinkedPartner     = errors.New("address has no linked partner")
	ErrPartnerScope        = errors.New("partners sharing an address must belong to the same company")
	ErrDuplicateAddress    = errors.New("address already registered")
)

// Quantity errors.
var ErrOverAllocation = errors.New("over-allocation")

// Lifecycle errors.
var (
	ErrDispatchInUse           = errors.New("dispatch in use")
	ErrShipmentsIncomplete     = errors.New("shipments not completed")
	ErrShipmentsCompleted      = errors.New("shipments already completed")
	ErrShipmentActive          = errors.New("shipment is being processed")
	ErrNoPickingType           = stock.ErrNoPickingType
	ErrAddressInUse            = errors.New("address referenced by dispatch lines")
	ErrRequestedQuantityLocked = errors.New("requested quantity locked by dispatch activity")
	ErrHeaderExists            = errors.New("order already has a dispatch")
)

// OverAllocationError reports an order line whose dispatch lines exceed the
// ordered quantity. Quantities are expressed in the order line unit.
type OverAllocationError struct {
	OrderID     string          `json:"order_id"`
	OrderLineID string          `json:"order_line_id"`
	Product     string          `json:"product"`
	Ordered     decimal.Decimal `json:"ordered"`
	// Dispatched excludes the offending line.
	Dispatched decimal.Decimal `json:"dispatched"`
	// Available is Ordered minus Dispatched, what the other lines leave for
	// the offending line. It can be positive; the rejection means Requested
	// is larger.
	Available decimal.Decimal `json:"available"`
	// Requested is the offending line quantity.
	Requested decimal.Decimal `json:"requested"`
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("over-allocation of %s: ordered %s, dispatched %s, available %s, requested %s",
		e.Product, e.Ordered, e.Dispatched, e.Available, e.Requested)
}

// Is makes errors.Is(err, ErrOverAllocation) match.
func (e *OverAllocationError) Is(target error) bool { return target == ErrOverAllocation }

// Kind classifies errors for transports.
type Kind int

const (
	KindSystem Kind = iota
	KindValidation
	KindQuantity
	KindLifecycle
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindQuantity:
		return "quantity"
	case KindLifecycle:
		return "lifecycle"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "system"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrOverAllocation, KindQuantity},
	{ErrInvalidState, KindValidation},
	{ErrEmptyDispatch, KindValidation},
	{ErrFrozenLine, KindValidation},
	{ErrUnregisteredAddress, KindValidation},
	{ErrAddressNotLinked, KindValidation},
	{ErrIncompatibleUoM, KindValidation},
	{ErrInvalidQuantity, KindValidation},
	{ErrUnknownStakeholder, KindValidation},
	{ErrNoLinkedPartner, KindValidation},
	{ErrPartnerScope, KindValidation},
	{ErrDuplicateAddress, KindValidation},
	{stock.ErrNoStockRule, KindValidation},
	{stock.ErrInvalidTransition, KindValidation},
	{ErrDispatchInUse, KindLifecycle},
	{ErrShipmentsIncomplete, KindLifecycle},
	{ErrShipmentsCompleted, KindLifecycle},
	{ErrShipmentActive, KindLifecycle},
	{ErrNoPickingType, KindLifecycle},
	{ErrAddressInUse, KindLifecycle},
	{ErrRequestedQuantityLocked, KindLifecycle},
	{ErrHeaderExists, KindLifecycle},
	{store.ErrNotFound, KindNotFound},
	{store.ErrConflict, KindConflict},
}

// KindOf returns the category of err. Unknown errors are system errors.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindSystem
}
