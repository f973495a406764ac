package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/store"
)

var (
	// ErrNoPickingType is returned when a company has no outgoing picking type.
	ErrNoPickingType = errors.New("no outgoing picking type")
	// ErrNoStockRule is returned when a product cannot be procured.
	ErrNoStockRule = errors.New("no stock rule for product")
	// ErrInvalidTransition is returned for a forbidden shipment state change.
	ErrInvalidTransition = errors.New("invalid shipment transition")
	// ErrEmptyShipment is returned when a shipment request carries no move.
	ErrEmptyShipment = errors.New("shipment without moves")
)

// Origin tells observers which side initiated a shipment state change.
type Origin int

const (
	// OriginHost marks changes driven by the warehouse.
	OriginHost Origin = iota
	// OriginDispatch marks changes driven by the dispatch engine.
	OriginDispatch
)

func (o Origin) String() string {
	if o == OriginDispatch {
		return "dispatch"
	}
	return "host"
}

// Transition describes a shipment state change.
type Transition struct {
	Shipment *model.Shipment
	From     model.ShipmentState
	To       model.ShipmentState
	Origin   Origin
}

// Observer is notified of shipment state changes within the transaction that
// performs them. Returning an error aborts the transaction.
type Observer interface {
	ShipmentChanged(ctx context.Context, tx *store.Tx, t Transition) error
}

// ShipmentRequest holds the data needed to emit an outgoing shipment.
type ShipmentRequest struct {
	CompanyID     string
	OrderID       string
	HeaderID      string
	PartnerID     string
	AddressID     string
	ScheduledDate time.Time
	Origin        string
	Note          string
	Moves         []model.Move
}

// Engine implements the stock operations used by the dispatch engine.
type Engine struct {
	mu        sync.RWMutex
	observers []Observer
	now       func() time.Time
}

// NewEngine returns a stock engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Subscribe registers an observer of shipment state changes.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// OutgoingType returns the outgoing picking type of the company.
func (e *Engine) OutgoingType(ctx context.Context, tx *store.Tx, companyID string) (*model.PickingType, error) {
	types, err := tx.PickingTypes(ctx, companyID, model.Outgoing)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("company %s: %w", companyID, ErrNoPickingType)
	}
	return types[0], nil
}

// CheckStockRule verifies that the product can be delivered from stock.
func (e *Engine) CheckStockRule(p *model.Product) error {
	if !p.Shippable() {
		return fmt.Errorf("%s: %w", p.Name, ErrNoStockRule)
	}
	return nil
}

// CreateShipment validates req and persists a draft shipment.
func (e *Engine) CreateShipment(ctx context.Context, tx *store.Tx, req ShipmentRequest) (*model.Shipment, error) {
	if len(req.Moves) == 0 {
		return nil, ErrEmptyShipment
	}
	pt, err := e.OutgoingType(ctx, tx, req.CompanyID)
	if err != nil {
		return nil, err
	}
	for _, mv := range req.Moves {
		p, err := tx.Product(ctx, mv.ProductID)
		if err != nil {
			return nil, err
		}
		if err := e.CheckStockRule(p); err != nil {
			return nil, err
		}
	}
	n, err := tx.NextSequence(ctx, "stock.picking."+pt.ID)
	if err != nil {
		return nil, fmt.Errorf("shipment sequence: %w", err)
	}
	prefix := pt.SequencePrefix
	if prefix == "" {
		prefix = "OUT"
	}
	sh := &model.Shipment{
		ID:                    uuid.NewString(),
		Reference:             fmt.Sprintf("%s/%05d", strings.TrimSuffix(prefix, "/"), n),
		CompanyID:             req.CompanyID,
		OrderID:               req.OrderID,
		HeaderID:              req.HeaderID,
		PartnerID:             req.PartnerID,
		AddressID:             req.AddressID,
		ScheduledDate:         req.ScheduledDate,
		Origin:                req.Origin,
		PickingTypeID:         pt.ID,
		SourceLocationID:      pt.SourceLocationID,
		DestinationLocationID: pt.DestinationLocation,
		State:                 model.ShipmentDraft,
		Note:                  req.Note,
		Moves:                 make([]model.Move, len(req.Moves)),
		CreatedAt:             e.now().UTC(),
	}
	copy(sh.Moves, req.Moves)
	for i := range sh.Moves {
		if sh.Moves[i].ID == "" {
			sh.Moves[i].ID = uuid.NewString()
		}
	}
	if err := tx.SaveShipment(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

var transitions = map[model.ShipmentState][]model.ShipmentState{
	model.ShipmentDraft:    {model.ShipmentWaiting, model.ShipmentAssigned, model.ShipmentDone, model.ShipmentCancelled},
	model.ShipmentWaiting:  {model.ShipmentAssigned, model.ShipmentDone, model.ShipmentCancelled},
	model.ShipmentAssigned: {model.ShipmentWaiting, model.ShipmentDone, model.ShipmentCancelled},
}

// CanTransition reports whether a shipment may move from one state to another.
func CanTransition(from, to model.ShipmentState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SetState moves the shipment to state to and notifies observers. Setting the
// current state again is a no-op.
func (e *Engine) SetState(ctx context.Context, tx *store.Tx, shipmentID string, to model.ShipmentState, origin Origin) (*model.Shipment, error) {
	sh, err := tx.Shipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.State == to {
		return sh, nil
	}
	if !CanTransition(sh.State, to) {
		return nil, fmt.Errorf("%s %s -> %s: %w", sh.Reference, sh.State, to, ErrInvalidTransition)
	}
	from := sh.State
	sh.State = to
	if err := tx.SaveShipment(ctx, sh); err != nil {
		return nil, err
	}
	e.mu.RLock()
	obs := append([]Observer(nil), e.observers...)
	e.mu.RUnlock()
	t := Transition{Shipment: sh, From: from, To: to, Origin: origin}
	for _, o := range obs {
		if err := o.ShipmentChanged(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	return sh, nil
}

// Remove deletes a shipment that never left the warehouse.
func (e *Engine) Remove(ctx context.Context, tx *store.Tx, shipmentID string) error {
	sh, err := tx.Shipment(ctx, shipmentID)
	if err != nil {
		return err
	}
	if sh.State.Active() {
		return fmt.Errorf("remove %s in state %s: %w", sh.Reference, sh.State, ErrInvalidTransition)
	}
	return tx.DeleteShipment(ctx, shipmentID)
}
