package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/orderdispatch/core/model"
)

// Tx exposes typed accessors over an open Session.
type Tx struct {
	s     Session
	hooks []func()
}

// NewTx wraps a raw session. It is used by backends' tests; engine code
// obtains a Tx through Store.WithTx.
func NewTx(s Session) *Tx { return &Tx{s: s} }

// AfterCommit registers fn to run once the transaction committed.
func (tx *Tx) AfterCommit(fn func()) { tx.hooks = append(tx.hooks, fn) }

func get[T any](ctx context.Context, s Session, table, id string) (*T, error) {
	data, err := s.Get(ctx, table, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", table, id, err)
	}
	return &v, nil
}

func decodeAll[T any](table string, docs [][]byte) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

func find[T any](ctx context.Context, s Session, table, column, value string) ([]*T, error) {
	docs, err := s.Find(ctx, table, column, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](table, docs)
}

func all[T any](ctx context.Context, s Session, table string) ([]*T, error) {
	docs, err := s.All(ctx, table)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](table, docs)
}

func put(ctx context.Context, s Session, table, id string, keys Keys, v any) error {
	if id == "" {
		return fmt.Errorf("%s: empty id", table)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	return s.Put(ctx, table, id, keys, data)
}

// Order returns the order with the given id.
func (tx *Tx) Order(ctx context.Context, id string) (*model.Order, error) {
	return get[model.Order](ctx, tx.s, TableOrders, id)
}

// SaveOrder inserts or updates o.
func (tx *Tx) SaveOrder(ctx context.Context, o *model.Order) error {
	return put(ctx, tx.s, TableOrders, o.ID, nil, o)
}

// OrderLine returns the order line with the given id.
func (tx *Tx) OrderLine(ctx context.Context, id string) (*model.OrderLine, error) {
	return get[model.OrderLine](ctx, tx.s, TableOrderLines, id)
}

// OrderLines returns the lines of an order ordered by sequence.
func (tx *Tx) OrderLines(ctx context.Context, orderID string) ([]*model.OrderLine, error) {
	lines, err := find[model.OrderLine](ctx, tx.s, TableOrderLines, "order_id", orderID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Sequence != lines[j].Sequence {
			return lines[i].Sequence < lines[j].Sequence
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

// SaveOrderLine inserts or updates l.
func (tx *Tx) SaveOrderLine(ctx context.Context, l *model.OrderLine) error {
	return put(ctx, tx.s, TableOrderLines, l.ID, Keys{"order_id": l.OrderID}, l)
}

// Product returns the product with the given id.
func (tx *Tx) Product(ctx context.Context, id string) (*model.Product, error) {
	return get[model.Product](ctx, tx.s, TableProducts, id)
}

// SaveProduct inserts or updates p.
func (tx *Tx) SaveProduct(ctx context.Context, p *model.Product) error {
	return put(ctx, tx.s, TableProducts, p.ID, nil, p)
}

// UoM returns the unit of measure with the given id.
func (tx *Tx) UoM(ctx context.Context, id string) (*model.UoM, error) {
	return get[model.UoM](ctx, tx.s, TableUoMs, id)
}

// SaveUoM inserts or updates u.
func (tx *Tx) SaveUoM(ctx context.Context, u *model.UoM) error {
	return put(ctx, tx.s, TableUoMs, u.ID, nil, u)
}

// Partner returns the partner with the given id.
func (tx *Tx) Partner(ctx context.Context, id string) (*model.Partner, error) {
	return get[model.Partner](ctx, tx.s, TablePartners, id)
}

// SavePartner inserts or updates p.
func (tx *Tx) SavePartner(ctx context.Context, p *model.Partner) error {
	return put(ctx, tx.s, TablePartners, p.ID, nil, p)
}

// Address returns the address with the given id.
func (tx *Tx) Address(ctx context.Context, id string) (*model.Address, error) {
	return get[model.Address](ctx, tx.s, TableAddresses, id)
}

// SaveAddress inserts or updates a. It fails with ErrConflict when another
// address shares the same natural key.
func (tx *Tx) SaveAddress(ctx context.Context, a *model.Address) error {
	return put(ctx, tx.s, TableAddresses, a.ID, Keys{"natural_key": a.NaturalKey()}, a)
}

// DeleteAddress removes the address.
func (tx *Tx) DeleteAddress(ctx context.Context, id string) error {
	return tx.s.Delete(ctx, TableAddresses, id)
}

// AddressesOfPartner returns the addresses linked to partnerID.
func (tx *Tx) AddressesOfPartner(ctx context.Context, partnerID string) ([]*model.Address, error) {
	addrs, err := all[model.Address](ctx, tx.s, TableAddresses)
	if err != nil {
		return nil, err
	}
	out := addrs[:0]
	for _, a := range addrs {
		if a.LinkedTo(partnerID) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PickingType returns the picking type with the given id.
func (tx *Tx) PickingType(ctx context.Context, id string) (*model.PickingType, error) {
	return get[model.PickingType](ctx, tx.s, TablePickingTypes, id)
}

// SavePickingType inserts or updates p.
func (tx *Tx) SavePickingType(ctx context.Context, p *model.PickingType) error {
	return put(ctx, tx.s, TablePickingTypes, p.ID, Keys{"company_id": p.CompanyID}, p)
}

// PickingTypes returns the picking types of a company with the given code.
func (tx *Tx) PickingTypes(ctx context.Context, companyID, code string) ([]*model.PickingType, error) {
	types, err := find[model.PickingType](ctx, tx.s, TablePickingTypes, "company_id", companyID)
	if err != nil {
		return nil, err
	}
	out := types[:0]
	for _, pt := range types {
		if pt.Code == code {
			out = append(out, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Header returns the dispatch header with the given id.
func (tx *Tx) Header(ctx context.Context, id string) (*model.DispatchHeader, error) {
	return get[model.DispatchHeader](ctx, tx.s, TableHeaders, id)
}

// HeaderByOrder returns the dispatch header of an order or ErrNotFound.
func (tx *Tx) HeaderByOrder(ctx context.Context, orderID string) (*model.DispatchHeader, error) {
	hs, err := find[model.DispatchHeader](ctx, tx.s, TableHeaders, "order_id", orderID)
	if err != nil {
		return nil, err
	}
	if len(hs) == 0 {
		return nil, fmt.Errorf("dispatch header for order %s: %w", orderID, ErrNotFound)
	}
	return hs[0], nil
}

// SaveHeader inserts or updates h. A second header for the same order fails
// with ErrConflict.
func (tx *Tx) SaveHeader(ctx context.Context, h *model.DispatchHeader) error {
	return put(ctx, tx.s, TableHeaders, h.ID, Keys{"order_id": h.OrderID}, h)
}

// DeleteHeader removes the header.
func (tx *Tx) DeleteHeader(ctx context.Context, id string) error {
	return tx.s.Delete(ctx, TableHeaders, id)
}

// DispatchLine returns the dispatch line with the given id.
func (tx *Tx) DispatchLine(ctx context.Context, id string) (*model.DispatchLine, error) {
	return get[model.DispatchLine](ctx, tx.s, TableLines, id)
}

func sortLines(lines []*model.DispatchLine) []*model.DispatchLine {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].CreatedAt.Before(lines[j].CreatedAt)
		}
		return lines[i].ID < lines[j].ID
	})
	return lines
}

func (tx *Tx) linesBy(ctx context.Context, column, value string) ([]*model.DispatchLine, error) {
	lines, err := find[model.DispatchLine](ctx, tx.s, TableLines, column, value)
	if err != nil {
		return nil, err
	}
	return sortLines(lines), nil
}

// LinesOfHeader returns the lines of a dispatch header in creation order.
func (tx *Tx) LinesOfHeader(ctx context.Context, headerID string) ([]*model.DispatchLine, error) {
	return tx.linesBy(ctx, "header_id", headerID)
}

// LinesOfOrderLine returns every dispatch line allocating the order line.
func (tx *Tx) LinesOfOrderLine(ctx context.Context, orderLineID string) ([]*model.DispatchLine, error) {
	return tx.linesBy(ctx, "order_line_id", orderLineID)
}

// LinesOfShipment returns the lines materialized into a shipment.
func (tx *Tx) LinesOfShipment(ctx context.Context, shipmentID string) ([]*model.DispatchLine, error) {
	return tx.linesBy(ctx, "shipment_id", shipmentID)
}

// LinesOfAddress returns the lines delivered to an address.
func (tx *Tx) LinesOfAddress(ctx context.Context, addressID string) ([]*model.DispatchLine, error) {
	return tx.linesBy(ctx, "address_id", addressID)
}

// SaveDispatchLine inserts or updates l.
func (tx *Tx) SaveDispatchLine(ctx context.Context, l *model.DispatchLine) error {
	return put(ctx, tx.s, TableLines, l.ID, Keys{
		"header_id":     l.HeaderID,
		"order_line_id": l.OrderLineID,
		"shipment_id":   l.ShipmentID,
		"address_id":    l.AddressID,
	}, l)
}

// DeleteDispatchLine removes the line.
func (tx *Tx) DeleteDispatchLine(ctx context.Context, id string) error {
	return tx.s.Delete(ctx, TableLines, id)
}

// Shipment returns the shipment with the given id.
func (tx *Tx) Shipment(ctx context.Context, id string) (*model.Shipment, error) {
	return get[model.Shipment](ctx, tx.s, TableShipments, id)
}

func sortShipments(ss []*model.Shipment) []*model.Shipment {
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].Reference != ss[j].Reference {
			return ss[i].Reference < ss[j].Reference
		}
		return ss[i].ID < ss[j].ID
	})
	return ss
}

// ShipmentsOfOrder returns every shipment originating from the order.
func (tx *Tx) ShipmentsOfOrder(ctx context.Context, orderID string) ([]*model.Shipment, error) {
	ss, err := find[model.Shipment](ctx, tx.s, TableShipments, "order_id", orderID)
	if err != nil {
		return nil, err
	}
	return sortShipments(ss), nil
}

// ShipmentsOfHeader returns the shipments emitted for a dispatch header.
func (tx *Tx) ShipmentsOfHeader(ctx context.Context, headerID string) ([]*model.Shipment, error) {
	ss, err := find[model.Shipment](ctx, tx.s, TableShipments, "header_id", headerID)
	if err != nil {
		return nil, err
	}
	return sortShipments(ss), nil
}

// SaveShipment inserts or updates sh.
func (tx *Tx) SaveShipment(ctx context.Context, sh *model.Shipment) error {
	return put(ctx, tx.s, TableShipments, sh.ID, Keys{"order_id": sh.OrderID, "header_id": sh.HeaderID}, sh)
}

// DeleteShipment removes the shipment.
func (tx *Tx) DeleteShipment(ctx context.Context, id string) error {
	return tx.s.Delete(ctx, TableShipments, id)
}

// NextSequence returns the next value of the named sequence, starting at 1.
func (tx *Tx) NextSequence(ctx context.Context, name string) (int64, error) {
	return tx.s.NextSequence(ctx, name)
}

// AppendLedger appends an entry to the allocation ledger.
func (tx *Tx) AppendLedger(ctx context.Context, e model.LedgerEntry) error {
	return tx.s.AppendLedger(ctx, e)
}

// Ledger returns the entries of an (order, product) pair in creation order.
// An empty productID returns every entry of the order.
func (tx *Tx) Ledger(ctx context.Context, orderID, productID string) ([]model.LedgerEntry, error) {
	return tx.s.Ledger(ctx, orderID, productID)
}
