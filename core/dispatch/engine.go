package dispatch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/kilianp07/orderdispatch/core/events"
	"github.com/kilianp07/orderdispatch/core/logger"
	"github.com/kilianp07/orderdispatch/core/metrics"
	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
	"github.com/kilianp07/orderdispatch/internal/eventbus"
)

// Engine runs the dispatch operations against a store.
type Engine struct {
	store *store.Store
	stock *stock.Engine
	cfg   Config
	loc   *time.Location
	log   logger.Logger
	sink  metrics.MetricsSink
	bus   eventbus.EventBus
	now   func() time.Time
}

// NewEngine creates an engine and subscribes it to shipment state changes
// of the stock engine. log, sink and bus may be nil.
func NewEngine(st *store.Store, stk *stock.Engine, cfg Config, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	e := &Engine{store: st, stock: stk, cfg: cfg, loc: loc, log: log, sink: sink, bus: bus, now: time.Now}
	stk.Subscribe(e)
	return e, nil
}

// SetClock overrides the time source used for timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Stock returns the stock engine driven by e.
func (e *Engine) Stock() *stock.Engine { return e.stock }

// Store returns the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// op carries the state of one engine transaction.
type op struct {
	e         *Engine
	tx        *store.Tx
	now       time.Time
	dirty     map[string]string
	headers   map[string]struct{}
	events    []events.Event
	shipments []metrics.ShipmentRecord
	products  map[string]*model.Product
	uoms      map[string]*model.UoM
}

type opKey struct{}

func (e *Engine) newOp(tx *store.Tx) *op {
	return &op{
		e:        e,
		tx:       tx,
		now:      e.now().UTC(),
		dirty:    map[string]string{},
		headers:  map[string]struct{}{},
		products: map[string]*model.Product{},
		uoms:     map[string]*model.UoM{},
	}
}

// run executes fn in a transaction, settles the dirty order lines and
// headers before commit and publishes the collected events after commit.
func (e *Engine) run(ctx context.Context, fn func(ctx context.Context, o *op) error) error {
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		o := e.newOp(tx)
		ctx = context.WithValue(ctx, opKey{}, o)
		if err := fn(ctx, o); err != nil {
			return err
		}
		if err := o.settle(ctx); err != nil {
			return err
		}
		tx.AfterCommit(func() { e.publish(o) })
		return nil
	})
	e.observeFailure(err)
	return err
}

// join returns the op of the running engine transaction, or a new one bound
// to tx when the caller is outside the engine. owned reports the latter.
func (e *Engine) join(ctx context.Context, tx *store.Tx) (o *op, owned bool) {
	if cur, ok := ctx.Value(opKey{}).(*op); ok && cur.tx == tx {
		return cur, false
	}
	return e.newOp(tx), true
}

func (e *Engine) publish(o *op) {
	for _, ev := range o.events {
		if le, ok := ev.(events.LineEvent); ok {
			lineTransitions.WithLabelValues(string(le.To)).Inc()
		}
		if e.bus != nil {
			e.bus.Publish(ev)
		}
	}
	if len(o.shipments) == 0 {
		return
	}
	shipmentsMaterialized.Add(float64(len(o.shipments)))
	if err := e.sink.RecordShipments(o.shipments); err != nil {
		e.log.Warnf("record shipments: %v", err)
	}
}

func (e *Engine) observeFailure(err error) {
	var oa *OverAllocationError
	if !errors.As(err, &oa) {
		return
	}
	overAllocationRejects.Inc()
	e.log.Warnf("rejected: %v", oa)
	if rec, ok := e.sink.(metrics.AllocationRecorder); ok {
		ordered, _ := oa.Ordered.Float64()
		dispatched, _ := oa.Dispatched.Float64()
		available, _ := oa.Available.Float64()
		if rerr := rec.RecordAllocationRejection(metrics.AllocationRejection{
			OrderID:     oa.OrderID,
			OrderLineID: oa.OrderLineID,
			Product:     oa.Product,
			Ordered:     ordered,
			Dispatched:  dispatched,
			Available:   available,
			Time:        e.now(),
		}); rerr != nil {
			e.log.Warnf("record rejection: %v", rerr)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.AllocationRejectedEvent{
			OrderID:     oa.OrderID,
			OrderLineID: oa.OrderLineID,
			Product:     oa.Product,
			Ordered:     oa.Ordered.String(),
			Dispatched:  oa.Dispatched.String(),
			Available:   oa.Available.String(),
			Time:        e.now(),
		})
	}
}

func (o *op) product(ctx context.Context, id string) (*model.Product, error) {
	if p, ok := o.products[id]; ok {
		return p, nil
	}
	p, err := o.tx.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	o.products[id] = p
	return p, nil
}

func (o *op) unit(ctx context.Context, id string) (*model.UoM, error) {
	if u, ok := o.uoms[id]; ok {
		return u, nil
	}
	u, err := o.tx.UoM(ctx, id)
	if err != nil {
		return nil, err
	}
	o.uoms[id] = u
	return u, nil
}

// markLine records a write of l. offending marks l as the record whose write
// is validated against the order line.
func (o *op) markLine(l *model.DispatchLine, offending bool) {
	if offending {
		o.dirty[l.OrderLineID] = l.ID
	} else {
		o.markOrderLine(l.OrderLineID)
	}
	o.headers[l.HeaderID] = struct{}{}
}

// markOrderLine schedules the rollups of an order line for recomputation.
func (o *op) markOrderLine(id string) {
	if _, ok := o.dirty[id]; !ok {
		o.dirty[id] = ""
	}
}

func (o *op) saveLine(ctx context.Context, l *model.DispatchLine, offending bool) error {
	if err := o.tx.SaveDispatchLine(ctx, l); err != nil {
		return err
	}
	o.markLine(l, offending)
	return nil
}

func (o *op) deleteLine(ctx context.Context, l *model.DispatchLine) error {
	if err := o.tx.DeleteDispatchLine(ctx, l.ID); err != nil {
		return err
	}
	if o.dirty[l.OrderLineID] == l.ID {
		o.dirty[l.OrderLineID] = ""
	}
	o.markLine(l, false)
	return nil
}

func (o *op) setLineState(l *model.DispatchLine, to model.DispatchState) {
	if l.State == to {
		return
	}
	o.events = append(o.events, events.LineEvent{
		LineID: l.ID, HeaderID: l.HeaderID, OrderID: l.OrderID, From: l.State, To: to, Time: o.now,
	})
	l.State = to
}

func (o *op) setHeaderState(h *model.DispatchHeader, to model.DispatchState) {
	if h.State == to {
		return
	}
	o.events = append(o.events, events.HeaderEvent{
		HeaderID: h.ID, OrderID: h.OrderID, Reference: h.Reference, From: h.State, To: to, Time: o.now,
	})
	h.State = to
	o.headers[h.ID] = struct{}{}
}

// settle runs the pre-commit checks and recomputations.
func (o *op) settle(ctx context.Context) error {
	type pair struct{ order, product string }
	pairs := map[pair]string{}
	ids := make([]string, 0, len(o.dirty))
	for id := range o.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ol, err := o.checkAllocation(ctx, id, o.dirty[id])
		if err != nil {
			return err
		}
		if ol == nil {
			continue
		}
		key := pair{ol.OrderID, ol.ProductID}
		if o.dirty[id] != "" || pairs[key] == "" {
			pairs[key] = o.dirty[id]
		}
		if h, err := o.tx.HeaderByOrder(ctx, ol.OrderID); err == nil {
			o.headers[h.ID] = struct{}{}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	keys := make([]pair, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].order != keys[j].order {
			return keys[i].order < keys[j].order
		}
		return keys[i].product < keys[j].product
	})
	for _, k := range keys {
		if err := o.post(ctx, k.order, k.product, pairs[k]); err != nil {
			return err
		}
	}
	hids := make([]string, 0, len(o.headers))
	for id := range o.headers {
		hids = append(hids, id)
	}
	sort.Strings(hids)
	for _, id := range hids {
		if err := o.settleHeader(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
