package scenarios

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/kilianp07/orderdispatch/core/dispatch"
	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
	"github.com/kilianp07/orderdispatch/infra/logger"
	"github.com/kilianp07/orderdispatch/infra/metrics"
	"github.com/kilianp07/orderdispatch/infra/store/memory"
	"github.com/kilianp07/orderdispatch/internal/eventbus"
)

// DefaultDate is the scheduled day of lines created without a date.
const DefaultDate = "2025-01-15"

var epoch = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

// Result is the outcome of a scenario run.
type Result struct {
	Name      string
	Failures  []string
	Shipments []*model.Shipment
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

func (r *Result) failf(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

type runner struct {
	ctx    context.Context
	e      *dispatch.Engine
	loc    *time.Location
	reg    *prometheus.Registry
	order  *dispatch.OrderView
	header *model.DispatchHeader
	ol     map[string]string
	lines  map[string]string
	addr   map[string]string
	sc     *Scenario
}

type action func(r *runner, st Step) error

var actions = map[string]action{
	"create_line":     (*runner).createLine,
	"write_line":      (*runner).writeLine,
	"confirm_line":    lineOp((*dispatch.Engine).ConfirmLine),
	"done_line":       lineOp((*dispatch.Engine).DoneLine),
	"cancel_line":     lineOp((*dispatch.Engine).CancelLine),
	"delete_line":     (*runner).deleteLine,
	"confirm_header":  headerOp((*dispatch.Engine).ConfirmHeader),
	"materialize":     headerOp((*dispatch.Engine).Materialize),
	"done_header":     headerOp((*dispatch.Engine).DoneHeader),
	"cancel_header":   headerOp((*dispatch.Engine).CancelHeader),
	"reset_header":    headerOp((*dispatch.Engine).ResetHeader),
	"shipment_state":  (*runner).shipmentState,
	"update_quantity": (*runner).updateQuantity,
}

func lineOp[T any](fn func(*dispatch.Engine, context.Context, string) (T, error)) action {
	return func(r *runner, st Step) error {
		id, err := r.line(st.Line)
		if err != nil {
			return err
		}
		_, err = fn(r.e, r.ctx, id)
		return err
	}
}

func headerOp[T any](fn func(*dispatch.Engine, context.Context, string) (T, error)) action {
	return func(r *runner, st Step) error {
		_, err := fn(r.e, r.ctx, r.header.ID)
		return err
	}
}

// Run plays sc against a fresh in-memory engine. Unexpected step errors
// abort the run; expectation mismatches are reported in the result.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	r, err := setup(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	res := &Result{Name: sc.Name}
	for i, st := range sc.Steps {
		err := actions[st.Action](r, st)
		switch {
		case st.ExpectError == "" && err != nil:
			return nil, fmt.Errorf("scenario %s: step %d (%s): %w", sc.Name, i, st.Action, err)
		case st.ExpectError != "" && err == nil:
			res.failf("step %d (%s): expected %s error", i, st.Action, st.ExpectError)
		case st.ExpectError != "" && dispatch.KindOf(err).String() != st.ExpectError:
			res.failf("step %d (%s): expected %s error, got %v", i, st.Action, st.ExpectError, err)
		}
	}
	if err := r.check(res); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return res, nil
}

func setup(ctx context.Context, sc *Scenario) (*runner, error) {
	tz := sc.Timezone
	if tz == "" {
		tz = "Europe/Paris"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		return nil, fmt.Errorf("prom sink: %w", err)
	}
	stk := stock.NewEngine()
	stk.SetClock(func() time.Time { return epoch })
	bus := eventbus.New()
	e, err := dispatch.NewEngine(store.New(memory.New(), 0), stk, dispatch.Config{Timezone: tz}, logger.NopLogger{}, sink, bus)
	if err != nil {
		return nil, err
	}
	e.SetClock(ticker())
	if err := e.Seed(ctx, masterData()); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	r := &runner{ctx: ctx, e: e, loc: loc, reg: reg, sc: sc,
		ol: map[string]string{}, lines: map[string]string{}, addr: map[string]string{}}
	for _, a := range []struct{ alias, name, partner string }{
		{"a1", "Main building", "s1"},
		{"a2", "Canteen", "s1"},
		{"a3", "Gym", "s2"},
	} {
		addr, err := e.CreateAddress(ctx, dispatch.AddressInput{Name: a.name, PostalCode: "75001", City: "Paris", Country: "FR", PartnerIDs: []string{a.partner}})
		if err != nil {
			return nil, fmt.Errorf("address %s: %w", a.alias, err)
		}
		r.addr[a.alias] = addr.ID
	}

	in := dispatch.OrderInput{CompanyID: "c1", CustomerID: "cust", DeliveryMode: model.ModeDispatch, StakeholderIDs: sc.Order.Stakeholders}
	if len(in.StakeholderIDs) == 0 {
		in.StakeholderIDs = []string{"s1", "s2"}
	}
	for _, l := range sc.Order.Lines {
		qty, err := decimal.NewFromString(l.Quantity)
		if err != nil {
			return nil, fmt.Errorf("order line %s quantity: %w", l.Ref, err)
		}
		price := decimal.NewFromInt(1)
		if l.Price != "" {
			if price, err = decimal.NewFromString(l.Price); err != nil {
				return nil, fmt.Errorf("order line %s price: %w", l.Ref, err)
			}
		}
		in.Lines = append(in.Lines, dispatch.OrderLineInput{ProductID: l.Product, Quantity: qty, UoMID: l.UoM, UnitPrice: price})
	}
	if r.order, err = e.CreateOrder(ctx, in); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	for i, l := range sc.Order.Lines {
		r.ol[l.Ref] = r.order.Lines[i].ID
	}
	if _, err := e.ConfirmOrder(ctx, r.order.Order.ID); err != nil {
		return nil, fmt.Errorf("confirm order: %w", err)
	}
	hv, err := e.HeaderByOrder(ctx, r.order.Order.ID)
	if err != nil {
		return nil, err
	}
	r.header = hv.Header
	return r, nil
}

func ticker() func() time.Time {
	var mu sync.Mutex
	now := epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func masterData() dispatch.MasterData {
	one := decimal.NewFromInt(1)
	return dispatch.MasterData{
		UoMs: []*model.UoM{
			{ID: "each", Name: "Units", CategoryID: "unit", Ratio: one},
			{ID: "dozen", Name: "Dozens", CategoryID: "unit", Ratio: decimal.NewFromInt(12)},
			{ID: "kg", Name: "kg", CategoryID: "weight", Ratio: one},
		},
		Products: []*model.Product{
			{ID: "p", Name: "Apples", Type: model.ProductStorable, UoMID: "each"},
			{ID: "q", Name: "Pears", Type: model.ProductConsumable, UoMID: "each"},
			{ID: "svc", Name: "Installation", Type: model.ProductService, UoMID: "each"},
		},
		Partners: []*model.Partner{
			{ID: "cust", Name: "Customer", CompanyID: "c1", Active: true},
			{ID: "s1", Name: "School 1", CompanyID: "c1", Active: true},
			{ID: "s2", Name: "School 2", CompanyID: "c1", Active: true},
		},
		PickingTypes: []*model.PickingType{
			{ID: "out", CompanyID: "c1", Code: model.Outgoing, SequencePrefix: "WH/OUT", SourceLocationID: "stock", DestinationLocation: "customers"},
		},
	}
}

func (r *runner) line(ref string) (string, error) {
	id, ok := r.lines[ref]
	if !ok {
		return "", fmt.Errorf("unknown line %q", ref)
	}
	return id, nil
}

func (r *runner) date(s string) (time.Time, error) {
	if s == "" {
		s = DefaultDate
	}
	d, err := time.ParseInLocation(time.DateOnly, s, r.loc)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(12 * time.Hour), nil
}

func (r *runner) address(alias string) string {
	if alias == "" {
		alias = "a1"
	}
	if id, ok := r.addr[alias]; ok {
		return id
	}
	return alias
}

func (r *runner) createLine(st Step) error {
	olID, ok := r.ol[st.OrderLine]
	if !ok {
		return fmt.Errorf("unknown order line %q", st.OrderLine)
	}
	qty, err := decimal.NewFromString(st.Quantity)
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	date, err := r.date(st.Date)
	if err != nil {
		return err
	}
	stakeholder := st.Stakeholder
	if stakeholder == "" {
		stakeholder = "s1"
	}
	l, err := r.e.CreateLine(r.ctx, r.header.ID, dispatch.LineInput{
		OrderLineID:   olID,
		Quantity:      qty,
		UoMID:         st.UoM,
		StakeholderID: stakeholder,
		AddressID:     r.address(st.Address),
		ScheduledDate: date,
	})
	if err != nil {
		return err
	}
	if st.Ref != "" {
		r.lines[st.Ref] = l.ID
	}
	return nil
}

func (r *runner) writeLine(st Step) error {
	id, err := r.line(st.Line)
	if err != nil {
		return err
	}
	var p dispatch.LinePatch
	if st.Quantity != "" {
		q, err := decimal.NewFromString(st.Quantity)
		if err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
		p.Quantity = &q
	}
	if st.Address != "" {
		a := r.address(st.Address)
		p.AddressID = &a
	}
	if st.Date != "" {
		d, err := r.date(st.Date)
		if err != nil {
			return err
		}
		p.ScheduledDate = &d
	}
	_, err = r.e.WriteLine(r.ctx, id, p)
	return err
}

func (r *runner) deleteLine(st Step) error {
	id, err := r.line(st.Line)
	if err != nil {
		return err
	}
	return r.e.DeleteLine(r.ctx, id)
}

func (r *runner) updateQuantity(st Step) error {
	olID, ok := r.ol[st.OrderLine]
	if !ok {
		return fmt.Errorf("unknown order line %q", st.OrderLine)
	}
	qty, err := decimal.NewFromString(st.Quantity)
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	_, err = r.e.UpdateRequestedQuantity(r.ctx, olID, qty)
	return err
}

func (r *runner) shipmentState(st Step) error {
	ships, err := r.shipments()
	if err != nil {
		return err
	}
	if st.Shipment < 0 || st.Shipment >= len(ships) {
		return fmt.Errorf("shipment %d out of range (%d shipments)", st.Shipment, len(ships))
	}
	state, ok := model.ParseShipmentState(st.State)
	if !ok {
		return fmt.Errorf("unknown shipment state %q", st.State)
	}
	_, err = r.e.ApplyShipmentState(r.ctx, ships[st.Shipment].ID, state)
	return err
}

// shipments returns the header shipments sorted by reference.
func (r *runner) shipments() ([]*model.Shipment, error) {
	hv, err := r.e.Header(r.ctx, r.header.ID)
	if err != nil {
		return nil, err
	}
	ships := append([]*model.Shipment(nil), hv.Shipments...)
	sort.Slice(ships, func(i, j int) bool { return ships[i].Reference < ships[j].Reference })
	return ships, nil
}

func (r *runner) check(res *Result) error {
	exp := r.sc.Expected
	hv, err := r.e.Header(r.ctx, r.header.ID)
	if err != nil {
		return err
	}
	if exp.HeaderState != "" && string(hv.Header.State) != exp.HeaderState {
		res.failf("header state: expected %s, got %s", exp.HeaderState, hv.Header.State)
	}
	if exp.Lines != nil {
		live := 0
		for _, l := range hv.Lines {
			if l.State != model.DispatchCancelled {
				live++
			}
		}
		if live != *exp.Lines {
			res.failf("lines: expected %d live lines, got %d", *exp.Lines, live)
		}
	}

	ships, err := r.shipments()
	if err != nil {
		return err
	}
	var active []*model.Shipment
	for _, sh := range ships {
		if sh.State != model.ShipmentCancelled {
			active = append(active, sh)
		}
	}
	res.Shipments = active
	if se := exp.Shipments; se != nil {
		r.checkShipments(res, se, active)
	}

	for ref, want := range exp.OrderLines {
		id, ok := r.ol[ref]
		if !ok {
			return fmt.Errorf("expected order line %q not in order", ref)
		}
		q, err := r.e.Quantities(r.ctx, id)
		if err != nil {
			return err
		}
		compare(res, ref+" dispatched", want.Dispatched, q.Dispatched)
		compare(res, ref+" remaining", want.Remaining, q.Remaining)
	}

	if exp.Rejections != nil {
		n, err := counterSum(r.reg, "allocation_rejections_total")
		if err != nil {
			return err
		}
		if int(n) != *exp.Rejections {
			res.failf("rejections: expected %d, got %v", *exp.Rejections, n)
		}
	}
	return nil
}

func (r *runner) checkShipments(res *Result, se *ShipmentsExpected, ships []*model.Shipment) {
	if len(ships) != se.Count {
		res.failf("shipments: expected %d, got %d", se.Count, len(ships))
		return
	}
	if se.Moves != nil {
		got := make([]int, len(ships))
		for i, sh := range ships {
			got[i] = len(sh.Moves)
		}
		want := append([]int(nil), se.Moves...)
		sort.Ints(got)
		sort.Ints(want)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			res.failf("moves per shipment: expected %v, got %v", want, got)
		}
	}
	if se.Days != nil {
		got := make([]string, len(ships))
		for i, sh := range ships {
			got[i] = sh.ScheduledDate.In(r.loc).Format(time.DateOnly)
		}
		want := append([]string(nil), se.Days...)
		sort.Strings(got)
		sort.Strings(want)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			res.failf("shipment days: expected %v, got %v", want, got)
		}
	}
	if se.Hour != nil {
		for _, sh := range ships {
			local := sh.ScheduledDate.In(r.loc)
			if local.Hour() != *se.Hour || local.Minute() != 0 {
				res.failf("shipment %s scheduled at %s, expected %02d:00", sh.Reference, local.Format("15:04"), *se.Hour)
			}
		}
	}
}

func compare(res *Result, what, want string, got decimal.Decimal) {
	if want == "" {
		return
	}
	w, err := decimal.NewFromString(want)
	if err != nil {
		res.failf("%s: bad expected value %q", what, want)
		return
	}
	if !w.Equal(got) {
		res.failf("%s: expected %s, got %s", what, w, got)
	}
}

func counterSum(g prometheus.Gatherer, name string) (float64, error) {
	mfs, err := g.Gather()
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum, nil
}
