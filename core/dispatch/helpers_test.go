package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
	"github.com/kilianp07/orderdispatch/infra/store/memory"
	"github.com/kilianp07/orderdispatch/internal/eventbus"
)

var testNow = time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)

// tick returns a clock starting at testNow that advances one second per call.
func tick() func() time.Time {
	var mu sync.Mutex
	now := testNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	e   *Engine
	bus *eventbus.Bus
	// addresses by alias: a1, a2 (s1), a3 (s2), ax (x)
	addr map[string]string
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func testMasterData() MasterData {
	return MasterData{
		UoMs: []*model.UoM{
			{ID: "each", Name: "Units", CategoryID: "unit", Ratio: dec(1)},
			{ID: "dozen", Name: "Dozens", CategoryID: "unit", Ratio: dec(12)},
			{ID: "kg", Name: "kg", CategoryID: "weight", Ratio: dec(1)},
		},
		Products: []*model.Product{
			{ID: "p", Name: "Apples", Type: model.ProductStorable, UoMID: "each"},
			{ID: "q", Name: "Pears", Type: model.ProductConsumable, UoMID: "each"},
			{ID: "svc", Name: "Installation", Type: model.ProductService, UoMID: "each"},
			{ID: "yog", Name: "Yoghurt", Type: model.ProductStorable, UoMID: "each", Perishable: true, ColdChain: true, Allergens: []string{"milk"}},
		},
		Partners: []*model.Partner{
			{ID: "cust", Name: "Customer", CompanyID: "c1", Active: true},
			{ID: "s1", Name: "School 1", CompanyID: "c1", Active: true},
			{ID: "s2", Name: "School 2", CompanyID: "c1", Active: true},
			{ID: "x", Name: "Elsewhere", CompanyID: "c2", Active: true},
		},
		PickingTypes: []*model.PickingType{
			{ID: "out1", CompanyID: "c1", Code: model.Outgoing, SequencePrefix: "WH/OUT", SourceLocationID: "stock", DestinationLocation: "customers"},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.New(memory.New(), 0)
	stk := stock.NewEngine()
	stk.SetClock(func() time.Time { return testNow })
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	e, err := NewEngine(st, stk, Config{Timezone: "Europe/Paris"}, nil, nil, bus)
	require.NoError(t, err)
	e.SetClock(tick())
	require.NoError(t, e.Seed(ctx, testMasterData()))

	f := &fixture{t: t, ctx: ctx, e: e, bus: bus, addr: map[string]string{}}
	for _, a := range []struct {
		alias, name, partner string
	}{
		{"a1", "Main building", "s1"},
		{"a2", "Canteen", "s1"},
		{"a3", "Gym", "s2"},
		{"ax", "Depot", "x"},
	} {
		addr, err := e.CreateAddress(ctx, AddressInput{Name: a.name, PostalCode: "75001", City: "Paris", Country: "FR", PartnerIDs: []string{a.partner}})
		require.NoError(t, err)
		f.addr[a.alias] = addr.ID
	}
	return f
}

// order creates and confirms a dispatch order with stakeholders s1 and s2.
func (f *fixture) order(lines ...OrderLineInput) (*OrderView, *model.DispatchHeader) {
	f.t.Helper()
	v, err := f.e.CreateOrder(f.ctx, OrderInput{
		CompanyID:      "c1",
		CustomerID:     "cust",
		DeliveryMode:   model.ModeDispatch,
		StakeholderIDs: []string{"s1", "s2"},
		Lines:          lines,
	})
	require.NoError(f.t, err)
	_, err = f.e.ConfirmOrder(f.ctx, v.Order.ID)
	require.NoError(f.t, err)
	hv, err := f.e.HeaderByOrder(f.ctx, v.Order.ID)
	require.NoError(f.t, err)
	return v, hv.Header
}

func olIn(product string, qty int64) OrderLineInput {
	return OrderLineInput{ProductID: product, Quantity: dec(qty), UnitPrice: dec(2)}
}

func (f *fixture) line(h *model.DispatchHeader, ol *model.OrderLine, qty int64, stakeholder, addr string, date time.Time) *model.DispatchLine {
	f.t.Helper()
	l, err := f.e.CreateLine(f.ctx, h.ID, LineInput{
		OrderLineID:   ol.ID,
		Quantity:      dec(qty),
		StakeholderID: stakeholder,
		AddressID:     f.addr[addr],
		ScheduledDate: date,
	})
	require.NoError(f.t, err)
	return l
}

func (f *fixture) orderLine(id string) *model.OrderLine {
	f.t.Helper()
	ol, err := f.e.orderLine(f.ctx, id)
	require.NoError(f.t, err)
	return ol
}

func (f *fixture) header(id string) *HeaderView {
	f.t.Helper()
	v, err := f.e.Header(f.ctx, id)
	require.NoError(f.t, err)
	return v
}

// assertInvariants checks the properties that hold after every operation.
func (f *fixture) assertInvariants(orderID string) {
	f.t.Helper()
	err := f.e.store.WithTx(f.ctx, func(ctx context.Context, tx *store.Tx) error {
		o := f.e.newOp(tx)
		ols, err := tx.OrderLines(ctx, orderID)
		if err != nil {
			return err
		}
		for _, ol := range ols {
			d, err := o.dispatched(ctx, ol, "")
			require.NoError(f.t, err)
			require.False(f.t, d.GreaterThan(ol.Quantity), "order line %s over-allocated", ol.ID)
			require.True(f.t, ol.DispatchedQuantity.Equal(d), "rollup %s != %s", ol.DispatchedQuantity, d)
			require.False(f.t, ol.DispatchProgress.IsNegative())
			require.False(f.t, ol.DispatchProgress.GreaterThan(hundred))
		}
		h, err := tx.HeaderByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		lines, err := tx.LinesOfHeader(ctx, h.ID)
		if err != nil {
			return err
		}
		live := 0
		for _, l := range lines {
			if l.State != model.DispatchCancelled {
				live++
				a, err := tx.Address(ctx, l.AddressID)
				require.NoError(f.t, err)
				require.True(f.t, a.LinkedTo(l.StakeholderID))
				if h.State != model.DispatchCancelled {
					require.LessOrEqual(f.t, l.State.Rank(), h.State.Rank())
				}
			}
		}
		if h.State != model.DispatchDraft && h.State != model.DispatchCancelled {
			require.Positive(f.t, live)
		}
		ships, err := tx.ShipmentsOfHeader(ctx, h.ID)
		if err != nil {
			return err
		}
		for _, sh := range ships {
			if sh.State == model.ShipmentCancelled {
				continue
			}
			require.NotEmpty(f.t, sh.Moves)
			for _, mv := range sh.Moves {
				l, err := tx.DispatchLine(ctx, mv.DispatchLineID)
				require.NoError(f.t, err)
				require.Equal(f.t, sh.PartnerID, l.StakeholderID)
				require.Equal(f.t, sh.AddressID, l.AddressID)
				require.True(f.t, f.e.normalize(l.ScheduledDate).Equal(sh.ScheduledDate))
			}
		}
		return nil
	})
	require.NoError(f.t, err)
}
