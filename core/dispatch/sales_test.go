package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
)

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	first, err := f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "cust", Lines: []OrderLineInput{olIn("p", 3), {ProductID: "q", Quantity: dec(1), UoMID: "dozen"}}})
	require.NoError(t, err)
	assert.Equal(t, "SO00001", first.Order.Reference)
	assert.Equal(t, model.ModeStandard, first.Order.DeliveryMode)
	assert.Equal(t, model.OrderDraft, first.Order.State)
	require.Len(t, first.Lines, 2)
	assert.Equal(t, "each", first.Lines[0].UoMID)
	assert.Equal(t, "dozen", first.Lines[1].UoMID)
	assert.Equal(t, "3", first.Lines[0].RemainingQuantity.String())

	second, err := f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "cust"})
	require.NoError(t, err)
	assert.Equal(t, "SO00002", second.Order.Reference)

	_, err = f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "ghost"})
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "cust", Lines: []OrderLineInput{olIn("p", 0)}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "cust", Lines: []OrderLineInput{{ProductID: "p", Quantity: dec(1), UoMID: "kg"}}})
	require.ErrorIs(t, err, ErrIncompatibleUoM)
	_, err = f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "cust", DeliveryMode: "drone"})
	require.ErrorIs(t, err, ErrInvalidState)

	ol, err := f.e.AddOrderLine(f.ctx, second.Order.ID, olIn("q", 2))
	require.NoError(t, err)
	assert.Equal(t, 1, ol.Sequence)
}

func TestSetDeliveryMode(t *testing.T) {
	f := newFixture(t)
	v, err := f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "cust", Lines: []OrderLineInput{olIn("p", 5)}})
	require.NoError(t, err)

	order, err := f.e.SetDeliveryMode(f.ctx, v.Order.ID, model.ModeDispatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"cust"}, order.StakeholderIDs)
	hv, err := f.e.HeaderByOrder(f.ctx, v.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "cust", hv.Header.MandatorID)
	assert.Equal(t, "DSP00001", hv.Header.Reference)
	assert.Equal(t, model.DispatchDraft, hv.Header.State)

	// an untouched draft header is removed with the mode
	_, err = f.e.SetDeliveryMode(f.ctx, v.Order.ID, model.ModeStandard)
	require.NoError(t, err)
	_, err = f.e.HeaderByOrder(f.ctx, v.Order.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.e.SetDeliveryMode(f.ctx, v.Order.ID, model.ModeDispatch)
	require.NoError(t, err)
	hv, err = f.e.HeaderByOrder(f.ctx, v.Order.ID)
	require.NoError(t, err)
	_, err = f.e.LinkPartner(f.ctx, f.addr["a1"], "cust")
	require.NoError(t, err)
	f.line(hv.Header, v.Lines[0], 2, "cust", "a1", day)

	_, err = f.e.SetDeliveryMode(f.ctx, v.Order.ID, model.ModeStandard)
	require.ErrorIs(t, err, ErrDispatchInUse)
	assert.Equal(t, KindLifecycle, KindOf(err))

	_, err = f.e.ConfirmOrder(f.ctx, v.Order.ID)
	require.NoError(t, err)
	_, err = f.e.SetDeliveryMode(f.ctx, v.Order.ID, model.ModeStandard)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.e.AddOrderLine(f.ctx, v.Order.ID, olIn("q", 1))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConfirmStandardOrder(t *testing.T) {
	f := newFixture(t)
	v, err := f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "cust", Lines: []OrderLineInput{olIn("p", 5), olIn("svc", 1)}})
	require.NoError(t, err)
	ships, err := f.e.ConfirmOrder(f.ctx, v.Order.ID)
	require.NoError(t, err)
	require.Len(t, ships, 1)
	assert.Equal(t, "WH/OUT/00001", ships[0].Reference)
	require.Len(t, ships[0].Moves, 1)
	assert.Equal(t, "p", ships[0].Moves[0].ProductID)
	got, err := f.e.Order(f.ctx, v.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderSale, got.Order.State)
	_, err = f.e.HeaderByOrder(f.ctx, v.Order.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfirmDispatchOrder(t *testing.T) {
	f := newFixture(t)
	v, err := f.e.CreateOrder(f.ctx, OrderInput{CompanyID: "c1", CustomerID: "cust", DeliveryMode: model.ModeDispatch, StakeholderIDs: []string{"s1", "s2"}, Lines: []OrderLineInput{olIn("p", 5)}})
	require.NoError(t, err)

	// a shipment generated by the host before confirmation is dropped
	err = f.e.store.WithTx(f.ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := f.e.stock.CreateShipment(ctx, tx, stock.ShipmentRequest{
			CompanyID: "c1", OrderID: v.Order.ID, PartnerID: "cust",
			Moves: []model.Move{{ProductID: "p", Quantity: dec(5), UoMID: "each"}},
		})
		return err
	})
	require.NoError(t, err)

	ships, err := f.e.ConfirmOrder(f.ctx, v.Order.ID)
	require.NoError(t, err)
	assert.Empty(t, ships)
	left, err := f.e.ShipmentsOfOrder(f.ctx, v.Order.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	hv, err := f.e.HeaderByOrder(f.ctx, v.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, hv.Header.StakeholderIDs)
	assert.Equal(t, "cust", hv.Header.MandatorID)
	got, err := f.e.Order(f.ctx, v.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderSale, got.Order.State)

	_, err = f.e.CreateHeader(f.ctx, v.Order.ID)
	require.ErrorIs(t, err, ErrHeaderExists)
	_, err = f.e.ConfirmOrder(f.ctx, v.Order.ID)
	require.ErrorIs(t, err, stock.ErrInvalidTransition)
}

func TestUpdateRequestedQuantity(t *testing.T) {
	f := newFixture(t)
	v, h := f.order(olIn("p", 10))
	ol := v.Lines[0]

	got, err := f.e.UpdateRequestedQuantity(f.ctx, ol.ID, dec(12))
	require.NoError(t, err)
	assert.Equal(t, "12", got.Quantity.String())
	assert.Equal(t, "12", got.RemainingQuantity.String())
	_, err = f.e.UpdateRequestedQuantity(f.ctx, ol.ID, dec(0))
	require.ErrorIs(t, err, ErrInvalidQuantity)

	l := f.line(h, ol, 4, "s1", "a1", day)
	_, err = f.e.UpdateRequestedQuantity(f.ctx, ol.ID, dec(20))
	require.ErrorIs(t, err, ErrRequestedQuantityLocked)

	_, err = f.e.CancelLine(f.ctx, l.ID)
	require.NoError(t, err)
	got, err = f.e.UpdateRequestedQuantity(f.ctx, ol.ID, dec(20))
	require.NoError(t, err)
	assert.Equal(t, "20", got.RemainingQuantity.String())
}
