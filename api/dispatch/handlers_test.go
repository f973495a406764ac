package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdispatch "github.com/kilianp07/orderdispatch/core/dispatch"
	"github.com/kilianp07/orderdispatch/core/journal"
	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
	"github.com/kilianp07/orderdispatch/infra/store/memory"
)

const masterData = `{
  "uoms": [{"id": "each", "name": "Units", "category_id": "unit", "ratio": "1"}],
  "products": [{"id": "p", "name": "Apples", "type": "storable", "uom_id": "each"}],
  "partners": [
    {"id": "cust", "name": "Customer", "company_id": "c1", "active": true},
    {"id": "s1", "name": "School 1", "company_id": "c1", "active": true}
  ],
  "picking_types": [{"id": "out1", "company_id": "c1", "code": "outgoing", "sequence_prefix": "WH/OUT"}]
}`

type recordStore struct {
	journal.NopStore
	q journal.Query
}

func (r *recordStore) Query(_ context.Context, q journal.Query) ([]journal.Record, error) {
	r.q = q
	return []journal.Record{{Type: "header", OrderID: q.OrderID}}, nil
}

type server struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func newServer(t *testing.T, cfg Config, js journal.Store) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e, err := cdispatch.NewEngine(store.New(memory.New(), 0), stock.NewEngine(), cdispatch.Config{}, nil, nil, nil)
	require.NoError(t, err)
	s := &server{t: t, router: NewRouter(NewHandler(e, js, nil), cfg)}
	if cfg.JWTSecret != "" {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "erp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		s.token, err = tok.SignedString([]byte(cfg.JWTSecret))
		require.NoError(t, err)
	}
	return s
}

func (s *server) do(method, path string, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		r.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func (s *server) json(method, path, body string, want int, out any) {
	s.t.Helper()
	w := s.do(method, path, body)
	require.Equal(s.t, want, w.Code, "%s %s: %s", method, path, w.Body.String())
	if out != nil {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), out))
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// dispatchOrder seeds master data and returns a confirmed dispatch order of
// 10 apples with one registered address of s1.
func (s *server) dispatchOrder() (cdispatch.OrderView, cdispatch.HeaderView, model.Address) {
	s.json(http.MethodPut, "/api/master-data", masterData, http.StatusNoContent, nil)

	var addr model.Address
	s.json(http.MethodPost, "/api/addresses", `{"name":"Main","postal_code":"75001","city":"Paris","country":"FR","partner_ids":["s1"]}`, http.StatusCreated, &addr)

	var ov cdispatch.OrderView
	s.json(http.MethodPost, "/api/orders", `{"company_id":"c1","customer_id":"cust","delivery_mode":"dispatch","stakeholder_ids":["s1"],"lines":[{"product_id":"p","quantity":"10","unit_price":"2"}]}`, http.StatusCreated, &ov)
	s.json(http.MethodPost, "/api/orders/"+ov.Order.ID+"/confirm", "", http.StatusOK, nil)

	var hv cdispatch.HeaderView
	s.json(http.MethodGet, "/api/orders/"+ov.Order.ID+"/dispatch", "", http.StatusOK, &hv)
	return ov, hv, addr
}

func TestLive(t *testing.T) {
	s := newServer(t, Config{JWTSecret: "secret"}, nil)
	s.token = ""
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/live", "").Code)
}

func TestDispatchLifecycle(t *testing.T) {
	s := newServer(t, Config{}, nil)
	ov, hv, addr := s.dispatchOrder()
	assert.Equal(t, model.DispatchDraft, hv.Header.State)

	line := mustJSON(t, map[string]string{
		"order_line_id":  ov.Lines[0].ID,
		"quantity":       "6",
		"stakeholder_id": "s1",
		"address_id":     addr.ID,
	})
	var l model.DispatchLine
	s.json(http.MethodPost, "/api/dispatches/"+hv.Header.ID+"/lines", line, http.StatusCreated, &l)
	assert.Equal(t, "6", l.Quantity.String())

	var q cdispatch.Quantities
	s.json(http.MethodGet, "/api/order-lines/"+ov.Lines[0].ID+"/quantities", "", http.StatusOK, &q)
	assert.Equal(t, "4", q.Remaining.String())

	var res cdispatch.MaterializeResult
	s.json(http.MethodPost, "/api/dispatches/"+hv.Header.ID+"/confirm", "", http.StatusOK, &res)
	require.Len(t, res.Shipments, 1)
	assert.Empty(t, res.Failures)
	shID := res.Shipments[0].ID

	var sh model.Shipment
	s.json(http.MethodPost, "/api/shipments/"+shID+"/state", `{"state":"assigned"}`, http.StatusOK, &sh)
	assert.Equal(t, model.ShipmentAssigned, sh.State)
	s.json(http.MethodPost, "/api/shipments/"+shID+"/state", `{"state":"done"}`, http.StatusOK, &sh)

	s.json(http.MethodGet, "/api/dispatches/"+hv.Header.ID, "", http.StatusOK, &hv)
	assert.Equal(t, model.DispatchDone, hv.Header.State)
	assert.Equal(t, model.DispatchDone, hv.Lines[0].State)

	var shs []model.Shipment
	s.json(http.MethodGet, "/api/orders/"+ov.Order.ID+"/shipments", "", http.StatusOK, &shs)
	assert.Len(t, shs, 1)

	var entries []model.LedgerEntry
	s.json(http.MethodGet, "/api/ledger?order_id="+ov.Order.ID, "", http.StatusOK, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "6", entries[0].Debit.String())
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t, Config{}, nil)
	ov, hv, addr := s.dispatchOrder()
	body := func(qty string) string {
		return `{"order_line_id":"` + ov.Lines[0].ID + `","quantity":"` + qty + `","stakeholder_id":"s1","address_id":"` + addr.ID + `"}`
	}

	var er ErrorResponse
	s.json(http.MethodPost, "/api/dispatches/"+hv.Header.ID+"/lines", body("11"), http.StatusConflict, &er)
	assert.Equal(t, "quantity", er.Kind)
	require.NotNil(t, er.Details)
	assert.Equal(t, "10", er.Details.Available.String())

	s.json(http.MethodPost, "/api/dispatches/"+hv.Header.ID+"/lines", body("-1"), http.StatusUnprocessableEntity, &er)
	assert.Equal(t, "validation", er.Kind)

	s.json(http.MethodGet, "/api/dispatches/missing", "", http.StatusNotFound, &er)
	assert.Equal(t, "not_found", er.Kind)

	s.json(http.MethodPost, "/api/dispatches/"+hv.Header.ID+"/done", "", http.StatusUnprocessableEntity, &er)

	s.json(http.MethodPost, "/api/addresses", `{"name":`, http.StatusBadRequest, &er)
	assert.Equal(t, "request", er.Kind)

	s.json(http.MethodPost, "/api/shipments/x/state", `{"state":"flying"}`, http.StatusBadRequest, &er)
	s.json(http.MethodGet, "/api/ledger", "", http.StatusBadRequest, &er)

	var l model.DispatchLine
	s.json(http.MethodPost, "/api/dispatches/"+hv.Header.ID+"/lines", body("4"), http.StatusCreated, &l)
	s.json(http.MethodDelete, "/api/addresses/"+addr.ID, "", http.StatusConflict, &er)
	assert.Equal(t, "lifecycle", er.Kind)
	s.json(http.MethodPatch, "/api/dispatch-lines/"+l.ID, `{"quantity":"5"}`, http.StatusOK, &l)
	assert.Equal(t, "5", l.Quantity.String())
	s.json(http.MethodDelete, "/api/dispatch-lines/"+l.ID, "", http.StatusNoContent, nil)
	s.json(http.MethodGet, "/api/dispatch-lines/"+l.ID, "", http.StatusNotFound, &er)
}

func TestModeAndAddressRoutes(t *testing.T) {
	s := newServer(t, Config{}, nil)
	s.json(http.MethodPut, "/api/master-data", masterData, http.StatusNoContent, nil)

	var ov cdispatch.OrderView
	s.json(http.MethodPost, "/api/orders", `{"company_id":"c1","customer_id":"cust","lines":[]}`, http.StatusCreated, &ov)
	var o model.Order
	s.json(http.MethodPut, "/api/orders/"+ov.Order.ID+"/mode", `{"mode":"dispatch"}`, http.StatusOK, &o)
	assert.Equal(t, model.ModeDispatch, o.DeliveryMode)
	var ol model.OrderLine
	s.json(http.MethodPost, "/api/orders/"+ov.Order.ID+"/lines", `{"product_id":"p","quantity":"3","unit_price":"1"}`, http.StatusCreated, &ol)
	s.json(http.MethodPut, "/api/order-lines/"+ol.ID+"/quantity", `{"quantity":"4"}`, http.StatusOK, &ol)
	assert.Equal(t, "4", ol.Quantity.String())

	var a model.Address
	s.json(http.MethodPost, "/api/addresses", `{"name":"Gym","postal_code":"75002","city":"Paris","country":"FR","partner_ids":["s1"]}`, http.StatusCreated, &a)
	s.json(http.MethodPost, "/api/addresses/"+a.ID+"/partners", `{"partner_id":"cust"}`, http.StatusOK, &a)
	assert.ElementsMatch(t, []string{"s1", "cust"}, a.PartnerIDs)
	s.json(http.MethodDelete, "/api/addresses/"+a.ID+"/partners/cust", "", http.StatusOK, &a)
	assert.Equal(t, []string{"s1"}, a.PartnerIDs)

	var as []model.Address
	s.json(http.MethodGet, "/api/partners/s1/addresses", "", http.StatusOK, &as)
	assert.Len(t, as, 1)
	s.json(http.MethodPost, "/api/addresses/"+a.ID+"/archive", "", http.StatusNoContent, nil)
	s.json(http.MethodDelete, "/api/addresses/"+a.ID, "", http.StatusNoContent, nil)
}

func TestAuthMiddleware(t *testing.T) {
	s := newServer(t, Config{JWTSecret: "secret"}, nil)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/orders/missing", "").Code)

	good := s.token
	s.token = "garbage"
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/orders/missing", "").Code)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "erp"})
	s.token, _ = other.SignedString([]byte("other"))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/orders/missing", "").Code)

	s.token = ""
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/orders/missing", "").Code)

	r := httptest.NewRequest(http.MethodGet, "/api/orders/missing", nil)
	r.Header.Set("Authorization", "Token "+good)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJournalQuery(t *testing.T) {
	js := &recordStore{}
	s := newServer(t, Config{}, js)
	var recs []journal.Record
	s.json(http.MethodGet, "/api/journal?order_id=o1&type=header&start=2025-01-10T00:00:00Z", "", http.StatusOK, &recs)
	require.Len(t, recs, 1)
	assert.Equal(t, "o1", js.q.OrderID)
	assert.Equal(t, "header", js.q.Type)
	assert.Equal(t, 2025, js.q.Start.Year())

	var er ErrorResponse
	s.json(http.MethodGet, "/api/journal?end=yesterday", "", http.StatusBadRequest, &er)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusOf(cdispatch.ErrShipmentsCompleted))
	assert.Equal(t, http.StatusConflict, StatusOf(store.ErrConflict))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(cdispatch.ErrFrozenLine))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(assert.AnError))
}
