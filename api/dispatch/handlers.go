package dispatch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	cdispatch "github.com/kilianp07/orderdispatch/core/dispatch"
	"github.com/kilianp07/orderdispatch/core/journal"
	"github.com/kilianp07/orderdispatch/core/model"
)

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

// reply writes v, or err when set.
func reply(c *gin.Context, status int, v any, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	if v == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(status, v)
}

func (h *Handler) SeedMasterData(c *gin.Context) {
	var md cdispatch.MasterData
	if !bind(c, &md) {
		return
	}
	reply(c, http.StatusNoContent, nil, h.engine.Seed(c.Request.Context(), md))
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var in cdispatch.OrderInput
	if !bind(c, &in) {
		return
	}
	v, err := h.engine.CreateOrder(c.Request.Context(), in)
	reply(c, http.StatusCreated, v, err)
}

func (h *Handler) GetOrder(c *gin.Context) {
	v, err := h.engine.Order(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, v, err)
}

func (h *Handler) AddOrderLine(c *gin.Context) {
	var in cdispatch.OrderLineInput
	if !bind(c, &in) {
		return
	}
	l, err := h.engine.AddOrderLine(c.Request.Context(), c.Param("id"), in)
	reply(c, http.StatusCreated, l, err)
}

type modeRequest struct {
	Mode model.DeliveryMode `json:"mode" binding:"required"`
}

func (h *Handler) SetDeliveryMode(c *gin.Context) {
	var req modeRequest
	if !bind(c, &req) {
		return
	}
	o, err := h.engine.SetDeliveryMode(c.Request.Context(), c.Param("id"), req.Mode)
	reply(c, http.StatusOK, o, err)
}

type confirmOrderResponse struct {
	Shipments []*model.Shipment `json:"shipments"`
}

func (h *Handler) ConfirmOrder(c *gin.Context) {
	shs, err := h.engine.ConfirmOrder(c.Request.Context(), c.Param("id"))
	if shs == nil {
		shs = []*model.Shipment{}
	}
	reply(c, http.StatusOK, confirmOrderResponse{Shipments: shs}, err)
}

func (h *Handler) GetOrderDispatch(c *gin.Context) {
	v, err := h.engine.HeaderByOrder(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, v, err)
}

func (h *Handler) CreateDispatch(c *gin.Context) {
	hd, err := h.engine.CreateHeader(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusCreated, hd, err)
}

func (h *Handler) GetOrderShipments(c *gin.Context) {
	shs, err := h.engine.ShipmentsOfOrder(c.Request.Context(), c.Param("id"))
	if shs == nil {
		shs = []*model.Shipment{}
	}
	reply(c, http.StatusOK, shs, err)
}

type quantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

func (h *Handler) UpdateRequestedQuantity(c *gin.Context) {
	var req quantityRequest
	if !bind(c, &req) {
		return
	}
	l, err := h.engine.UpdateRequestedQuantity(c.Request.Context(), c.Param("id"), req.Quantity)
	reply(c, http.StatusOK, l, err)
}

func (h *Handler) GetQuantities(c *gin.Context) {
	q, err := h.engine.Quantities(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, q, err)
}

func (h *Handler) GetDispatch(c *gin.Context) {
	v, err := h.engine.Header(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, v, err)
}

func (h *Handler) ConfirmDispatch(c *gin.Context) {
	res, err := h.engine.ConfirmHeader(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, res, err)
}

func (h *Handler) DoneDispatch(c *gin.Context) {
	hd, err := h.engine.DoneHeader(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, hd, err)
}

func (h *Handler) CancelDispatch(c *gin.Context) {
	hd, err := h.engine.CancelHeader(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, hd, err)
}

func (h *Handler) ResetDispatch(c *gin.Context) {
	hd, err := h.engine.ResetHeader(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, hd, err)
}

func (h *Handler) MaterializeDispatch(c *gin.Context) {
	res, err := h.engine.Materialize(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, res, err)
}

func (h *Handler) CreateLine(c *gin.Context) {
	var in cdispatch.LineInput
	if !bind(c, &in) {
		return
	}
	l, err := h.engine.CreateLine(c.Request.Context(), c.Param("id"), in)
	reply(c, http.StatusCreated, l, err)
}

func (h *Handler) GetLine(c *gin.Context) {
	l, err := h.engine.Line(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, l, err)
}

func (h *Handler) WriteLine(c *gin.Context) {
	var p cdispatch.LinePatch
	if !bind(c, &p) {
		return
	}
	l, err := h.engine.WriteLine(c.Request.Context(), c.Param("id"), p)
	reply(c, http.StatusOK, l, err)
}

func (h *Handler) DeleteLine(c *gin.Context) {
	reply(c, http.StatusNoContent, nil, h.engine.DeleteLine(c.Request.Context(), c.Param("id")))
}

func (h *Handler) ConfirmLine(c *gin.Context) {
	res, err := h.engine.ConfirmLine(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, res, err)
}

func (h *Handler) DoneLine(c *gin.Context) {
	l, err := h.engine.DoneLine(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, l, err)
}

func (h *Handler) CancelLine(c *gin.Context) {
	l, err := h.engine.CancelLine(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, l, err)
}

func (h *Handler) CreateAddress(c *gin.Context) {
	var in cdispatch.AddressInput
	if !bind(c, &in) {
		return
	}
	a, err := h.engine.CreateAddress(c.Request.Context(), in)
	reply(c, http.StatusCreated, a, err)
}

type partnerRequest struct {
	PartnerID string `json:"partner_id" binding:"required"`
}

func (h *Handler) LinkPartner(c *gin.Context) {
	var req partnerRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.engine.LinkPartner(c.Request.Context(), c.Param("id"), req.PartnerID)
	reply(c, http.StatusOK, a, err)
}

func (h *Handler) UnlinkPartner(c *gin.Context) {
	a, err := h.engine.UnlinkPartner(c.Request.Context(), c.Param("id"), c.Param("partner"))
	reply(c, http.StatusOK, a, err)
}

func (h *Handler) ArchiveAddress(c *gin.Context) {
	reply(c, http.StatusNoContent, nil, h.engine.ArchiveAddress(c.Request.Context(), c.Param("id")))
}

func (h *Handler) DeleteAddress(c *gin.Context) {
	reply(c, http.StatusNoContent, nil, h.engine.DeleteAddress(c.Request.Context(), c.Param("id")))
}

func (h *Handler) GetPartnerAddresses(c *gin.Context) {
	as, err := h.engine.AddressesOf(c.Request.Context(), c.Param("id"))
	if as == nil {
		as = []*model.Address{}
	}
	reply(c, http.StatusOK, as, err)
}

func (h *Handler) GetShipment(c *gin.Context) {
	sh, err := h.engine.Shipment(c.Request.Context(), c.Param("id"))
	reply(c, http.StatusOK, sh, err)
}

type stateRequest struct {
	State string `json:"state" binding:"required"`
}

// SetShipmentState is the webhook through which the host reports shipment
// progress.
func (h *Handler) SetShipmentState(c *gin.Context) {
	var req stateRequest
	if !bind(c, &req) {
		return
	}
	state, ok := model.ParseShipmentState(req.State)
	if !ok {
		fail(c, fmt.Errorf("%w: unknown shipment state %q", errBadRequest, req.State))
		return
	}
	sh, err := h.engine.ApplyShipmentState(c.Request.Context(), c.Param("id"), state)
	reply(c, http.StatusOK, sh, err)
}

func (h *Handler) GetLedger(c *gin.Context) {
	orderID := c.Query("order_id")
	if orderID == "" {
		fail(c, fmt.Errorf("%w: order_id is required", errBadRequest))
		return
	}
	entries, err := h.engine.Ledger(c.Request.Context(), orderID, c.Query("product_id"))
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	reply(c, http.StatusOK, entries, err)
}

// GetJournal returns journaled events filtered by the start, end, order_id,
// header_id and type query parameters. Times are RFC 3339.
func (h *Handler) GetJournal(c *gin.Context) {
	q := journal.Query{
		OrderID:  c.Query("order_id"),
		HeaderID: c.Query("header_id"),
		Type:     c.Query("type"),
	}
	for name, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
		s := c.Query(name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fail(c, fmt.Errorf("%w: %s: %v", errBadRequest, name, err))
			return
		}
		*dst = t
	}
	recs, err := h.journal.Query(c.Request.Context(), q)
	if recs == nil {
		recs = []journal.Record{}
	}
	reply(c, http.StatusOK, recs, err)
}
