// Package dispatch exposes the dispatch engine over HTTP.
package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"

	cdispatch "github.com/kilianp07/orderdispatch/core/dispatch"
	"github.com/kilianp07/orderdispatch/core/journal"
	"github.com/kilianp07/orderdispatch/core/logger"
)

// Config defines the HTTP API settings.
type Config struct {
	Address string `json:"address"`
	// JWTSecret signs bearer tokens; empty disables authentication.
	JWTSecret string `json:"jwt_secret"`
}

// SetDefaults applies default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
}

// Handler serves the dispatch API.
type Handler struct {
	engine  *cdispatch.Engine
	journal journal.Store
	log     logger.Logger
}

// NewHandler creates a handler. store and log may be nil.
func NewHandler(engine *cdispatch.Engine, store journal.Store, log logger.Logger) *Handler {
	if store == nil {
		store = journal.NopStore{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handler{engine: engine, journal: store, log: log}
}

// NewRouter builds the gin engine with every route of the API.
func NewRouter(h *Handler, cfg Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(h.log))

	router.GET("/live", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := router.Group("/api")
	api.Use(AuthMiddleware(cfg.JWTSecret))
	{
		api.PUT("/master-data", h.SeedMasterData)

		api.POST("/orders", h.CreateOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders/:id/lines", h.AddOrderLine)
		api.PUT("/orders/:id/mode", h.SetDeliveryMode)
		api.POST("/orders/:id/confirm", h.ConfirmOrder)
		api.GET("/orders/:id/dispatch", h.GetOrderDispatch)
		api.POST("/orders/:id/dispatch", h.CreateDispatch)
		api.GET("/orders/:id/shipments", h.GetOrderShipments)
		api.PUT("/order-lines/:id/quantity", h.UpdateRequestedQuantity)
		api.GET("/order-lines/:id/quantities", h.GetQuantities)

		api.GET("/dispatches/:id", h.GetDispatch)
		api.POST("/dispatches/:id/confirm", h.ConfirmDispatch)
		api.POST("/dispatches/:id/done", h.DoneDispatch)
		api.POST("/dispatches/:id/cancel", h.CancelDispatch)
		api.POST("/dispatches/:id/reset", h.ResetDispatch)
		api.POST("/dispatches/:id/materialize", h.MaterializeDispatch)
		api.POST("/dispatches/:id/lines", h.CreateLine)

		api.GET("/dispatch-lines/:id", h.GetLine)
		api.PATCH("/dispatch-lines/:id", h.WriteLine)
		api.DELETE("/dispatch-lines/:id", h.DeleteLine)
		api.POST("/dispatch-lines/:id/confirm", h.ConfirmLine)
		api.POST("/dispatch-lines/:id/done", h.DoneLine)
		api.POST("/dispatch-lines/:id/cancel", h.CancelLine)

		api.POST("/addresses", h.CreateAddress)
		api.POST("/addresses/:id/partners", h.LinkPartner)
		api.DELETE("/addresses/:id/partners/:partner", h.UnlinkPartner)
		api.POST("/addresses/:id/archive", h.ArchiveAddress)
		api.DELETE("/addresses/:id", h.DeleteAddress)
		api.GET("/partners/:id/addresses", h.GetPartnerAddresses)

		api.GET("/shipments/:id", h.GetShipment)
		api.POST("/shipments/:id/state", h.SetShipmentState)

		api.GET("/ledger", h.GetLedger)
		api.GET("/journal", h.GetJournal)
	}
	return router
}
