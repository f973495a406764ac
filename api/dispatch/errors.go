package dispatch

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	cdispatch "github.com/kilianp07/orderdispatch/core/dispatch"
	coremon "github.com/kilianp07/orderdispatch/core/monitoring"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	// Details carries the quantities of an over-allocation.
	Details *cdispatch.OverAllocationError `json:"details,omitempty"`
}

var errBadRequest = errors.New("bad request")

// StatusOf maps an engine error to an HTTP status.
func StatusOf(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	switch cdispatch.KindOf(err) {
	case cdispatch.KindValidation:
		return http.StatusUnprocessableEntity
	case cdispatch.KindQuantity, cdispatch.KindLifecycle, cdispatch.KindConflict:
		return http.StatusConflict
	case cdispatch.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. System errors are reported to the monitor.
func fail(c *gin.Context, err error) {
	status := StatusOf(err)
	kind := cdispatch.KindOf(err).String()
	if status == http.StatusBadRequest {
		kind = "request"
	}
	if status == http.StatusInternalServerError {
		coremon.CaptureException(err, map[string]string{"module": "api", "route": c.FullPath()})
		_ = c.Error(err)
	}
	resp := ErrorResponse{Error: err.Error(), Kind: kind}
	var oa *cdispatch.OverAllocationError
	if errors.As(err, &oa) {
		resp.Details = oa
	}
	c.AbortWithStatusJSON(status, resp)
}
