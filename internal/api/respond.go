package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/dockyard/internal/fault"
)

// statusFor maps an error kind to an HTTP status.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindConflict:
		return http.StatusConflict
	case fault.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ok writes {"ok": true, ...fields}.
func ok(c *gin.Context, fields gin.H) {
	body := gin.H{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// fail writes {"ok": false, "error": ..., "kind": ..., ...extra} with the
// status for err's kind.
func fail(c *gin.Context, err error, extra gin.H) {
	kind := fault.KindOf(err)
	body := gin.H{"ok": false, "error": err.Error(), "kind": kind.String()}
	if kind == fault.KindUnavailable {
		body["retryable"] = true
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(statusFor(kind), body)
}

// bind decodes the JSON body; decode failures are validation faults.
func bind(c *gin.Context, op string, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, fault.Validation(op, "malformed request body: %v", err), nil)
		return false
	}
	return true
}
