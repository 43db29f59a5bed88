package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/dockyard/internal/metrics"
)

// HeaderRequestID carries the per-request id.
const HeaderRequestID = "X-Request-ID"

const ctxRequestID = "request_id"

// requestID reuses a caller-supplied X-Request-ID or assigns a new uuid.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// observe records request metrics and a debug access log line. Routes are
// labelled by their pattern so robot ids do not blow up cardinality.
func observe(m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		m.HTTPRequest(c.Request.Method, route, status, elapsed.Seconds())

		ev := log.Debug()
		if status >= 500 {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("request_id", c.GetString(ctxRequestID)).
			Msg("http request")
	}
}
