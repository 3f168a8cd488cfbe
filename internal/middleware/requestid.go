package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderXRequestID carries the request id on the wire, inbound and out.
	HeaderXRequestID = "X-Request-ID"
	// ContextRequestID is the gin context key the logger reads.
	ContextRequestID = "request_id"
)

// RequestID tags every request with an id for log correlation. An inbound
// X-Request-ID is kept and echoed back so ids stay stable across proxies;
// otherwise a fresh one is minted.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}

		c.Set(ContextRequestID, rid)
		c.Header(HeaderXRequestID, rid)
		c.Next()
	}
}
