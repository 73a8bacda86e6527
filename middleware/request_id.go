package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cppla/filededup/utils"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags each request with an id, reusing a client supplied one when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		c.Set(utils.RequestIDKey, rid)
		c.Header(requestIDHeader, rid)
		c.Next()
	}
}
