package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodySize is the default request body limit.
const MaxBodySize = 64 * 1024

// BodyLimit rejects request bodies larger than maxBytes with 413. Bodies
// without a declared length are cut off while being read.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
