package requestid

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// Header carries the request id in both directions.
	Header    = "X-Request-ID"
	ginKey    = "request_id"
	maxLength = 128
)

type ctxKey struct{}

// Middleware keeps a sane client supplied X-Request-ID or mints one, echoes it on the response and
// stores it in both the gin and the request context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if !acceptable(id) {
			id = uuid.NewString()
		}
		c.Set(ginKey, id)
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), id))
		c.Header(Header, id)
		c.Next()
	}
}

// Value returns the request id stored on the gin context.
func Value(c *gin.Context) string {
	return c.GetString(ginKey)
}

// NewContext returns ctx carrying id. Queued work uses it to keep the id of the request that
// scheduled it.
func NewContext(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request id carried by ctx.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// acceptable rejects empty, oversized or non-printable ids.
func acceptable(id string) bool {
	if id == "" || len(id) > maxLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
