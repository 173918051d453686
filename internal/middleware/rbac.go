package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

// RequireRoles admits callers whose token carries one of roles. It must run after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		if _, dup := allowed[r]; dup {
			continue
		}
		allowed[r] = struct{}{}
		names = append(names, string(r))
	}
	denied := appErrors.Clone(appErrors.ErrForbidden, "requires role "+strings.Join(names, " or "))

	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, denied)
			c.Abort()
			return
		}
		c.Next()
	}
}
