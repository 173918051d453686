package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/middleware"
)

// actorID returns the caller's user id, or an empty string for anonymous requests.
func actorID(c *gin.Context) string {
	if claims := middleware.Claims(c); claims != nil {
		return claims.UserID
	}
	return ""
}
