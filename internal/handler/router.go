package handler

import (
	"github.com/gin-gonic/gin"

	internalmiddleware "github.com/noah-isme/sma-timetable/internal/middleware"
	"github.com/noah-isme/sma-timetable/internal/models"
)

// Routes groups the API handlers mounted under the API prefix.
type Routes struct {
	Timetables *TimetableHandler
	Datasets   *DatasetHandler
	Downloads  *DownloadHandler
	Auth       *AuthHandler
}

// RegisterRoutes mounts the API on group. auth authenticates the caller; download links and login
// stay outside it.
func RegisterRoutes(group *gin.RouterGroup, auth gin.HandlerFunc, h Routes) {
	if h.Downloads != nil {
		group.GET("/export/:token", h.Downloads.Download)
	}
	if h.Auth != nil {
		group.POST("/auth/login", h.Auth.Login)
	}

	secured := group.Group("")
	secured.Use(auth)

	anyRole := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleScheduler, models.RoleViewer)
	planners := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleScheduler)
	admins := internalmiddleware.RequireRoles(models.RoleAdmin)

	if h.Auth != nil {
		secured.POST("/auth/register", admins, h.Auth.Register)
	}

	if h.Timetables != nil {
		timetables := secured.Group("/timetables")
		timetables.POST("/generate", planners, h.Timetables.Generate)
		timetables.POST("/runs", planners, h.Timetables.CreateRun)
		timetables.GET("/runs", anyRole, h.Timetables.ListRuns)
		timetables.GET("/runs/:id", anyRole, h.Timetables.GetRun)
		timetables.DELETE("/runs/:id", admins, h.Timetables.DeleteRun)
		timetables.GET("/runs/:id/views/:view", anyRole, h.Timetables.ViewKeys)
		timetables.GET("/runs/:id/views/:view/:key", anyRole, h.Timetables.View)
		timetables.POST("/runs/:id/exports", anyRole, h.Timetables.Export)
		timetables.DELETE("/cache", admins, h.Timetables.PurgeCache)
	}

	if h.Datasets != nil {
		datasets := secured.Group("/datasets")
		datasets.POST("", planners, h.Datasets.Create)
		datasets.GET("", anyRole, h.Datasets.List)
		datasets.GET("/:id", anyRole, h.Datasets.Get)
		datasets.DELETE("/:id", admins, h.Datasets.Delete)
	}
}
