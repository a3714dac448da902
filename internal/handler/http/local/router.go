package local

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует маршруты /api/local
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/status", h.status)

	sess := api.Group("/session")
	{
		sess.POST("/login", h.login)
		sess.POST("/logout", h.logout)
	}

	reports := api.Group("/reports")
	{
		reports.POST("", h.createReport)
		reports.GET("", h.listReports)
		reports.GET("/:id", h.getReport)
		reports.POST("/:id/retry", h.retryReport)
	}

	sync := api.Group("/sync")
	{
		sync.POST("", h.syncNow)
		sync.GET("/pending", h.pendingCount)
	}

	incidents := api.Group("/incidents")
	{
		incidents.GET("", h.listIncidents)
		incidents.PATCH("/:id/status", h.updateIncidentStatus)
		incidents.POST("/:id/read", h.markIncidentRead)
	}
}
