package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	// Маршрут Health-check, без аутентификации (по нему агент проверяет связь)
	api.GET("/system/health", h.healthCheck)

	authorized := api.Group("", AuthMiddleware(h.sessions, h.logger))
	authorized.GET("/me", h.me)

	incidents := authorized.Group("/incidents")
	{
		incidents.POST("", h.createIncident)
		incidents.GET("", h.listIncidents)
		incidents.GET("/stream", h.streamIncidents)
		incidents.GET("/:id", h.getIncident)
		incidents.PATCH("/:id/status", h.updateIncidentStatus)
		incidents.POST("/:id/read", h.markIncidentRead)
	}
}
