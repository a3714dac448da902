package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/service"
	"github.com/sirupsen/logrus"
)

const viewerContextKey = "viewer"

// AuthMiddleware - аутентификация по токену сессии (Bearer) или сервисному ключу (X-API-Key)
func AuthMiddleware(resolver service.SessionResolver, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-API-Key")
		if token == "" {
			// Проверяем также заголовок Authorization: Bearer
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if token == "" {
			log.Warn("Access token missing from request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access token required"})
			return
		}

		viewer, err := resolver.ResolveToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) {
				log.Warn("Invalid or expired access token")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
				return
			}
			log.WithError(err).Error("Failed to resolve access token")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.Set(viewerContextKey, viewer)
		c.Next()
	}
}

// viewerFrom достаёт пользователя, положенного AuthMiddleware
func viewerFrom(c *gin.Context) models.Viewer {
	if v, ok := c.Get(viewerContextKey); ok {
		if viewer, ok := v.(models.Viewer); ok {
			return viewer
		}
	}
	return models.Viewer{}
}
