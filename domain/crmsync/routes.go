package crmsync

import (
	"github.com/labstack/echo/v4"

	"github.com/nexus-fundraising/nexus/pkg/auth"
)

// RegisterRoutes registers sync routes with Echo and auth middleware
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	sync := e.Group("/api/crm/sync")
	sync.Use(authMiddleware.RequireAuth())

	sync.POST("", h.Sync)
	sync.POST("/jobs", h.EnqueueJob)
	sync.GET("/jobs/:id", h.GetJob)
}
