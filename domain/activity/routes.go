package activity

import (
	"github.com/labstack/echo/v4"

	"github.com/nexus-fundraising/nexus/pkg/auth"
)

// RegisterRoutes registers audit log routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/crm/activity")
	g.Use(authMiddleware.RequireAuth())

	g.GET("", h.List)
}
