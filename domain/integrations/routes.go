package integrations

import (
	"github.com/labstack/echo/v4"

	"github.com/nexus-fundraising/nexus/pkg/auth"
)

// RegisterRoutes registers integrations routes with Echo and auth middleware
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	crm := e.Group("/api/crm")
	crm.Use(authMiddleware.RequireAuth())

	crm.GET("/providers", h.ListProviders)

	crm.GET("/integrations", h.List)
	crm.POST("/integrations", h.Connect)
	crm.GET("/integrations/:id", h.Get)
	crm.PATCH("/integrations/:id", h.Update)
	crm.DELETE("/integrations/:id", h.Delete)
	crm.POST("/integrations/:id/test", h.TestConnection)
}
