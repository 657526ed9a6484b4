package activity

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nexus-fundraising/nexus/pkg/apperror"
)

// Handler handles HTTP requests for the audit log
type Handler struct {
	svc *Service
}

// NewHandler creates a new audit handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /api/crm/activity
// @Summary      List sync audit rows
// @Tags         crm
// @Produce      json
// @Param        organizationId query string true "Organization ID (UUID)"
// @Param        resourceId query string false "Integration ID"
// @Param        limit query int false "Max results (default 50)" minimum(1) maximum(200) default(50)
// @Success      200 {object} ListResponse
// @Failure      400 {object} apperror.Error "Bad request"
// @Router       /api/crm/activity [get]
// @Security     apiKey
func (h *Handler) List(c echo.Context) error {
	orgID := c.QueryParam("organizationId")
	if orgID == "" {
		return apperror.ErrBadRequest.WithMessage("organizationId query param is required")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperror.ErrBadRequest.WithMessage("limit must be a positive integer")
		}
		limit = n
	}

	resp, err := h.svc.List(c.Request().Context(), orgID, c.QueryParam("resourceId"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
