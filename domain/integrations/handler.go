package integrations

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nexus-fundraising/nexus/pkg/apperror"
)

// Handler handles HTTP requests for CRM integrations
type Handler struct {
	svc     *Service
	catalog *Catalog
}

// NewHandler creates a new integrations handler
func NewHandler(svc *Service, catalog *Catalog) *Handler {
	return &Handler{svc: svc, catalog: catalog}
}

// ListProviders returns the CRMs that can be connected
// @Summary      List CRM providers
// @Tags         crm
// @Produce      json
// @Success      200 {array} ProviderDTO "Supported providers"
// @Router       /api/crm/providers [get]
// @Security     apiKey
func (h *Handler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, h.catalog.List())
}

// List returns an organization's integrations
// @Summary      List CRM integrations
// @Tags         crm
// @Produce      json
// @Param        organizationId query string true "Organization ID (UUID)"
// @Success      200 {array} IntegrationDTO "Configured integrations"
// @Failure      400 {object} apperror.Error "Missing organization ID"
// @Router       /api/crm/integrations [get]
// @Security     apiKey
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.List(ctx, c.QueryParam("organizationId"))
	if err != nil {
		return err
	}

	dtos := make([]IntegrationDTO, len(items))
	for i, item := range items {
		dtos[i] = h.svc.ToDTO(ctx, item)
	}
	return c.JSON(http.StatusOK, dtos)
}

// Get returns one integration
// @Summary      Get CRM integration
// @Tags         crm
// @Produce      json
// @Param        id path string true "Integration ID"
// @Success      200 {object} IntegrationDTO
// @Failure      404 {object} apperror.Error "Integration not found"
// @Router       /api/crm/integrations/{id} [get]
// @Security     apiKey
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	integration, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.ToDTO(ctx, integration))
}

// Connect creates an integration
// @Summary      Connect a CRM
// @Description  Stores encrypted credentials for a provider. The integration starts paused.
// @Tags         crm
// @Accept       json
// @Produce      json
// @Param        request body ConnectIntegrationDTO true "Connection data"
// @Success      201 {object} IntegrationDTO "Created integration"
// @Failure      400 {object} apperror.Error "Invalid request or unsupported provider"
// @Failure      409 {object} apperror.Error "Integration already exists"
// @Router       /api/crm/integrations [post]
// @Security     apiKey
func (h *Handler) Connect(c echo.Context) error {
	var dto ConnectIntegrationDTO
	if err := c.Bind(&dto); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	ctx := c.Request().Context()
	integration, err := h.svc.Connect(ctx, dto)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, h.svc.ToDTO(ctx, integration))
}

// Update changes an integration
// @Summary      Update CRM integration
// @Tags         crm
// @Accept       json
// @Produce      json
// @Param        id path string true "Integration ID"
// @Param        request body UpdateIntegrationDTO true "Update data"
// @Success      200 {object} IntegrationDTO "Updated integration"
// @Failure      400 {object} apperror.Error "Invalid request"
// @Failure      404 {object} apperror.Error "Integration not found"
// @Router       /api/crm/integrations/{id} [patch]
// @Security     apiKey
func (h *Handler) Update(c echo.Context) error {
	var dto UpdateIntegrationDTO
	if err := c.Bind(&dto); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	ctx := c.Request().Context()
	integration, err := h.svc.Update(ctx, c.Param("id"), dto)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.ToDTO(ctx, integration))
}

// Delete removes an integration
// @Summary      Delete CRM integration
// @Tags         crm
// @Param        id path string true "Integration ID"
// @Success      204 "Integration deleted"
// @Failure      404 {object} apperror.Error "Integration not found"
// @Router       /api/crm/integrations/{id} [delete]
// @Security     apiKey
func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// TestConnection checks that the stored credentials work
// @Summary      Test CRM connection
// @Tags         crm
// @Produce      json
// @Param        id path string true "Integration ID"
// @Success      200 {object} TestConnectionResponseDTO "Connection test result"
// @Failure      404 {object} apperror.Error "Integration not found"
// @Router       /api/crm/integrations/{id}/test [post]
// @Security     apiKey
func (h *Handler) TestConnection(c echo.Context) error {
	resp, err := h.svc.TestConnection(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
