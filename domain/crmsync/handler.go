package crmsync

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nexus-fundraising/nexus/pkg/apperror"
)

// JobStore is the part of the job queue the handler uses.
type JobStore interface {
	Submit(ctx context.Context, req Request, trigger string) (*SyncJob, bool, error)
	Get(ctx context.Context, id string) (*SyncJob, error)
}

var _ JobStore = (*JobQueue)(nil)

// Handler handles HTTP requests for sync runs
type Handler struct {
	runner Runner
	jobs   JobStore
}

// NewHandler creates a new sync handler
func NewHandler(runner Runner, jobs JobStore) *Handler {
	return &Handler{runner: runner, jobs: jobs}
}

// Sync runs a sync and waits for its result
// @Summary      Run CRM sync
// @Description  Runs a sync for one integration and returns the per-entity statistics. A run that stopped on invalid credentials returns 401 reconnect_required with the partial result in error.details.result.
// @Tags         crm
// @Accept       json
// @Produce      json
// @Param        request body SyncRequestDTO true "Sync request"
// @Success      200 {object} SyncResult "Run result"
// @Failure      400 {object} apperror.Error "Invalid request or ambiguous provider"
// @Failure      401 {object} apperror.Error "Reconnect required"
// @Failure      404 {object} apperror.Error "Integration not found"
// @Failure      409 {object} apperror.Error "Sync already in progress"
// @Router       /api/crm/sync [post]
// @Security     apiKey
func (h *Handler) Sync(c echo.Context) error {
	req, err := bindRequest(c)
	if err != nil {
		return err
	}

	result, err := h.runner.Run(c.Request().Context(), req)
	if errors.Is(err, ErrReconnectRequired) && result != nil {
		return ErrReconnectRequired.WithDetails(map[string]any{"result": result})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// EnqueueJob queues a sync to run in the background
// @Summary      Queue CRM sync
// @Description  Queues a sync job. When a job for the same integration is already pending or running, that job is returned with 200 instead of 202.
// @Tags         crm
// @Accept       json
// @Produce      json
// @Param        request body SyncRequestDTO true "Sync request"
// @Success      202 {object} SyncJobDTO "Queued job"
// @Success      200 {object} SyncJobDTO "Existing active job"
// @Failure      400 {object} apperror.Error "Invalid request"
// @Failure      404 {object} apperror.Error "Integration not found"
// @Router       /api/crm/sync/jobs [post]
// @Security     apiKey
func (h *Handler) EnqueueJob(c echo.Context) error {
	req, err := bindRequest(c)
	if err != nil {
		return err
	}

	job, created, err := h.jobs.Submit(c.Request().Context(), req, TriggerManual)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	return c.JSON(status, job.ToDTO())
}

// GetJob returns a sync job and, once finished, its result
// @Summary      Get CRM sync job
// @Tags         crm
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} SyncJobDTO "Job"
// @Failure      404 {object} apperror.Error "Job not found"
// @Router       /api/crm/sync/jobs/{id} [get]
// @Security     apiKey
func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job.ToDTO())
}

func bindRequest(c echo.Context) (Request, error) {
	var dto SyncRequestDTO
	if err := c.Bind(&dto); err != nil {
		return Request{}, apperror.NewBadRequest("invalid request body")
	}
	return dto.ToRequest()
}
