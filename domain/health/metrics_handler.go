package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nexus-fundraising/nexus/domain/crmsync"
	"github.com/nexus-fundraising/nexus/domain/scheduler"
	"github.com/nexus-fundraising/nexus/internal/jobs"
)

// QueueStats reports sync job queue counts.
type QueueStats interface {
	Stats(ctx context.Context) (*jobs.Stats, error)
}

// WorkerStats reports in-process worker counters.
type WorkerStats interface {
	Metrics() jobs.WorkerMetrics
}

// TaskStatus reports scheduled task state.
type TaskStatus interface {
	IsRunning() bool
	GetTaskInfo() []scheduler.TaskInfo
}

// MetricsHandler exposes sync queue and scheduler state as JSON
type MetricsHandler struct {
	queue     QueueStats
	worker    WorkerStats
	scheduler TaskStatus
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(queue *crmsync.JobQueue, worker *crmsync.SyncWorker, s *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{queue: queue, worker: worker, scheduler: s}
}

// SyncJobMetrics is the response of JobMetrics.
type SyncJobMetrics struct {
	Queue     jobs.Stats         `json:"queue"`
	Worker    jobs.WorkerMetrics `json:"worker"`
	Timestamp string             `json:"timestamp"`
}

// JobMetrics returns CRM sync job queue counts and worker counters
// @Summary      Sync job metrics
// @Tags         health
// @Produce      json
// @Success      200 {object} SyncJobMetrics
// @Router       /api/metrics/jobs [get]
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	stats, err := h.queue.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SyncJobMetrics{
		Queue:     *stats,
		Worker:    h.worker.Metrics(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SchedulerMetrics is the response of SchedulerMetrics.
type SchedulerMetrics struct {
	Running bool                 `json:"running"`
	Tasks   []scheduler.TaskInfo `json:"tasks"`
}

// SchedulerMetrics returns the registered tasks and their next run
// @Summary      Scheduler state
// @Tags         health
// @Produce      json
// @Success      200 {object} SchedulerMetrics
// @Router       /api/metrics/scheduler [get]
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, SchedulerMetrics{
		Running: h.scheduler.IsRunning(),
		Tasks:   h.scheduler.GetTaskInfo(),
	})
}
