package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/internal/version"
	"github.com/nexus-fundraising/nexus/pkg/syshealth"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles health check requests
type Handler struct {
	db      Pinger
	pool    *pgxpool.Pool
	system  syshealth.Monitor
	cfg     *config.Config
	startAt time.Time
}

// NewHandler creates a new health handler
func NewHandler(pool *pgxpool.Pool, system syshealth.Monitor, cfg *config.Config) *Handler {
	return &Handler{
		db:      pool,
		pool:    pool,
		system:  system,
		cfg:     cfg,
		startAt: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string             `json:"status"`
	Timestamp string             `json:"timestamp"`
	Uptime    string             `json:"uptime"`
	Version   version.Info       `json:"version"`
	Checks    map[string]Check   `json:"checks"`
	System    *syshealth.Metrics `json:"system,omitempty"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health returns the overall service health
// @Summary      Get service health
// @Description  Returns database connectivity, uptime and build information
// @Tags         health
// @Produce      json
// @Success      200 {object} HealthResponse "Service is healthy"
// @Success      503 {object} HealthResponse "Service is unhealthy"
// @Router       /health [get]
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	db := Check{Status: statusHealthy}
	if err := h.db.Ping(ctx); err != nil {
		db = Check{Status: statusUnhealthy, Message: err.Error()}
	}

	response := HealthResponse{
		Status:    db.Status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).Round(time.Second).String(),
		Version:   version.Get(),
		Checks:    map[string]Check{"database": db},
	}
	// System pressure is reported but never fails the check.
	if h.system != nil {
		m := h.system.Health()
		response.System = &m
	}

	statusCode := http.StatusOK
	if response.Status == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, response)
}

// Healthz returns a simple health check (for k8s liveness probe)
// @Summary      Liveness probe
// @Tags         health
// @Produce      plain
// @Success      200 {string} string "OK"
// @Router       /healthz [get]
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready returns readiness status (for k8s readiness probe)
// @Summary      Readiness probe
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]any "Service is ready"
// @Success      503 {object} map[string]any "Service is not ready"
// @Router       /ready [get]
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "Database connection failed",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ready"})
}

// Debug returns runtime and connection pool details outside production
// @Summary      Get debug information
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]any "Debug information"
// @Failure      404 {object} map[string]any "Not found in production"
// @Router       /debug [get]
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.Environment == "production" {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out := map[string]any{
		"environment": h.cfg.Environment,
		"debug":       h.cfg.Debug,
		"build":       version.Get(),
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc_mb": mem.Alloc / 1024 / 1024,
			"sys_mb":   mem.Sys / 1024 / 1024,
			"num_gc":   mem.NumGC,
		},
	}
	if h.pool != nil {
		stat := h.pool.Stat()
		out["database"] = map[string]any{
			"host":              h.cfg.Database.Host,
			"database":          h.cfg.Database.Database,
			"pool_total":        stat.TotalConns(),
			"pool_idle":         stat.IdleConns(),
			"pool_in_use":       stat.AcquiredConns(),
			"pool_max":          stat.MaxConns(),
			"canceled_acquires": stat.CanceledAcquireCount(),
		}
	}
	return c.JSON(http.StatusOK, out)
}
