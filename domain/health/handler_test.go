package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fundraising/nexus/domain/scheduler"
	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/internal/jobs"
	"github.com/nexus-fundraising/nexus/pkg/syshealth"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestHandler(pingErr error, env string) *Handler {
	return &Handler{
		db:      fakePinger{err: pingErr},
		cfg:     &config.Config{Environment: env},
		startAt: time.Now(),
	}
}

func serve(t *testing.T, h echo.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	err := h(e.NewContext(req, rec))
	if err != nil {
		e.HTTPErrorHandler(err, e.NewContext(req, rec))
	}
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, newTestHandler(nil, "local").Health, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusHealthy, body.Status)
	assert.Equal(t, statusHealthy, body.Checks["database"].Status)
	assert.NotEmpty(t, body.Version.Version)
}

type fakeSystem struct{ m syshealth.Metrics }

func (f fakeSystem) Start(context.Context) error { return nil }
func (f fakeSystem) Stop(context.Context) error  { return nil }
func (f fakeSystem) Health() syshealth.Metrics   { return f.m }

func TestHealth_ReportsSystemPressure(t *testing.T) {
	h := newTestHandler(nil, "local")
	h.system = fakeSystem{m: syshealth.Metrics{Score: 20, Zone: syshealth.ZoneCritical}}

	rec := serve(t, h.Health, "/health")
	require.Equal(t, http.StatusOK, rec.Code, "pressure alone does not fail the check")

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.System)
	assert.Equal(t, syshealth.ZoneCritical, body.System.Zone)
}

func TestHealth_DatabaseDown(t *testing.T) {
	rec := serve(t, newTestHandler(errors.New("connection refused"), "local").Health, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, statusUnhealthy, body.Status)
	assert.Equal(t, "connection refused", body.Checks["database"].Message)
}

func TestReady(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(t, newTestHandler(nil, "local").Ready, "/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		serve(t, newTestHandler(errors.New("down"), "local").Ready, "/ready").Code)
}

func TestDebug(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, serve(t, newTestHandler(nil, "production").Debug, "/debug").Code)

	rec := serve(t, newTestHandler(nil, "local").Debug, "/debug")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"go_version"`)
	assert.NotContains(t, rec.Body.String(), `"database"`)
}

type fakeQueue struct {
	stats *jobs.Stats
	err   error
}

func (f fakeQueue) Stats(context.Context) (*jobs.Stats, error) { return f.stats, f.err }

type fakeWorker struct{ m jobs.WorkerMetrics }

func (f fakeWorker) Metrics() jobs.WorkerMetrics { return f.m }

type fakeTasks struct{ tasks []scheduler.TaskInfo }

func (f fakeTasks) IsRunning() bool                   { return true }
func (f fakeTasks) GetTaskInfo() []scheduler.TaskInfo { return f.tasks }

func TestJobMetrics(t *testing.T) {
	m := &MetricsHandler{
		queue:  fakeQueue{stats: &jobs.Stats{Pending: 2, Processing: 1, Completed: 7}},
		worker: fakeWorker{m: jobs.WorkerMetrics{Processed: 8, Succeeded: 7, Failed: 1}},
	}
	rec := serve(t, m.JobMetrics, "/api/metrics/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SyncJobMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Queue.Pending)
	assert.Equal(t, int64(7), body.Worker.Succeeded)
}

func TestJobMetrics_QueueError(t *testing.T) {
	m := &MetricsHandler{queue: fakeQueue{err: errors.New("db down")}, worker: fakeWorker{}}
	assert.Equal(t, http.StatusInternalServerError, serve(t, m.JobMetrics, "/api/metrics/jobs").Code)
}

func TestSchedulerMetrics(t *testing.T) {
	m := &MetricsHandler{scheduler: fakeTasks{tasks: []scheduler.TaskInfo{
		{Name: scheduler.TaskAutoSync, Schedule: "@every 1m0s"},
	}}}
	rec := serve(t, m.SchedulerMetrics, "/api/metrics/scheduler")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SchedulerMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Running)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, scheduler.TaskAutoSync, body.Tasks[0].Name)
}
