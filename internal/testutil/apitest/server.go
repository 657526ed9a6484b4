// Package apitest runs the CRM API in-process against a test database
// transaction.
package apitest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/domain/activity"
	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/crmsync"
	"github.com/nexus-fundraising/nexus/domain/integrations"
	"github.com/nexus-fundraising/nexus/domain/reconcile"
	"github.com/nexus-fundraising/nexus/domain/webhooks"
	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/internal/testutil"
	"github.com/nexus-fundraising/nexus/pkg/apperror"
	"github.com/nexus-fundraising/nexus/pkg/auth"
	"github.com/nexus-fundraising/nexus/pkg/encryption"
)

// APIKey is accepted by every test server.
const APIKey = "test-api-key"

// TestServer wraps an Echo instance with the CRM routes registered
type TestServer struct {
	Echo         *echo.Echo
	TestDB       *testutil.TestDB
	DB           bun.IDB
	Config       *config.Config
	Log          *slog.Logger
	Integrations *integrations.Service
	Jobs         *crmsync.JobQueue
	Worker       *crmsync.SyncWorker
	Webhooks     *webhooks.OutboxDispatcher
}

// NewTestServer builds the API on top of the test transaction. Adapters are
// taken from registry, so tests register fakes for the providers they use.
func NewTestServer(t *testing.T, testDB *testutil.TestDB, registry *crm.Registry) *TestServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db := testDB.GetDB()

	cfg, err := config.NewConfig(log)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Auth.APIKeys = []string{APIKey}
	cfg.CRM.WorkerEnabled = false

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)

	authMiddleware := auth.NewMiddleware(cfg, log)
	cipher := encryption.NewNullService()

	catalog := integrations.NewCatalog(registry)
	integrationsSvc := integrations.NewService(integrations.NewRepository(db, log), cipher, registry, catalog, cfg, log)
	integrations.RegisterRoutes(e, integrations.NewHandler(integrationsSvc, catalog), authMiddleware)

	activitySvc := activity.NewService(activity.NewRepository(db, log), log)
	activity.RegisterRoutes(e, activity.NewHandler(activitySvc), authMiddleware)

	dispatcher := webhooks.NewOutboxDispatcher(db, log)

	engine := crmsync.NewEngine(reconcile.NewStore(db, log), crmsync.NewEngineConfig(cfg), log)
	tracker := crmsync.NewTracker(integrationsSvc, engine, crmsync.NewLeaseManager(db, cfg, log), dispatcher, activitySvc, log)
	jobQueue := crmsync.NewJobQueue(db, integrationsSvc, cfg, log)
	crmsync.RegisterRoutes(e, crmsync.NewHandler(tracker, jobQueue), authMiddleware)

	return &TestServer{
		Echo:         e,
		TestDB:       testDB,
		DB:           db,
		Config:       cfg,
		Log:          log,
		Integrations: integrationsSvc,
		Jobs:         jobQueue,
		Worker:       crmsync.NewSyncWorker(jobQueue, tracker, cfg, log),
		Webhooks:     dispatcher,
	}
}

// Request performs an HTTP request against the test server
func (s *TestServer) Request(method, path string, opts ...RequestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// GET performs a GET request
func (s *TestServer) GET(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request
func (s *TestServer) POST(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPost, path, opts...)
}

// PATCH performs a PATCH request
func (s *TestServer) PATCH(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPatch, path, opts...)
}

// DELETE performs a DELETE request
func (s *TestServer) DELETE(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodDelete, path, opts...)
}

// RequestOption modifies an HTTP request
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithAPIKey authenticates the request with key.
func WithAPIKey(key string) RequestOption {
	return WithHeader(auth.HeaderAPIKey, key)
}

// WithAuth authenticates the request with the test key.
func WithAuth() RequestOption {
	return WithAPIKey(APIKey)
}

// WithJSONBody sets Content-Type to application/json and marshals the body
func WithJSONBody(body any) RequestOption {
	return func(r *http.Request) {
		data, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		r.Body = io.NopCloser(strings.NewReader(string(data)))
		r.ContentLength = int64(len(data))
	}
}

// DecodeJSON unmarshals a recorded response body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}
