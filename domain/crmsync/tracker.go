package crmsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-fundraising/nexus/domain/activity"
	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/integrations"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/domain/webhooks"
	"github.com/nexus-fundraising/nexus/pkg/apperror"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

var (
	// ErrReconnectRequired is returned with the result of a run that
	// stopped on invalid or expired credentials.
	ErrReconnectRequired = apperror.ErrReconnectRequired
	// ErrSyncInProgress is returned when another run holds the lease.
	ErrSyncInProgress = apperror.ErrSyncInProgress
)

const maxLastErrorLength = 1000

// Integrations is the part of the integrations service the tracker uses.
type Integrations interface {
	Resolve(ctx context.Context, orgID string, provider records.Source) (*integrations.Integration, error)
	Adapter(ctx context.Context, integration *integrations.Integration) (crm.Adapter, error)
	RateLimiter(provider records.Source) *crm.RateLimiter
	MarkSyncing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id string, status integrations.Status, lastError string, at time.Time) error
}

var _ Integrations = (*integrations.Service)(nil)

// Runner executes tracked sync runs.
type Runner interface {
	Run(ctx context.Context, req Request) (*SyncResult, error)
}

// ReportArchive keeps a copy of every finished run's report.
type ReportArchive interface {
	Archive(ctx context.Context, report Report) (string, error)
}

// Report is the archived record of one sync run.
type Report struct {
	RunID          string      `json:"runId"`
	OrganizationID string      `json:"organizationId"`
	IntegrationID  string      `json:"integrationId"`
	Provider       string      `json:"provider"`
	Direction      string      `json:"direction"`
	StartedAt      time.Time   `json:"startedAt"`
	FinishedAt     time.Time   `json:"finishedAt"`
	Result         *SyncResult `json:"result"`
}

// Tracker wraps engine runs with the integration status state machine,
// the run lease, audit rows and completion events.
type Tracker struct {
	integrations Integrations
	engine       *Engine
	locker       Locker
	webhooks     webhooks.Dispatcher
	audit        activity.Recorder
	reports      ReportArchive
	log          *slog.Logger
	now          func() time.Time
}

var _ Runner = (*Tracker)(nil)

// NewTracker creates a tracker.
func NewTracker(
	integrationsSvc Integrations,
	engine *Engine,
	locker Locker,
	dispatcher webhooks.Dispatcher,
	audit activity.Recorder,
	log *slog.Logger,
) *Tracker {
	return &Tracker{
		integrations: integrationsSvc,
		engine:       engine,
		locker:       locker,
		webhooks:     dispatcher,
		audit:        audit,
		log:          log.With(logger.Scope("crmsync.tracker")),
		now:          time.Now,
	}
}

// SetReportArchive enables report archiving for finished runs.
func (t *Tracker) SetReportArchive(a ReportArchive) {
	t.reports = a
}

// Run resolves the integration, takes the run lease and executes req. The
// integration always leaves syncing: the final status, last_sync, the
// completion event, the audit row and the lease release happen even when
// ctx is cancelled. A run that stopped on an auth failure returns its
// result together with ErrReconnectRequired.
func (t *Tracker) Run(ctx context.Context, req Request) (result *SyncResult, err error) {
	integration, err := t.integrations.Resolve(ctx, req.OrganizationID, req.Provider)
	if err != nil {
		return nil, err
	}
	req.Provider = integration.Provider
	if req.Direction == "" {
		req.Direction = integration.SyncDirection
	}
	if !req.Direction.Valid() {
		return nil, apperror.NewBadRequest(fmt.Sprintf("invalid sync direction %q", req.Direction))
	}
	if !req.Entities.Any() {
		req.Entities = AllEntities
	}

	lease, err := t.locker.Acquire(ctx, req.OrganizationID, req.Provider)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			return nil, ErrSyncInProgress
		}
		return nil, apperror.NewInternal("failed to acquire sync lease", err)
	}

	if err := t.integrations.MarkSyncing(ctx, integration.ID); err != nil {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			t.log.Warn("failed to release sync lease", logger.Error(relErr))
		}
		return nil, apperror.NewInternal("failed to mark integration syncing", err)
	}

	started := t.now()
	t.record(ctx, activity.Entry{
		OrganizationID: req.OrganizationID,
		Action:         activity.ActionSyncStarted,
		ResourceType:   activity.ResourceIntegration,
		ResourceID:     integration.ID,
		Details: map[string]any{
			"provider":  string(req.Provider),
			"direction": string(req.Direction),
		},
	})

	defer func() {
		if p := recover(); p != nil {
			t.log.Error("sync run panicked", slog.Any("panic", p))
			result = failedResult(fmt.Sprintf("sync aborted: %v", p), false)
			err = nil
		}
		t.finish(context.WithoutCancel(ctx), integration, req, lease, started, result)
		if err == nil && result.ReconnectRequired {
			err = ErrReconnectRequired
		}
	}()

	adapter, aerr := t.integrations.Adapter(ctx, integration)
	if aerr != nil {
		t.log.Warn("failed to build adapter",
			slog.String("provider", string(req.Provider)),
			logger.Error(aerr))
		return failedResult(fmt.Sprintf("connect: %s", aerr), crm.IsAuth(aerr)), nil
	}

	return t.engine.Run(ctx, adapter, t.integrations.RateLimiter(req.Provider), req), nil
}

// finish records the outcome. Each side effect is attempted independently;
// failures are logged and never change the result.
func (t *Tracker) finish(ctx context.Context, integration *integrations.Integration, req Request, lease Lease, started time.Time, result *SyncResult) {
	finished := t.now()
	duration := finished.Sub(started)
	totals := result.Stats.Total()
	provider := string(req.Provider)

	status := integrations.StatusConnected
	eventType := webhooks.EventSyncCompleted
	outcome := "success"
	if !result.Success {
		status = integrations.StatusError
		eventType = webhooks.EventSyncFailed
		outcome = "failed"
		if result.ReconnectRequired {
			outcome = "reconnect_required"
		}
	}

	if err := t.integrations.MarkFinished(ctx, integration.ID, status, lastError(result), finished); err != nil {
		t.log.Error("failed to record sync status",
			slog.String("integration_id", integration.ID),
			logger.Error(err))
	}

	payload := map[string]any{
		"provider":         provider,
		"recordsProcessed": totals.Processed(),
		"created":          totals.Created,
		"updated":          totals.Updated,
		"failed":           totals.Errors,
		"durationMs":       duration.Milliseconds(),
	}
	if err := t.webhooks.Trigger(ctx, eventType, payload, req.OrganizationID); err != nil {
		t.log.Error("failed to emit sync event",
			slog.String("event_type", eventType),
			logger.Error(err))
	}

	details := map[string]any{
		"provider":   provider,
		"direction":  string(req.Direction),
		"stats":      result.Stats,
		"errorCount": totals.Errors + len(result.Errors),
		"success":    result.Success,
	}
	if t.reports != nil {
		key, err := t.reports.Archive(ctx, Report{
			RunID:          uuid.NewString(),
			OrganizationID: req.OrganizationID,
			IntegrationID:  integration.ID,
			Provider:       provider,
			Direction:      string(req.Direction),
			StartedAt:      started,
			FinishedAt:     finished,
			Result:         result,
		})
		if err != nil {
			t.log.Warn("failed to archive sync report", logger.Error(err))
		} else {
			details["reportKey"] = key
		}
	}

	t.record(ctx, activity.Entry{
		OrganizationID: req.OrganizationID,
		Action:         activity.ActionSyncCompleted,
		ResourceType:   activity.ResourceIntegration,
		ResourceID:     integration.ID,
		Details:        details,
	})

	if err := lease.Release(ctx); err != nil {
		t.log.Warn("failed to release sync lease", logger.Error(err))
	}

	SyncRuns.WithLabelValues(provider, outcome).Inc()
	SyncDuration.WithLabelValues(provider).Observe(duration.Seconds())
	observeStats(provider, result.Stats)

	t.log.Info("sync finished",
		slog.String("organization_id", req.OrganizationID),
		slog.String("provider", provider),
		slog.String("direction", string(req.Direction)),
		slog.Bool("success", result.Success),
		slog.Int("created", totals.Created),
		slog.Int("updated", totals.Updated),
		slog.Int("errors", totals.Errors),
		slog.Int("skipped", totals.Skipped),
		slog.Duration("duration", duration))
}

func (t *Tracker) record(ctx context.Context, entry activity.Entry) {
	if err := t.audit.Record(ctx, entry); err != nil {
		t.log.Error("failed to write audit row",
			slog.String("action", entry.Action),
			logger.Error(err))
	}
}

// lastError summarizes a failed run for the integration row.
func lastError(result *SyncResult) string {
	if result.Success {
		return ""
	}
	msg := strings.Join(result.Errors, "; ")
	if msg == "" {
		msg = fmt.Sprintf("%d records failed", result.Stats.Total().Errors)
	}
	if len(msg) > maxLastErrorLength {
		msg = msg[:maxLastErrorLength]
	}
	return msg
}
