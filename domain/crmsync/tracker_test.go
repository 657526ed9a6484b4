package crmsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fundraising/nexus/domain/activity"
	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/integrations"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/pkg/apperror"
)

const testOrgID = "00000000-0000-0000-0000-000000000001"

type finishCall struct {
	status    integrations.Status
	lastError string
	at        time.Time
	ctxErr    error
}

type fakeIntegrations struct {
	integration *integrations.Integration
	resolveErr  error
	adapter     crm.Adapter
	adapterErr  error

	syncing  []string
	finished []finishCall
}

func (f *fakeIntegrations) Resolve(_ context.Context, _ string, provider records.Source) (*integrations.Integration, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	if provider != "" && provider != f.integration.Provider {
		return nil, apperror.ErrIntegrationNotFound
	}
	return f.integration, nil
}

func (f *fakeIntegrations) Adapter(context.Context, *integrations.Integration) (crm.Adapter, error) {
	return f.adapter, f.adapterErr
}

func (f *fakeIntegrations) RateLimiter(records.Source) *crm.RateLimiter {
	return crm.NewRateLimiter(0)
}

func (f *fakeIntegrations) MarkSyncing(_ context.Context, id string) error {
	f.syncing = append(f.syncing, id)
	return nil
}

func (f *fakeIntegrations) MarkFinished(ctx context.Context, _ string, status integrations.Status, lastError string, at time.Time) error {
	f.finished = append(f.finished, finishCall{status: status, lastError: lastError, at: at, ctxErr: ctx.Err()})
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) Acquire(context.Context, string, records.Source) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, ErrLeaseHeld
	}
	l.held = true
	l.acquired++
	return leaseFunc(func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
		return nil
	}), nil
}

type leaseFunc func(context.Context) error

func (f leaseFunc) Release(ctx context.Context) error { return f(ctx) }

type sentEvent struct {
	eventType string
	payload   map[string]any
	orgID     string
}

type fakeDispatcher struct{ events []sentEvent }

func (d *fakeDispatcher) Trigger(_ context.Context, eventType string, payload map[string]any, orgID string) error {
	d.events = append(d.events, sentEvent{eventType, payload, orgID})
	return nil
}

type fakeRecorder struct{ entries []activity.Entry }

func (r *fakeRecorder) Record(_ context.Context, entry activity.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type trackerFixture struct {
	tracker      *Tracker
	integrations *fakeIntegrations
	locker       *fakeLocker
	webhooks     *fakeDispatcher
	audit        *fakeRecorder
	store        *memStore
	adapter      *fakeAdapter
}

func newTrackerFixture() *trackerFixture {
	adapter := newFakeAdapter()
	f := &trackerFixture{
		integrations: &fakeIntegrations{
			integration: &integrations.Integration{
				ID:             "integration-1",
				OrganizationID: testOrgID,
				Provider:       records.SourceHubSpot,
				SyncStatus:     integrations.StatusConnected,
				SyncDirection:  crm.DirectionPull,
			},
			adapter: adapter,
		},
		locker:   &fakeLocker{},
		webhooks: &fakeDispatcher{},
		audit:    &fakeRecorder{},
		store:    newMemStore(),
		adapter:  adapter,
	}
	f.tracker = NewTracker(f.integrations, NewEngine(f.store, EngineConfig{}, slog.Default()),
		f.locker, f.webhooks, f.audit, slog.Default())
	return f
}

func TestTracker_SuccessfulRun(t *testing.T) {
	f := newTrackerFixture()
	f.adapter.donors = donorItems(4)
	f.adapter.donations = donationItems(2, "C-1")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.tracker.now = func() time.Time { return now }

	result, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, []string{"integration-1"}, f.integrations.syncing)
	require.Len(t, f.integrations.finished, 1)
	assert.Equal(t, integrations.StatusConnected, f.integrations.finished[0].status)
	assert.Empty(t, f.integrations.finished[0].lastError)
	assert.Equal(t, now, f.integrations.finished[0].at)

	require.Len(t, f.webhooks.events, 1)
	ev := f.webhooks.events[0]
	assert.Equal(t, "crm.sync_completed", ev.eventType)
	assert.Equal(t, testOrgID, ev.orgID)
	assert.Equal(t, "hubspot", ev.payload["provider"])
	assert.Equal(t, 6, ev.payload["recordsProcessed"])
	assert.Equal(t, 6, ev.payload["created"])
	assert.Equal(t, 0, ev.payload["updated"])
	assert.Equal(t, 0, ev.payload["failed"])
	assert.Contains(t, ev.payload, "durationMs")

	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, activity.ActionSyncStarted, f.audit.entries[0].Action)
	assert.Equal(t, activity.ActionSyncCompleted, f.audit.entries[1].Action)
	assert.Equal(t, "integration-1", f.audit.entries[1].ResourceID)
	assert.Equal(t, 0, f.audit.entries[1].Details["errorCount"])

	assert.Equal(t, 1, f.locker.released)
	assert.False(t, f.locker.held)
}

func TestTracker_DefaultsFromIntegration(t *testing.T) {
	f := newTrackerFixture()
	f.integrations.integration.SyncDirection = crm.DirectionPush
	f.store.unpushedDonors = []records.Donor{{ID: "local-1"}}

	result, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Stats.Donors.Created)
	assert.Zero(t, f.adapter.callCount("list_donors"))
	assert.Equal(t, "push", f.audit.entries[0].Details["direction"])
}

func TestTracker_InvalidDirection(t *testing.T) {
	f := newTrackerFixture()

	_, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID, Direction: "sideways"})
	assert.ErrorIs(t, err, apperror.ErrBadRequest)
	assert.Zero(t, f.locker.acquired)
}

func TestTracker_RecordErrorsMarkIntegrationFailed(t *testing.T) {
	f := newTrackerFixture()
	f.adapter.donors = donorItems(3)
	f.store.donorErr["C-1"] = errRecord
	f.store.donorErr["C-3"] = errRecord

	result, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	require.NoError(t, err)
	assert.False(t, result.Success)

	require.Len(t, f.integrations.finished, 1)
	assert.Equal(t, integrations.StatusError, f.integrations.finished[0].status)
	assert.Equal(t, "2 records failed", f.integrations.finished[0].lastError)
	assert.Equal(t, "crm.sync_failed", f.webhooks.events[0].eventType)
	assert.Equal(t, 2, f.webhooks.events[0].payload["failed"])
}

func TestTracker_AuthFailureRequiresReconnect(t *testing.T) {
	f := newTrackerFixture()
	f.adapter.listErr[records.EntityDonors] = errAuth

	result, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	assert.ErrorIs(t, err, ErrReconnectRequired)
	require.NotNil(t, result)
	assert.True(t, result.ReconnectRequired)

	require.Len(t, f.integrations.finished, 1)
	assert.Equal(t, integrations.StatusError, f.integrations.finished[0].status)
	assert.Contains(t, f.integrations.finished[0].lastError, "token expired")
	assert.Equal(t, 1, f.locker.released)
}

func TestTracker_AdapterConstructionFailure(t *testing.T) {
	f := newTrackerFixture()
	f.integrations.adapterErr = fmt.Errorf("load credentials: %w", crm.ErrReconnectRequired)

	result, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	assert.ErrorIs(t, err, ErrReconnectRequired)
	require.NotNil(t, result)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "connect:")
	assert.Equal(t, integrations.StatusError, f.integrations.finished[0].status)
	assert.Equal(t, "crm.sync_failed", f.webhooks.events[0].eventType)
}

func TestTracker_LeaseHeld(t *testing.T) {
	f := newTrackerFixture()
	f.locker.held = true

	result, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Empty(t, f.integrations.syncing)
	assert.Empty(t, f.integrations.finished)
	assert.Empty(t, f.webhooks.events)
}

func TestTracker_ResolveFailure(t *testing.T) {
	f := newTrackerFixture()

	_, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID, Provider: records.SourceSalesforce})
	assert.ErrorIs(t, err, apperror.ErrIntegrationNotFound)
	assert.Zero(t, f.locker.acquired)
}

func TestTracker_CancelledRunStillFinalizes(t *testing.T) {
	f := newTrackerFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.adapter.donors = donorItems(10)
	f.adapter.onList = func(records.Entity) { cancel() }

	result, err := f.tracker.Run(ctx, Request{OrganizationID: testOrgID})
	require.NoError(t, err)
	assert.Contains(t, result.Errors, MsgCancelled)

	require.Len(t, f.integrations.finished, 1)
	assert.Equal(t, integrations.StatusError, f.integrations.finished[0].status)
	assert.NoError(t, f.integrations.finished[0].ctxErr)
	assert.Len(t, f.webhooks.events, 1)
	assert.Equal(t, 1, f.locker.released)
}

type panickingAdapter struct{ *fakeAdapter }

func (a *panickingAdapter) ListDonors(context.Context, string) (*crm.Page[crm.DonorRecord], error) {
	panic("unexpected payload")
}

func TestTracker_PanicStillFinalizes(t *testing.T) {
	f := newTrackerFixture()
	f.integrations.adapter = &panickingAdapter{fakeAdapter: f.adapter}

	result, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected payload")
	assert.Equal(t, integrations.StatusError, f.integrations.finished[0].status)
	assert.Equal(t, 1, f.locker.released)
}

func TestTracker_SecondRunAfterRelease(t *testing.T) {
	f := newTrackerFixture()

	_, err := f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	require.NoError(t, err)
	_, err = f.tracker.Run(context.Background(), Request{OrganizationID: testOrgID})
	require.NoError(t, err)

	assert.Equal(t, 2, f.locker.acquired)
	assert.Len(t, f.integrations.finished, 2)
}

func TestLastError(t *testing.T) {
	assert.Empty(t, lastError(&SyncResult{Success: true}))

	long := &SyncResult{Errors: []string{string(make([]byte, 2000))}}
	assert.Len(t, lastError(long), maxLastErrorLength)

	joined := &SyncResult{Errors: []string{"donors: a", "donations: b"}}
	assert.Equal(t, "donors: a; donations: b", lastError(joined))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(ErrSyncInProgress))
	assert.True(t, retryable(errors.New("connection reset")))
	assert.True(t, retryable(apperror.NewInternal("db down", nil)))
	assert.False(t, retryable(ErrReconnectRequired))
	assert.False(t, retryable(apperror.ErrIntegrationNotFound))
	assert.False(t, retryable(apperror.NewBadRequest("bad")))
}
