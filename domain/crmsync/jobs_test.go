package crmsync

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/integrations"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/internal/jobs"
	"github.com/nexus-fundraising/nexus/internal/testutil"
)

func newTestJobQueue(t *testing.T, integrationsSvc Integrations) (*JobQueue, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.SetupTestDB(t)
	cfg := &config.Config{CRM: config.CRMConfig{JobMaxAttempts: 3, WorkerBatchSize: 10}}
	return NewJobQueue(tdb.GetDB(), integrationsSvc, cfg, slog.Default()), tdb
}

func TestJobQueue_EnqueueIsIdempotentWhileActive(t *testing.T) {
	q, _ := newTestJobQueue(t, nil)
	ctx := context.Background()
	req := Request{
		OrganizationID: testutil.NewOrgID(),
		Provider:       records.SourceHubSpot,
		Direction:      crm.DirectionPull,
		Entities:       Entities{Donors: true, Interactions: true},
	}

	first, created, err := q.Enqueue(ctx, req, TriggerManual)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, jobs.StatusPending, first.Status)
	assert.Equal(t, req.Entities, first.Entities())

	second, created, err := q.Enqueue(ctx, req, TriggerSchedule)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	other := req
	other.Provider = records.SourceBloomerang
	third, created, err := q.Enqueue(ctx, other, TriggerManual)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestJobQueue_Lifecycle(t *testing.T) {
	q, _ := newTestJobQueue(t, nil)
	ctx := context.Background()
	orgID := testutil.NewOrgID()
	req := Request{OrganizationID: orgID, Provider: records.SourceNeonOne, Direction: crm.DirectionPull, Entities: AllEntities}

	job, _, err := q.Enqueue(ctx, req, TriggerManual)
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 100)
	require.NoError(t, err)
	var mine *SyncJob
	for _, c := range claimed {
		if c.ID == job.ID {
			mine = c
		}
	}
	require.NotNil(t, mine)
	assert.Equal(t, jobs.StatusProcessing, mine.Status)
	assert.Equal(t, req, mine.Request())

	// Still active while processing.
	_, created, err := q.Enqueue(ctx, req, TriggerManual)
	require.NoError(t, err)
	assert.False(t, created)

	acc := NewAccumulator()
	acc.Created(records.EntityDonors)
	require.NoError(t, q.Complete(ctx, mine, acc.Result()))

	done, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Success)
	assert.Equal(t, 1, done.Result.Stats.Donors.Created)
	assert.NotNil(t, done.CompletedAt)

	_, created, err = q.Enqueue(ctx, req, TriggerManual)
	require.NoError(t, err)
	assert.True(t, created, "a finished job does not block a new one")
}

func TestJobQueue_Fail(t *testing.T) {
	q, _ := newTestJobQueue(t, nil)
	ctx := context.Background()

	retry, _, err := q.Enqueue(ctx, Request{OrganizationID: testutil.NewOrgID(), Provider: records.SourceHubSpot,
		Direction: crm.DirectionPull, Entities: AllEntities}, TriggerManual)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, retry, nil, errors.New("connection reset"), true))

	got, err := q.Get(ctx, retry.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.True(t, got.ScheduledAt.After(retry.ScheduledAt))

	permanent, _, err := q.Enqueue(ctx, Request{OrganizationID: testutil.NewOrgID(), Provider: records.SourceHubSpot,
		Direction: crm.DirectionPull, Entities: AllEntities}, TriggerManual)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, permanent, failedResult("donors: token expired", true), ErrReconnectRequired, false))

	got, err = q.Get(ctx, permanent.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "reconnect_required")
	require.NotNil(t, got.Result)
	assert.Equal(t, []string{"donors: token expired"}, got.Result.Errors)
}

func TestJobQueue_Get(t *testing.T) {
	q, _ := newTestJobQueue(t, nil)

	_, err := q.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = q.Get(context.Background(), testutil.NewOrgID())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobQueue_SubmitResolvesIntegration(t *testing.T) {
	orgID := testutil.NewOrgID()
	fake := &fakeIntegrations{integration: &integrations.Integration{
		ID:             "integration-1",
		OrganizationID: orgID,
		Provider:       records.SourceBloomerang,
		SyncDirection:  crm.DirectionBidirectional,
	}}
	q, _ := newTestJobQueue(t, fake)

	job, created, err := q.Submit(context.Background(), Request{OrganizationID: orgID}, TriggerManual)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, records.SourceBloomerang, job.Provider)
	assert.Equal(t, crm.DirectionBidirectional, job.Direction)
	assert.Equal(t, AllEntities, job.Entities())
}

func TestSyncWorker_ProcessesClaimedJobs(t *testing.T) {
	q, _ := newTestJobQueue(t, nil)
	ctx := context.Background()
	cfg := &config.Config{CRM: config.CRMConfig{WorkerBatchSize: 50}}

	ok, _, err := q.Enqueue(ctx, Request{OrganizationID: testutil.NewOrgID(), Provider: records.SourceHubSpot,
		Direction: crm.DirectionPull, Entities: AllEntities}, TriggerManual)
	require.NoError(t, err)

	runner := &stubRunner{result: NewAccumulator().Result()}
	w := NewSyncWorker(q, runner, cfg, slog.Default())
	require.NoError(t, w.processBatch(ctx))

	got, err := q.Get(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.GreaterOrEqual(t, w.Metrics().Succeeded, int64(1))

	denied, _, err := q.Enqueue(ctx, Request{OrganizationID: testutil.NewOrgID(), Provider: records.SourceHubSpot,
		Direction: crm.DirectionPull, Entities: AllEntities}, TriggerManual)
	require.NoError(t, err)

	runner.result = failedResult("donors: token expired", true)
	runner.err = ErrReconnectRequired
	require.NoError(t, w.processBatch(ctx))

	got, err = q.Get(ctx, denied.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status, "credential failures are not retried")
}

type recordingThrottle struct{ asked, allow int }

func (r *recordingThrottle) Limit(n int) int {
	r.asked = n
	return r.allow
}

func TestSyncWorker_ThrottleLimitsClaims(t *testing.T) {
	q, _ := newTestJobQueue(t, nil)
	ctx := context.Background()
	cfg := &config.Config{CRM: config.CRMConfig{WorkerBatchSize: 10}}

	var ids []string
	for range 3 {
		job, _, err := q.Enqueue(ctx, Request{OrganizationID: testutil.NewOrgID(), Provider: records.SourceNeonOne,
			Direction: crm.DirectionPull, Entities: AllEntities}, TriggerSchedule)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	throttle := &recordingThrottle{allow: 1}
	w := NewSyncWorker(q, &stubRunner{result: NewAccumulator().Result()}, cfg, slog.Default())
	w.SetThrottle(throttle)
	require.NoError(t, w.processBatch(ctx))

	assert.Equal(t, 10, throttle.asked)

	completed := 0
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		require.NoError(t, err)
		if job.Status == jobs.StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}
