package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nexus-fundraising/nexus/domain/crmsync"
	"github.com/nexus-fundraising/nexus/domain/integrations"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// Task names.
const (
	TaskAutoSync          = "crm_auto_sync"
	TaskLeaseCleanup      = "crm_lease_cleanup"
	TaskStuckSyncRecovery = "crm_stuck_sync_recovery"
)

// DueIntegrations lists integrations whose auto sync interval elapsed.
type DueIntegrations interface {
	ListAutoSyncDue(ctx context.Context, now time.Time) ([]*integrations.Integration, error)
}

// SyncEnqueuer queues sync runs.
type SyncEnqueuer interface {
	Enqueue(ctx context.Context, req crmsync.Request, trigger string) (*crmsync.SyncJob, bool, error)
}

// AutoSyncTask queues a sync job for every integration that is due. An
// integration that already has an active job is left alone.
type AutoSyncTask struct {
	integrations DueIntegrations
	jobs         SyncEnqueuer
	log          *slog.Logger
	now          func() time.Time
}

// NewAutoSyncTask creates the auto sync task
func NewAutoSyncTask(due DueIntegrations, jobs SyncEnqueuer, log *slog.Logger) *AutoSyncTask {
	return &AutoSyncTask{
		integrations: due,
		jobs:         jobs,
		log:          log.With(logger.Scope("scheduler.auto_sync")),
		now:          time.Now,
	}
}

// Run enqueues the due integrations. Failures for one integration do not
// stop the others; they are joined into the returned error.
func (t *AutoSyncTask) Run(ctx context.Context) error {
	due, err := t.integrations.ListAutoSyncDue(ctx, t.now())
	if err != nil {
		return err
	}

	var errs []error
	enqueued := 0
	for _, integration := range due {
		_, created, err := t.jobs.Enqueue(ctx, crmsync.Request{
			OrganizationID: integration.OrganizationID,
			Provider:       integration.Provider,
			Direction:      integration.SyncDirection,
			Entities:       crmsync.AllEntities,
		}, crmsync.TriggerSchedule)
		if err != nil {
			t.log.Warn("failed to enqueue auto sync",
				slog.String("integration_id", integration.ID),
				logger.Error(err))
			errs = append(errs, err)
			continue
		}
		if created {
			enqueued++
		}
	}

	if enqueued > 0 {
		t.log.Info("auto sync jobs enqueued",
			slog.Int("due", len(due)),
			slog.Int("enqueued", enqueued))
	}
	return errors.Join(errs...)
}

// LeaseCleaner deletes expired sync leases.
type LeaseCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// LeaseCleanupTask removes leases left behind by crashed runs
type LeaseCleanupTask struct {
	leases LeaseCleaner
	log    *slog.Logger
}

// NewLeaseCleanupTask creates the lease cleanup task
func NewLeaseCleanupTask(leases LeaseCleaner, log *slog.Logger) *LeaseCleanupTask {
	return &LeaseCleanupTask{
		leases: leases,
		log:    log.With(logger.Scope("scheduler.lease_cleanup")),
	}
}

// Run executes the lease cleanup
func (t *LeaseCleanupTask) Run(ctx context.Context) error {
	n, err := t.leases.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		t.log.Info("expired sync leases removed", slog.Int("count", n))
	}
	return nil
}

// StuckIntegrations resets integrations stuck in syncing.
type StuckIntegrations interface {
	RecoverStuck(ctx context.Context) (int, error)
}

// StaleJobs returns abandoned jobs to the queue.
type StaleJobs interface {
	RecoverStale(ctx context.Context, threshold time.Duration) (int, error)
}

// StuckSyncRecoveryTask moves integrations left in syncing by a crashed
// process to error and requeues sync jobs stuck in processing.
type StuckSyncRecoveryTask struct {
	integrations StuckIntegrations
	jobs         StaleJobs
	threshold    time.Duration
	log          *slog.Logger
}

// NewStuckSyncRecoveryTask creates the recovery task
func NewStuckSyncRecoveryTask(stuck StuckIntegrations, jobs StaleJobs, threshold time.Duration, log *slog.Logger) *StuckSyncRecoveryTask {
	return &StuckSyncRecoveryTask{
		integrations: stuck,
		jobs:         jobs,
		threshold:    threshold,
		log:          log.With(logger.Scope("scheduler.stuck_sync")),
	}
}

// Run executes the recovery
func (t *StuckSyncRecoveryTask) Run(ctx context.Context) error {
	integrationsReset, errIntegrations := t.integrations.RecoverStuck(ctx)
	jobsRequeued, errJobs := t.jobs.RecoverStale(ctx, t.threshold)

	if integrationsReset > 0 || jobsRequeued > 0 {
		t.log.Warn("recovered interrupted syncs",
			slog.Int("integrations", integrationsReset),
			slog.Int("jobs", jobsRequeued))
	}
	return errors.Join(errIntegrations, errJobs)
}
