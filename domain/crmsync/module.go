package crmsync

import (
	"context"

	"go.uber.org/fx"

	"github.com/nexus-fundraising/nexus/domain/integrations"
	"github.com/nexus-fundraising/nexus/domain/reconcile"
	"github.com/nexus-fundraising/nexus/internal/storage"
	"github.com/nexus-fundraising/nexus/pkg/syshealth"
)

// Module provides the sync engine, tracker, job queue, worker and routes
var Module = fx.Module("crmsync",
	fx.Provide(
		NewEngineConfig,
		func(s *reconcile.Store) Store { return s },
		func(s *integrations.Service) Integrations { return s },
		NewEngine,
		NewLeaseManager,
		func(m *LeaseManager) Locker { return m },
		NewTracker,
		func(t *Tracker) Runner { return t },
		NewJobQueue,
		func(q *JobQueue) JobStore { return q },
		NewSyncWorker,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
		RegisterReportArchive,
		RegisterWorkerThrottle,
		RegisterWorkerLifecycle,
	),
)

// RegisterReportArchive archives finished run reports when object storage
// is configured.
func RegisterReportArchive(t *Tracker, s *storage.Service) {
	if s.Enabled() {
		t.SetReportArchive(NewStorageArchive(s))
	}
}

// RegisterWorkerThrottle makes the worker claim fewer jobs while the host
// or the database pool is under pressure.
func RegisterWorkerThrottle(w *SyncWorker, monitor syshealth.Monitor, cfg *syshealth.Config) {
	w.SetThrottle(syshealth.NewBatchThrottle(monitor, "crm_sync", cfg))
}

// RegisterWorkerLifecycle starts and stops the sync worker with the app
func RegisterWorkerLifecycle(lc fx.Lifecycle, w *SyncWorker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return w.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return w.Stop(ctx)
		},
	})
}
