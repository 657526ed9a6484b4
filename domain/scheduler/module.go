package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/nexus-fundraising/nexus/domain/crmsync"
	"github.com/nexus-fundraising/nexus/domain/integrations"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler    *Scheduler
	Integrations *integrations.Service
	Jobs         *crmsync.JobQueue
	Leases       *crmsync.LeaseManager
	Log          *slog.Logger
	Cfg          *Config
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	autoSync := NewAutoSyncTask(p.Integrations, p.Jobs, p.Log)
	if err := p.Scheduler.Add(TaskAutoSync,
		p.Cfg.AutoSyncSchedule, p.Cfg.AutoSyncInterval, autoSync.Run); err != nil {
		p.Log.Error("failed to register auto sync task", logger.Error(err))
	}

	leaseCleanup := NewLeaseCleanupTask(p.Leases, p.Log)
	if err := p.Scheduler.Add(TaskLeaseCleanup,
		p.Cfg.LeaseCleanupSchedule, p.Cfg.LeaseCleanupInterval, leaseCleanup.Run); err != nil {
		p.Log.Error("failed to register lease cleanup task", logger.Error(err))
	}

	recovery := NewStuckSyncRecoveryTask(p.Integrations, p.Jobs, p.Cfg.StaleJobThreshold, p.Log)
	if err := p.Scheduler.Add(TaskStuckSyncRecovery,
		p.Cfg.StuckSyncRecoverySchedule, p.Cfg.StuckSyncRecoveryInterval, recovery.Run); err != nil {
		p.Log.Error("failed to register stuck sync recovery task", logger.Error(err))
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
