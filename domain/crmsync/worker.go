package crmsync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/internal/jobs"
	"github.com/nexus-fundraising/nexus/pkg/apperror"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// Throttle scales the number of jobs claimed per poll.
type Throttle interface {
	Limit(n int) int
}

// SyncWorker claims queued sync jobs and runs them through the tracker.
type SyncWorker struct {
	worker   *jobs.Worker
	queue    *JobQueue
	runner   Runner
	throttle Throttle
	enabled  bool
	log      *slog.Logger
}

// NewSyncWorker creates the sync job worker.
func NewSyncWorker(queue *JobQueue, runner Runner, cfg *config.Config, log *slog.Logger) *SyncWorker {
	w := &SyncWorker{
		queue:   queue,
		runner:  runner,
		enabled: cfg.CRM.WorkerEnabled,
		log:     log.With(logger.Scope("crmsync.worker")),
	}
	w.worker = jobs.NewWorker(jobs.WorkerConfig{
		Name:         "crm_sync",
		PollInterval: cfg.CRM.WorkerInterval,
		BatchSize:    cfg.CRM.WorkerBatchSize,
	}, w.log, w.processBatch)
	return w
}

// Start recovers jobs abandoned by a previous process and starts polling.
func (w *SyncWorker) Start(ctx context.Context) error {
	if !w.enabled {
		w.log.Info("sync worker disabled")
		return nil
	}
	if n, err := w.queue.RecoverStale(ctx, w.worker.Config().StaleThreshold); err != nil {
		w.log.Warn("failed to recover stale sync jobs", logger.Error(err))
	} else if n > 0 {
		w.log.Info("recovered stale sync jobs", slog.Int("count", n))
	}
	// The poll loop outlives the start hook's context.
	return w.worker.Start(context.WithoutCancel(ctx))
}

// Stop waits for the jobs in flight.
func (w *SyncWorker) Stop(ctx context.Context) error {
	return w.worker.Stop(ctx)
}

// SetThrottle installs t. Call before Start.
func (w *SyncWorker) SetThrottle(t Throttle) {
	w.throttle = t
}

// Metrics returns the worker's counters.
func (w *SyncWorker) Metrics() jobs.WorkerMetrics {
	return w.worker.Metrics()
}

func (w *SyncWorker) processBatch(ctx context.Context) error {
	n := w.worker.Config().BatchSize
	if w.throttle != nil {
		n = w.throttle.Limit(n)
	}
	claimed, err := w.queue.Claim(ctx, n)
	if err != nil {
		return err
	}
	for _, job := range claimed {
		w.process(ctx, job)
	}
	return nil
}

// process runs one job and records its outcome. Failed bookkeeping is
// logged; the stale job recovery picks the job up again.
func (w *SyncWorker) process(ctx context.Context, job *SyncJob) {
	log := w.log.With(
		slog.String("job_id", job.ID),
		slog.String("organization_id", job.OrganizationID),
		slog.String("provider", string(job.Provider)),
		slog.Int("attempt", job.AttemptCount+1))

	result, runErr := w.runner.Run(ctx, job.Request())
	ctx = context.WithoutCancel(ctx)

	var err error
	switch {
	case runErr == nil:
		err = w.queue.Complete(ctx, job, result)
		if result.Success {
			w.worker.Record(jobs.OutcomeSucceeded)
		} else {
			w.worker.Record(jobs.OutcomeFailed)
		}
		log.Info("sync job completed", slog.Bool("success", result.Success))
	default:
		retry := retryable(runErr)
		err = w.queue.Fail(ctx, job, result, runErr, retry)
		if retry && w.queue.WillRetry(job) {
			w.worker.Record(jobs.OutcomeRetried)
		} else {
			w.worker.Record(jobs.OutcomeFailed)
		}
		log.Warn("sync job failed", slog.Bool("retry", retry), logger.Error(runErr))
	}
	if err != nil {
		log.Error("failed to record sync job outcome", logger.Error(err))
	}
}

// retryable reports whether a failed run may succeed later without
// anyone changing the integration.
func retryable(err error) bool {
	if errors.Is(err, ErrSyncInProgress) {
		return true
	}
	if appErr, ok := apperror.From(err); ok {
		return appErr.HTTPStatus >= http.StatusInternalServerError
	}
	return true
}
