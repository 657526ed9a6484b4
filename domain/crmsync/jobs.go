package crmsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/nexus-fundraising/nexus/domain/crm"
	"github.com/nexus-fundraising/nexus/domain/records"
	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/internal/jobs"
	"github.com/nexus-fundraising/nexus/pkg/apperror"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

const syncJobsTable = "crm.sync_jobs"

// Trigger sources of sync jobs.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = apperror.New(http.StatusNotFound, "sync_job_not_found", "Sync job not found")

// SyncJob is a queued asynchronous run.
type SyncJob struct {
	bun.BaseModel `bun:"table:crm.sync_jobs,alias:sj"`

	ID               string         `bun:"id,pk,type:uuid"`
	OrganizationID   string         `bun:"organization_id,type:uuid"`
	Provider         records.Source `bun:"provider"`
	Direction        crm.Direction  `bun:"direction"`
	SyncDonors       bool           `bun:"sync_donors"`
	SyncDonations    bool           `bun:"sync_donations"`
	SyncInteractions bool           `bun:"sync_interactions"`
	TriggerSource    string         `bun:"trigger_source"`
	Status           jobs.JobStatus `bun:"status"`
	Priority         int            `bun:"priority"`
	AttemptCount     int            `bun:"attempt_count"`
	LastError        *string        `bun:"last_error"`
	Result           *SyncResult    `bun:"result,type:jsonb"`
	ScheduledAt      time.Time      `bun:"scheduled_at"`
	StartedAt        *time.Time     `bun:"started_at"`
	CompletedAt      *time.Time     `bun:"completed_at"`
	CreatedAt        time.Time      `bun:"created_at"`
	UpdatedAt        time.Time      `bun:"updated_at"`
}

// Entities returns the phases the job runs.
func (j *SyncJob) Entities() Entities {
	return Entities{Donors: j.SyncDonors, Donations: j.SyncDonations, Interactions: j.SyncInteractions}
}

// Request returns the run request the job describes.
func (j *SyncJob) Request() Request {
	return Request{
		OrganizationID: j.OrganizationID,
		Provider:       j.Provider,
		Direction:      j.Direction,
		Entities:       j.Entities(),
	}
}

// JobQueue stores sync jobs on crm.sync_jobs. At most one job per
// (organization, provider) is pending or processing at a time.
type JobQueue struct {
	db           bun.IDB
	queue        *jobs.Queue
	integrations Integrations
	log          *slog.Logger
}

// NewJobQueue creates the sync job queue.
func NewJobQueue(db bun.IDB, integrationsSvc Integrations, cfg *config.Config, log *slog.Logger) *JobQueue {
	log = log.With(logger.Scope("crmsync.jobs"))
	queueCfg := jobs.DefaultQueueConfig(syncJobsTable)
	queueCfg.MaxAttempts = cfg.CRM.JobMaxAttempts
	queueCfg.BatchSize = cfg.CRM.WorkerBatchSize

	return &JobQueue{
		db:           db,
		queue:        jobs.NewQueue(db, queueCfg, log),
		integrations: integrationsSvc,
		log:          log,
	}
}

// Queue exposes the underlying claim/complete operations.
func (q *JobQueue) Queue() *jobs.Queue {
	return q.queue
}

// Submit resolves the target integration of req and enqueues a job for it.
// When a job for the same integration is already pending or processing,
// that job is returned and created is false.
func (q *JobQueue) Submit(ctx context.Context, req Request, trigger string) (job *SyncJob, created bool, err error) {
	integration, err := q.integrations.Resolve(ctx, req.OrganizationID, req.Provider)
	if err != nil {
		return nil, false, err
	}
	req.Provider = integration.Provider
	if req.Direction == "" {
		req.Direction = integration.SyncDirection
	}
	if !req.Direction.Valid() {
		return nil, false, apperror.NewBadRequest(fmt.Sprintf("invalid sync direction %q", req.Direction))
	}
	if !req.Entities.Any() {
		req.Entities = AllEntities
	}
	return q.Enqueue(ctx, req, trigger)
}

// Enqueue inserts a pending job for a resolved request.
func (q *JobQueue) Enqueue(ctx context.Context, req Request, trigger string) (*SyncJob, bool, error) {
	job := new(SyncJob)
	err := q.db.NewRaw(`
		INSERT INTO ? (organization_id, provider, direction,
			sync_donors, sync_donations, sync_interactions, trigger_source)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, provider) WHERE status IN ('pending', 'processing')
		DO NOTHING
		RETURNING *`,
		bun.Safe(syncJobsTable), req.OrganizationID, req.Provider, req.Direction,
		req.Entities.Donors, req.Entities.Donations, req.Entities.Interactions, trigger).
		Scan(ctx, job)
	if err == nil {
		SyncJobsEnqueued.WithLabelValues(trigger).Inc()
		q.log.Info("sync job enqueued",
			slog.String("job_id", job.ID),
			slog.String("organization_id", job.OrganizationID),
			slog.String("provider", string(job.Provider)),
			slog.String("trigger", trigger))
		return job, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("enqueue sync job: %w", err)
	}

	active := new(SyncJob)
	err = q.db.NewSelect().
		Model(active).
		Where("sj.organization_id = ?", req.OrganizationID).
		Where("sj.provider = ?", req.Provider).
		Where("sj.status IN (?)", bun.In([]jobs.JobStatus{jobs.StatusPending, jobs.StatusProcessing})).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load active sync job: %w", err)
	}
	return active, false, nil
}

// Get returns one job.
func (q *JobQueue) Get(ctx context.Context, id string) (*SyncJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	job := new(SyncJob)
	err := q.db.NewSelect().Model(job).Where("sj.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync job: %w", err)
	}
	return job, nil
}

// Claim moves up to n due jobs to processing and returns them.
func (q *JobQueue) Claim(ctx context.Context, n int) ([]*SyncJob, error) {
	ids, err := q.queue.Dequeue(ctx, n)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	var claimed []*SyncJob
	err = q.db.NewSelect().
		Model(&claimed).
		Where("sj.id IN (?)", bun.In(ids)).
		OrderExpr("sj.priority DESC, sj.scheduled_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load claimed sync jobs: %w", err)
	}
	return claimed, nil
}

// SetResult stores the result of the job's run.
func (q *JobQueue) SetResult(ctx context.Context, id string, result *SyncResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode sync result: %w", err)
	}
	_, err = q.db.NewRaw(`UPDATE ? SET result = ?::jsonb, updated_at = now() WHERE id = ?`,
		bun.Safe(syncJobsTable), string(raw), id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("store sync result: %w", err)
	}
	return nil
}

// Complete stores result and marks the job completed.
func (q *JobQueue) Complete(ctx context.Context, job *SyncJob, result *SyncResult) error {
	if err := q.SetResult(ctx, job.ID, result); err != nil {
		return err
	}
	return q.queue.MarkCompleted(ctx, job.ID)
}

// Fail records a failed attempt. Retryable failures are rescheduled with
// backoff; others fail the job permanently.
func (q *JobQueue) Fail(ctx context.Context, job *SyncJob, result *SyncResult, cause error, retryable bool) error {
	if result != nil {
		if err := q.SetResult(ctx, job.ID, result); err != nil {
			return err
		}
	}
	if retryable {
		return q.queue.MarkFailed(ctx, job.ID, job.AttemptCount, cause.Error())
	}
	return q.queue.MarkFailedPermanent(ctx, job.ID, job.AttemptCount, cause.Error())
}

// WillRetry reports whether a retryable failure of job is rescheduled.
func (q *JobQueue) WillRetry(job *SyncJob) bool {
	return q.queue.WillRetry(job.AttemptCount)
}

// RecoverStale returns jobs abandoned in processing to pending.
func (q *JobQueue) RecoverStale(ctx context.Context, threshold time.Duration) (int, error) {
	return q.queue.RecoverStaleJobs(ctx, threshold)
}

// Stats returns job counts by status.
func (q *JobQueue) Stats(ctx context.Context) (*jobs.Stats, error) {
	return q.queue.GetStats(ctx)
}
