// Package jobs provides a PostgreSQL-backed job queue and polling worker.
//
// Queues share one table shape: id, status, priority, scheduled_at,
// started_at, completed_at, attempt_count, last_error, updated_at.
// Dequeue claims rows with FOR UPDATE SKIP LOCKED so several workers can
// poll the same table, failed jobs are rescheduled with quadratic backoff,
// and jobs left in processing by a crashed worker are recovered.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
)

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// QueueConfig contains configuration for a job queue
type QueueConfig struct {
	// TableName is the fully qualified table name (e.g. "crm.sync_jobs")
	TableName string
	// MaxAttempts is the maximum number of attempts (0 = unlimited)
	MaxAttempts int
	// BaseRetryDelay is multiplied by attempt² for the next retry.
	BaseRetryDelay time.Duration
	// MaxRetryDelay caps the retry delay.
	MaxRetryDelay time.Duration
	// BatchSize is the default number of jobs to dequeue at once
	BatchSize int
}

// DefaultQueueConfig returns a QueueConfig with sensible defaults
func DefaultQueueConfig(tableName string) QueueConfig {
	return QueueConfig{
		TableName:      tableName,
		MaxAttempts:    0,
		BaseRetryDelay: time.Minute,
		MaxRetryDelay:  time.Hour,
		BatchSize:      10,
	}
}

// Queue provides base job queue operations using PostgreSQL.
type Queue struct {
	db     bun.IDB
	config QueueConfig
	log    *slog.Logger
}

// NewQueue creates a new job queue with the given configuration
func NewQueue(db bun.IDB, config QueueConfig, log *slog.Logger) *Queue {
	if config.BaseRetryDelay == 0 {
		config.BaseRetryDelay = time.Minute
	}
	if config.MaxRetryDelay == 0 {
		config.MaxRetryDelay = time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	return &Queue{
		db:     db,
		config: config,
		log:    log,
	}
}

// Config returns the effective queue configuration.
func (q *Queue) Config() QueueConfig {
	return q.config
}

func (q *Queue) table() bun.Safe {
	return bun.Safe(q.config.TableName)
}

// Dequeue atomically claims up to batchSize pending jobs whose scheduled
// time has passed, highest priority first.
func (q *Queue) Dequeue(ctx context.Context, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = q.config.BatchSize
	}

	var ids []string
	err := q.db.NewRaw(`
		WITH cte AS (
			SELECT id FROM ?
			WHERE status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= now())
			ORDER BY priority DESC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE ? j
		SET status = 'processing', started_at = now(), updated_at = now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.id`,
		q.table(), batchSize, q.table()).Scan(ctx, &ids)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}

	return ids, nil
}

// MarkCompleted marks a job as completed
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	_, err := q.db.NewRaw(`
		UPDATE ?
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = ?`,
		q.table(), id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}
	return nil
}

// WillRetry reports whether MarkFailed for a job with attemptCount prior
// attempts reschedules it.
func (q *Queue) WillRetry(attemptCount int) bool {
	return q.config.MaxAttempts <= 0 || attemptCount+1 < q.config.MaxAttempts
}

// MarkFailed records a failed attempt. The job is rescheduled with backoff
// unless MaxAttempts is reached, in which case it is failed permanently.
func (q *Queue) MarkFailed(ctx context.Context, id string, attemptCount int, errMsg string) error {
	attempt := attemptCount + 1

	if q.config.MaxAttempts > 0 && attempt >= q.config.MaxAttempts {
		q.log.Warn("job permanently failed after max attempts",
			slog.String("job_id", id),
			slog.Int("attempts", attempt),
			slog.String("error", errMsg))
		return q.markFailed(ctx, id, attempt, errMsg)
	}

	delay := RetryDelay(q.config.BaseRetryDelay, q.config.MaxRetryDelay, attempt)

	_, err := q.db.NewRaw(`
		UPDATE ?
		SET status = 'pending',
			attempt_count = ?,
			last_error = ?,
			started_at = NULL,
			scheduled_at = now() + make_interval(secs => ?),
			updated_at = now()
		WHERE id = ?`,
		q.table(), attempt, truncateError(errMsg), delay.Seconds(), id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark failed (retry) failed: %w", err)
	}

	q.log.Debug("job scheduled for retry",
		slog.String("job_id", id),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	return nil
}

// MarkFailedPermanent fails a job without scheduling a retry.
func (q *Queue) MarkFailedPermanent(ctx context.Context, id string, attemptCount int, errMsg string) error {
	return q.markFailed(ctx, id, attemptCount+1, errMsg)
}

func (q *Queue) markFailed(ctx context.Context, id string, attempt int, errMsg string) error {
	_, err := q.db.NewRaw(`
		UPDATE ?
		SET status = 'failed',
			attempt_count = ?,
			last_error = ?,
			completed_at = now(),
			updated_at = now()
		WHERE id = ?`,
		q.table(), attempt, truncateError(errMsg), id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark failed (permanent) failed: %w", err)
	}
	return nil
}

// RecoverStaleJobs returns jobs stuck in processing for longer than
// threshold to pending. It returns the number of jobs recovered.
func (q *Queue) RecoverStaleJobs(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}

	result, err := q.db.NewRaw(`
		UPDATE ?
		SET status = 'pending', started_at = NULL, scheduled_at = now(), updated_at = now()
		WHERE status = 'processing'
			AND started_at < now() - make_interval(secs => ?)`,
		q.table(), threshold.Seconds()).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs failed: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		q.log.Warn("recovered stale jobs",
			slog.Int64("count", count),
			slog.Duration("threshold", threshold))
	}

	return int(count), nil
}

// Stats represents queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := q.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM ?`, q.table()).Scan(ctx, &stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}
	return stats, nil
}

// RetryDelay returns base * attempt², capped at max.
func RetryDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * time.Duration(attempt*attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// truncateError truncates an error message to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
