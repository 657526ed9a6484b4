package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"short message", "short error", "short error"},
		{"exactly 500 characters", strings.Repeat("a", 500), strings.Repeat("a", 500)},
		{"501 characters truncated to 500", strings.Repeat("a", 501), strings.Repeat("a", 500)},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateError(tt.msg)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), 500)
		})
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 1, time.Minute},
		{"second attempt", 2, 4 * time.Minute},
		{"third attempt", 3, 9 * time.Minute},
		{"capped", 20, time.Hour},
		{"zero treated as first", 0, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryDelay(time.Minute, time.Hour, tt.attempt))
		})
	}
}

func TestNewQueue_AppliesDefaults(t *testing.T) {
	q := NewQueue(nil, QueueConfig{TableName: "crm.sync_jobs"}, slog.Default())

	cfg := q.Config()
	assert.Equal(t, "crm.sync_jobs", cfg.TableName)
	assert.Equal(t, time.Minute, cfg.BaseRetryDelay)
	assert.Equal(t, time.Hour, cfg.MaxRetryDelay)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 0, cfg.MaxAttempts)
}

func TestQueue_WillRetry(t *testing.T) {
	unlimited := NewQueue(nil, QueueConfig{TableName: "crm.sync_jobs"}, slog.Default())
	assert.True(t, unlimited.WillRetry(100))

	capped := NewQueue(nil, QueueConfig{TableName: "crm.sync_jobs", MaxAttempts: 3}, slog.Default())
	assert.True(t, capped.WillRetry(0))
	assert.True(t, capped.WillRetry(1))
	assert.False(t, capped.WillRetry(2), "third attempt is the last")
}

func TestDefaultQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig("crm.sync_jobs")
	assert.Equal(t, "crm.sync_jobs", cfg.TableName)
	assert.Equal(t, 10, cfg.BatchSize)
}

func TestWorker_PollsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	w := NewWorker(WorkerConfig{Name: "test", PollInterval: 5 * time.Millisecond}, slog.Default(),
		func(ctx context.Context) error {
			calls.Add(1)
			return nil
		})

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.IsRunning())

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no polls after stop")
}

func TestWorker_ProcessErrorsDoNotStopLoop(t *testing.T) {
	var calls atomic.Int32
	w := NewWorker(WorkerConfig{Name: "failing", PollInterval: 5 * time.Millisecond}, slog.Default(),
		func(ctx context.Context) error {
			calls.Add(1)
			return errors.New("boom")
		})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestWorker_Metrics(t *testing.T) {
	w := NewWorker(DefaultWorkerConfig("m"), slog.Default(), func(context.Context) error { return nil })
	assert.Nil(t, w.Metrics().LastPollAt)

	w.Record(OutcomeSucceeded)
	w.Record(OutcomeSucceeded)
	w.Record(OutcomeFailed)
	w.Record(OutcomeRetried)

	m := w.Metrics()
	assert.Equal(t, int64(4), m.Processed)
	assert.Equal(t, int64(2), m.Succeeded)
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(1), m.Retried)
}

func TestWorker_RecordsLastPoll(t *testing.T) {
	w := NewWorker(WorkerConfig{Name: "poll", PollInterval: 5 * time.Millisecond}, slog.Default(),
		func(context.Context) error { return nil })

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	assert.Eventually(t, func() bool { return w.Metrics().LastPollAt != nil }, time.Second, 5*time.Millisecond)
}

func TestWorker_StopWithoutStart(t *testing.T) {
	w := NewWorker(DefaultWorkerConfig("idle"), slog.Default(), func(context.Context) error { return nil })
	assert.NoError(t, w.Stop(context.Background()))
	assert.False(t, w.IsRunning())
}

func TestWorker_RestartAfterStop(t *testing.T) {
	var calls atomic.Int32
	w := NewWorker(WorkerConfig{Name: "restart", PollInterval: 5 * time.Millisecond}, slog.Default(),
		func(context.Context) error {
			calls.Add(1)
			return nil
		})

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(context.Background()))
	before := calls.Load()

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() > before }, time.Second, 5*time.Millisecond)
}
