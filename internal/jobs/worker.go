package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerConfig configures a polling worker.
type WorkerConfig struct {
	Name         string
	PollInterval time.Duration // default 5s
	BatchSize    int           // default 10
	// StaleThreshold is how long a job may stay processing before recovery
	// hands it out again (default 10m).
	StaleThreshold time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with the defaults applied.
func DefaultWorkerConfig(name string) WorkerConfig {
	return WorkerConfig{Name: name}.withDefaults()
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 10 * time.Minute
	}
	return c
}

// Outcome is the result of one processed job.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	// OutcomeRetried is a failure that was put back on the queue.
	OutcomeRetried
)

// Worker calls a process function on every poll tick. Ticks never overlap;
// Stop cancels the loop and waits for the tick in flight.
type Worker struct {
	config  WorkerConfig
	log     *slog.Logger
	process func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	lastPoll  atomic.Int64 // unix nanos
}

// NewWorker creates a worker. Zero config values get their defaults.
func NewWorker(config WorkerConfig, log *slog.Logger, process func(ctx context.Context) error) *Worker {
	config = config.withDefaults()
	return &Worker{
		config:  config,
		log:     log.With(slog.String("worker", config.Name)),
		process: process,
	}
}

// Config returns the effective worker configuration.
func (w *Worker) Config() WorkerConfig {
	return w.config
}

// Start runs the poll loop until Stop is called or ctx ends. The first
// poll happens one interval after Start.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.log.Info("worker starting",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize))

	go w.loop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for it until ctx is done.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		w.log.Info("worker stopped")
	case <-ctx.Done():
		w.log.Warn("worker stop timed out with a batch in flight")
	}
	return nil
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.lastPoll.Store(time.Now().UnixNano())
			if err := w.process(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("process batch failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Record counts one processed job.
func (w *Worker) Record(o Outcome) {
	switch o {
	case OutcomeSucceeded:
		w.succeeded.Add(1)
	case OutcomeRetried:
		w.retried.Add(1)
	default:
		w.failed.Add(1)
	}
}

// Metrics returns the worker's counters.
func (w *Worker) Metrics() WorkerMetrics {
	m := WorkerMetrics{
		Succeeded: w.succeeded.Load(),
		Failed:    w.failed.Load(),
		Retried:   w.retried.Load(),
	}
	m.Processed = m.Succeeded + m.Failed + m.Retried
	if ns := w.lastPoll.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		m.LastPollAt = &t
	}
	return m
}

// IsRunning returns whether the poll loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// WorkerMetrics contains worker counters. Processed is the sum of the
// other three.
type WorkerMetrics struct {
	Processed  int64      `json:"processed"`
	Succeeded  int64      `json:"succeeded"`
	Failed     int64      `json:"failed"`
	Retried    int64      `json:"retried"`
	LastPollAt *time.Time `json:"lastPollAt,omitempty"`
}
