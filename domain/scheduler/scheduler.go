// Package scheduler runs periodic maintenance and automatic sync tasks on
// robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/nexus-fundraising/nexus/pkg/logger"
)

var (
	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "scheduler",
		Name:      "task_runs_total",
		Help:      "Scheduled task runs by outcome.",
	}, []string{"task", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "Scheduled task run time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task"})
)

// TaskFunc is the function signature for scheduled tasks
type TaskFunc func(ctx context.Context) error

// Scheduler manages named tasks on a cron with seconds precision. A task
// that is still running when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron        *cron.Cron
	log         *slog.Logger
	taskTimeout time.Duration
	tasks       map[string]cron.EntryID
	schedules   map[string]string
	mu          sync.RWMutex
	running     bool
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *Config, log *slog.Logger) *Scheduler {
	log = log.With(logger.Scope("scheduler"))
	cl := cronLogger{log: log}

	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:         log,
		taskTimeout: timeout,
		tasks:       make(map[string]cron.EntryID),
		schedules:   make(map[string]string),
	}
}

// Start begins the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop waits for running tasks until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timeout")
	}

	s.running = false
	return nil
}

// Add registers task under name. schedule is a cron expression; when it
// is empty the task runs every interval.
func (s *Scheduler) Add(name, schedule string, interval time.Duration, task TaskFunc) error {
	if schedule == "" {
		if interval <= 0 {
			return fmt.Errorf("task %s: interval must be positive", name)
		}
		schedule = "@every " + interval.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		delete(s.schedules, name)
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.runTask(name, task)
	})
	if err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}

	s.tasks[name] = entryID
	s.schedules[name] = schedule
	s.log.Info("added task",
		slog.String("name", name),
		slog.String("schedule", schedule))
	return nil
}

// RemoveTask removes a scheduled task
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		delete(s.schedules, name)
		s.log.Info("removed task", slog.String("name", name))
	}
}

// RunNow runs a registered task synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string, task TaskFunc) error {
	return s.execute(ctx, name, task)
}

func (s *Scheduler) runTask(name string, task TaskFunc) {
	if err := s.execute(context.Background(), name, task); err != nil {
		s.log.Error("scheduled task failed",
			slog.String("name", name),
			logger.Error(err))
	}
}

func (s *Scheduler) execute(ctx context.Context, name string, task TaskFunc) error {
	ctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	start := time.Now()
	err := task(ctx)
	taskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	taskRuns.WithLabelValues(name, outcome).Inc()

	s.log.Debug("scheduled task finished",
		slog.String("name", name),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(start)))
	return err
}

// ListTasks returns the sorted names of all scheduled tasks
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskInfo represents information about a scheduled task
type TaskInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"nextRun"`
	PrevRun  time.Time `json:"prevRun,omitempty"`
}

// GetTaskInfo returns information about all scheduled tasks, sorted by name
func (s *Scheduler) GetTaskInfo() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]TaskInfo, 0, len(s.tasks))
	for name, entryID := range s.tasks {
		entry := s.cron.Entry(entryID)
		info = append(info, TaskInfo{
			Name:     name,
			Schedule: s.schedules[name],
			NextRun:  entry.Next,
			PrevRun:  entry.Prev,
		})
	}
	sort.Slice(info, func(i, j int) bool { return info[i].Name < info[j].Name })
	return info
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, logger.Error(err))...)
}
