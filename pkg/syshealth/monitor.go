package syshealth

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nexus-fundraising/nexus/pkg/logger"
)

// Component weights in the score; they sum to 100.
const (
	weightCPU    = 40.0
	weightDBPool = 35.0
	weightMemory = 25.0
)

type monitor struct {
	cfg *Config
	log *slog.Logger

	mu      sync.RWMutex
	metrics Metrics
	failing int

	stopCh chan struct{}
	done   chan struct{}

	loadAvg   func(context.Context) (*load.AvgStat, error)
	memStats  func(context.Context) (*mem.VirtualMemoryStat, error)
	cpuCores  func() int
	poolUsage func() (inUse, limit int32)
	now       func() time.Time
}

// NewMonitor creates a monitor over the host and the pgx pool. pool may be
// nil, in which case the pool reading stays at zero.
func NewMonitor(cfg *Config, pool *pgxpool.Pool, log *slog.Logger) Monitor {
	return newMonitor(cfg, pool, log)
}

func newMonitor(cfg *Config, pool *pgxpool.Pool, log *slog.Logger) *monitor {
	m := &monitor{
		cfg:      cfg,
		log:      log.With(logger.Scope("syshealth")),
		metrics:  Metrics{Score: 100, Zone: ZoneSafe},
		loadAvg:  load.AvgWithContext,
		memStats: mem.VirtualMemoryWithContext,
		cpuCores: runtime.NumCPU,
		now:      time.Now,
	}
	if pool != nil {
		m.poolUsage = func() (int32, int32) {
			s := pool.Stat()
			return s.AcquiredConns(), s.MaxConns()
		}
	}
	return m
}

// Start collects once, then on every interval until Stop.
func (m *monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return nil
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})

	go m.loop(m.stopCh, m.done)
	m.log.Info("system health monitor started", slog.Duration("interval", m.cfg.CollectionInterval))
	return nil
}

func (m *monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CollectionInterval)
	defer ticker.Stop()

	m.collect(context.Background())
	for {
		select {
		case <-ticker.C:
			m.collect(context.Background())
		case <-stop:
			return
		}
	}
}

// Stop ends the collection loop.
func (m *monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	stop, done := m.stopCh, m.done
	m.stopCh, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.log.Info("system health monitor stopped")
	return nil
}

// Health returns the latest metrics, marked stale when collection has not
// succeeded recently.
func (m *monitor) Health() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.metrics
	if out.CollectedAt.IsZero() || m.now().Sub(out.CollectedAt) > m.cfg.StalenessThreshold {
		out.Stale = true
	}
	return out
}

func (m *monitor) collect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m.mu.RLock()
	next := m.metrics
	m.mu.RUnlock()

	ok := true
	if avg, err := m.loadAvg(ctx); err == nil {
		cores := m.cpuCores()
		if cores < 1 {
			cores = 1
		}
		next.CPULoadPercent = avg.Load1 / float64(cores) * 100
	} else {
		ok = false
		m.log.Warn("failed to read load average", logger.Error(err))
	}

	if vm, err := m.memStats(ctx); err == nil {
		next.MemoryPercent = vm.UsedPercent
	} else {
		ok = false
		m.log.Warn("failed to read memory stats", logger.Error(err))
	}

	if m.poolUsage != nil {
		if inUse, limit := m.poolUsage(); limit > 0 {
			next.DBPoolPercent = float64(inUse) / float64(limit) * 100
		}
	}

	penalty := weightCPU*pressure(next.CPULoadPercent, m.cfg.CPUWarningPercent, m.cfg.CPUCriticalPercent) +
		weightDBPool*pressure(next.DBPoolPercent, m.cfg.DBPoolWarningPercent, m.cfg.DBPoolCriticalPercent) +
		weightMemory*pressure(next.MemoryPercent, m.cfg.MemoryWarningPercent, m.cfg.MemoryCriticalPercent)
	next.Score = max(0, 100-int(penalty))
	next.Zone = zoneFor(next.Score)

	m.mu.Lock()
	previous := m.metrics.Zone
	if ok {
		m.failing = 0
		next.CollectedAt = m.now()
		next.Stale = false
	} else {
		m.failing++
		if m.failing >= 3 {
			m.log.Error("system metrics unavailable", slog.Int("consecutive_failures", m.failing))
		}
	}
	m.metrics = next
	m.mu.Unlock()

	if next.Zone != previous {
		m.log.Warn("system health zone changed",
			slog.String("from", string(previous)),
			slog.String("to", string(next.Zone)),
			slog.Int("score", next.Score))
	}

	healthScore.Set(float64(next.Score))
	readings.WithLabelValues("cpu").Set(next.CPULoadPercent)
	readings.WithLabelValues("memory").Set(next.MemoryPercent)
	readings.WithLabelValues("db_pool").Set(next.DBPoolPercent)
}

// pressure maps a reading to 0, 0.5 or 1.
func pressure(value, warning, critical float64) float64 {
	switch {
	case value >= critical:
		return 1
	case value >= warning:
		return 0.5
	default:
		return 0
	}
}
