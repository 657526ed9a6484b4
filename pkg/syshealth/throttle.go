package syshealth

import (
	"sync"
	"time"
)

// BatchThrottle shrinks a worker's batch size under pressure. Decreases
// apply immediately; increases are gradual, at most doubling once per
// cooldown.
type BatchThrottle struct {
	monitor  Monitor
	name     string
	enabled  bool
	cooldown time.Duration
	now      func() time.Time

	mu        sync.Mutex
	current   int
	lastRaise time.Time
}

// NewBatchThrottle creates a throttle for the named worker.
func NewBatchThrottle(monitor Monitor, name string, cfg *Config) *BatchThrottle {
	return &BatchThrottle{
		monitor:  monitor,
		name:     name,
		enabled:  cfg.Enabled,
		cooldown: cfg.IncreaseCooldown,
		now:      time.Now,
	}
}

// Limit returns how many items the worker may claim when it is configured
// for n. Stale readings count as warning.
func (t *BatchThrottle) Limit(n int) int {
	if !t.enabled || n <= 1 {
		return n
	}

	health := t.monitor.Health()
	zone := health.Zone
	if health.Stale && zone == ZoneSafe {
		zone = ZoneWarning
	}

	target := n
	switch zone {
	case ZoneCritical:
		target = 1
	case ZoneWarning:
		target = max(1, n/2)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	switch {
	case t.current == 0 || t.current > n:
		t.current = target
		t.lastRaise = now
	case target < t.current:
		t.current = target
		t.lastRaise = now
	case target > t.current && now.Sub(t.lastRaise) >= t.cooldown:
		t.current = min(target, t.current*2)
		t.lastRaise = now
	}

	if t.current < n {
		throttledBatches.WithLabelValues(t.name, string(zone)).Inc()
	}
	return t.current
}
