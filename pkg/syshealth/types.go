// Package syshealth scores host and database pool pressure and throttles
// background sync work when the process is under load.
package syshealth

import (
	"context"
	"time"
)

// Zone is the pressure band a score falls in.
type Zone string

const (
	ZoneSafe     Zone = "safe"
	ZoneWarning  Zone = "warning"
	ZoneCritical Zone = "critical"
)

// Metrics is one collection of system readings and the resulting score.
type Metrics struct {
	// Score runs from 0 (saturated) to 100 (idle).
	Score int  `json:"score"`
	Zone  Zone `json:"zone"`

	// CPULoadPercent is the 1-minute load average per core, in percent.
	CPULoadPercent float64 `json:"cpuLoadPercent"`
	MemoryPercent  float64 `json:"memoryPercent"`
	DBPoolPercent  float64 `json:"dbPoolPercent"`

	CollectedAt time.Time `json:"collectedAt"`
	Stale       bool      `json:"stale"`
}

// Monitor collects metrics in the background.
type Monitor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() Metrics
}

func zoneFor(score int) Zone {
	switch {
	case score <= 33:
		return ZoneCritical
	case score <= 66:
		return ZoneWarning
	default:
		return ZoneSafe
	}
}
