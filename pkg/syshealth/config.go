package syshealth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds monitor thresholds. Percent thresholds apply to the reading
// of the same name; a reading at or above Critical costs the component its
// full weight, at or above Warning half of it.
type Config struct {
	Enabled            bool          `env:"SYSHEALTH_ENABLED" envDefault:"true"`
	CollectionInterval time.Duration `env:"SYSHEALTH_INTERVAL" envDefault:"30s"`
	StalenessThreshold time.Duration `env:"SYSHEALTH_STALE_AFTER" envDefault:"2m"`

	CPUWarningPercent     float64 `env:"SYSHEALTH_CPU_WARNING" envDefault:"200"`
	CPUCriticalPercent    float64 `env:"SYSHEALTH_CPU_CRITICAL" envDefault:"300"`
	MemoryWarningPercent  float64 `env:"SYSHEALTH_MEMORY_WARNING" envDefault:"85"`
	MemoryCriticalPercent float64 `env:"SYSHEALTH_MEMORY_CRITICAL" envDefault:"95"`
	DBPoolWarningPercent  float64 `env:"SYSHEALTH_DB_POOL_WARNING" envDefault:"75"`
	DBPoolCriticalPercent float64 `env:"SYSHEALTH_DB_POOL_CRITICAL" envDefault:"90"`

	// IncreaseCooldown is the minimum time between two batch size increases.
	IncreaseCooldown time.Duration `env:"SYSHEALTH_INCREASE_COOLDOWN" envDefault:"2m"`
}

// NewConfig loads the monitor configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse syshealth config: %w", err)
	}
	return cfg, nil
}
