package scheduler

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds scheduler configuration. A non-empty *Schedule field is a
// cron expression with seconds ("0 */5 * * * *") and takes precedence over
// the matching interval.
type Config struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	// AutoSync enqueues sync jobs for integrations whose interval elapsed.
	AutoSyncInterval time.Duration `env:"CRM_AUTO_SYNC_CHECK_INTERVAL" envDefault:"1m"`
	AutoSyncSchedule string        `env:"CRM_AUTO_SYNC_SCHEDULE" envDefault:""`

	// LeaseCleanup deletes expired sync leases.
	LeaseCleanupInterval time.Duration `env:"CRM_LEASE_CLEANUP_INTERVAL" envDefault:"5m"`
	LeaseCleanupSchedule string        `env:"CRM_LEASE_CLEANUP_SCHEDULE" envDefault:""`

	// StuckSyncRecovery resets integrations and jobs abandoned by a crashed
	// process.
	StuckSyncRecoveryInterval time.Duration `env:"CRM_STUCK_SYNC_RECOVERY_INTERVAL" envDefault:"5m"`
	StuckSyncRecoverySchedule string        `env:"CRM_STUCK_SYNC_RECOVERY_SCHEDULE" envDefault:""`
	// StaleJobThreshold is how long a job may stay processing.
	StaleJobThreshold time.Duration `env:"CRM_STALE_JOB_THRESHOLD" envDefault:"30m"`

	// TaskTimeout bounds a single task run.
	TaskTimeout time.Duration `env:"SCHEDULER_TASK_TIMEOUT" envDefault:"10m"`
}

// NewConfig loads the scheduler configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scheduler config: %w", err)
	}
	return cfg, nil
}
