package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database DatabaseConfig
	Auth     AuthConfig
	Otel     OtelConfig
	CRM      CRMConfig

	// EncryptionKey protects stored CRM credentials (pgcrypto symmetric key).
	EncryptionKey string `env:"CRM_CREDENTIALS_ENCRYPTION_KEY" envDefault:""`

	// Server timeouts. Synchronous syncs can run for minutes.
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15m"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"2m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	CORSAllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`
	BodyLimit        string   `env:"SERVER_BODY_LIMIT" envDefault:"1M"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"nexus"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"nexus"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`

	// SlowQueryThreshold marks queries logged at warn level.
	SlowQueryThreshold time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"3s"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// APIKeys are accepted in the X-API-Key header. Empty disables auth,
	// which is only allowed outside production.
	APIKeys []string `env:"API_KEYS" envSeparator:","`
}

// IsEnabled reports whether requests must present an API key.
func (a *AuthConfig) IsEnabled() bool {
	return len(a.APIKeys) > 0
}

// CRMConfig holds sync engine settings.
type CRMConfig struct {
	// CallTimeout bounds every single provider request.
	CallTimeout time.Duration `env:"CRM_CALL_TIMEOUT" envDefault:"30s"`
	PageSize    int           `env:"CRM_PAGE_SIZE" envDefault:"100"`

	// Retry settings for 429 and 5xx responses.
	MaxRetries     int           `env:"CRM_MAX_RETRIES" envDefault:"4"`
	RetryBaseDelay time.Duration `env:"CRM_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay  time.Duration `env:"CRM_RETRY_MAX_DELAY" envDefault:"30s"`

	// LeaseTTL is how long a sync lease survives without a heartbeat.
	LeaseTTL time.Duration `env:"CRM_SYNC_LEASE_TTL" envDefault:"5m"`

	// CountUnresolvedAsError counts donations and interactions whose donor
	// cannot be resolved as errors instead of skips.
	CountUnresolvedAsError bool `env:"CRM_COUNT_UNRESOLVED_AS_ERROR" envDefault:"false"`

	// Async sync job worker
	WorkerEnabled   bool          `env:"CRM_SYNC_WORKER_ENABLED" envDefault:"true"`
	WorkerInterval  time.Duration `env:"CRM_SYNC_WORKER_INTERVAL" envDefault:"5s"`
	WorkerBatchSize int           `env:"CRM_SYNC_WORKER_BATCH_SIZE" envDefault:"2"`
	JobMaxAttempts  int           `env:"CRM_SYNC_JOB_MAX_ATTEMPTS" envDefault:"3"`

	Salesforce ProviderConfig `envPrefix:"CRM_SALESFORCE_"`
	HubSpot    ProviderConfig `envPrefix:"CRM_HUBSPOT_"`
	Bloomerang ProviderConfig `envPrefix:"CRM_BLOOMERANG_"`
	NeonOne    ProviderConfig `envPrefix:"CRM_NEONONE_"`
}

// ProviderConfig holds per-provider overrides.
type ProviderConfig struct {
	// BaseURL overrides the provider's public API endpoint. Empty keeps the default.
	BaseURL string `env:"BASE_URL" envDefault:""`
	// RequestDelay is the fixed delay applied before every call to the provider.
	RequestDelay time.Duration `env:"REQUEST_DELAY" envDefault:"100ms"`
}

// Provider returns the settings for a provider by source name.
func (c *CRMConfig) Provider(source string) ProviderConfig {
	switch source {
	case "salesforce":
		return c.Salesforce
	case "hubspot":
		return c.HubSpot
	case "bloomerang":
		return c.Bloomerang
	case "neonone":
		return c.NeonOne
	default:
		return ProviderConfig{RequestDelay: 100 * time.Millisecond}
	}
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.Bool("auth_enabled", cfg.Auth.IsEnabled()),
		slog.Duration("crm_call_timeout", cfg.CRM.CallTimeout),
	)

	return cfg, nil
}

// Validate rejects configurations the server cannot run safely with.
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if !c.Auth.IsEnabled() {
			return fmt.Errorf("API_KEYS must be set in production")
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("CRM_CREDENTIALS_ENCRYPTION_KEY must be set in production")
		}
	}
	if c.CRM.PageSize <= 0 {
		return fmt.Errorf("CRM_PAGE_SIZE must be positive, got %d", c.CRM.PageSize)
	}
	if c.CRM.CallTimeout <= 0 {
		return fmt.Errorf("CRM_CALL_TIMEOUT must be positive")
	}
	return nil
}
