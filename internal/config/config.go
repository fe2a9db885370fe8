package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Notifier NotifierConfig `mapstructure:"notifier"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type WebhookConfig struct {
	// Secret is the shared bearer token required on mutation endpoints and
	// handed to launched workers for their callbacks.
	Secret string `mapstructure:"secret"`
}

// WorkerConfig describes the Cloud Run Jobs runtime the orchestrator
// launches workers on.
type WorkerConfig struct {
	Project string `mapstructure:"project"`
	Region  string `mapstructure:"region"`
	JobName string `mapstructure:"job_name"`
	DryRun  bool   `mapstructure:"dry_run"`

	// OrchestratorURL is this service's externally reachable base URL,
	// handed to workers so they can post callback events.
	OrchestratorURL string `mapstructure:"orchestrator_url"`
}

type DispatchConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
}

type RecoveryConfig struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type NotifierConfig struct {
	URL    string `mapstructure:"url"`
	Bearer string `mapstructure:"bearer"`
}

// Load reads configuration from environment variables (with optional .env
// file) and validates the required settings.
// Parameters: none.
// Returns:
//   - *Config: populated configuration.
//   - error: non-nil if reading, unmarshaling, or validation fails.
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("worker.job_name", "prd-worker")
	v.SetDefault("worker.dry_run", false)
	v.SetDefault("dispatch.poll_interval_ms", 5000)
	v.SetDefault("dispatch.max_concurrent_jobs", 5)
	v.SetDefault("recovery.stale_after_minutes", 30)
	v.SetDefault("recovery.sweep_interval_minutes", 5)

	// Bind the documented environment variable names
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.mode", "GIN_MODE")
	v.BindEnv("server.cors.allowed_origins", "CORS_ALLOWED_ORIGINS")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("webhook.secret", "WEBHOOK_SECRET")
	v.BindEnv("worker.project", "CLOUD_RUN_PROJECT")
	v.BindEnv("worker.region", "CLOUD_RUN_REGION")
	v.BindEnv("worker.job_name", "CLOUD_RUN_JOB")
	v.BindEnv("worker.dry_run", "DRY_RUN")
	v.BindEnv("worker.orchestrator_url", "ORCHESTRATOR_URL")
	v.BindEnv("dispatch.poll_interval_ms", "POLL_INTERVAL_MS")
	v.BindEnv("dispatch.max_concurrent_jobs", "MAX_CONCURRENT_JOBS")
	v.BindEnv("recovery.stale_after_minutes", "STALE_AFTER_MINUTES")
	v.BindEnv("recovery.sweep_interval_minutes", "SWEEP_INTERVAL_MINUTES")
	v.BindEnv("notifier.url", "NOTIFIER_URL")
	v.BindEnv("notifier.bearer", "NOTIFIER_BEARER")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Durations carried as scalar env vars
	cfg.Dispatch.PollInterval = time.Duration(v.GetInt("dispatch.poll_interval_ms")) * time.Millisecond
	cfg.Recovery.StaleAfter = time.Duration(v.GetInt("recovery.stale_after_minutes")) * time.Minute
	cfg.Recovery.SweepInterval = time.Duration(v.GetInt("recovery.sweep_interval_minutes")) * time.Minute

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate enforces the required settings; worker runtime coordinates are
// only required when dry-run is off.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if c.Worker.OrchestratorURL == "" {
		return fmt.Errorf("ORCHESTRATOR_URL is required")
	}
	if !c.Worker.DryRun {
		if c.Worker.Project == "" || c.Worker.Region == "" {
			return fmt.Errorf("CLOUD_RUN_PROJECT and CLOUD_RUN_REGION are required unless DRY_RUN=true")
		}
	}
	return nil
}
