package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for arbiter-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords) must
// only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Scryfall holds settings for the rate-limited catalog client.
	Scryfall ScryfallConfig `yaml:"scryfall"`

	// Sync holds bulk synchronization settings.
	Sync SyncConfig `yaml:"sync"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"arbiter"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"arbiter_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ScryfallConfig holds settings for the outbound catalog API client.
// The remote source enforces roughly 10 requests/second, hence the 100ms
// default spacing.
type ScryfallConfig struct {
	BaseURL        string        `yaml:"base_url" env:"SCRYFALL_BASE_URL" env-default:"https://api.scryfall.com"`
	MinInterval    time.Duration `yaml:"min_interval" env:"SCRYFALL_MIN_INTERVAL" env-default:"100ms"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SCRYFALL_REQUEST_TIMEOUT" env-default:"30s"`
	MaxAttempts    int           `yaml:"max_attempts" env:"SCRYFALL_MAX_ATTEMPTS" env-default:"3"`
}

// SyncConfig holds bulk synchronization settings. RuntimeBudget leaves margin
// under serverless execution ceilings; a processing pass self-pauses once it
// is exceeded and relies on the scheduler to resume.
type SyncConfig struct {
	BatchSize     int           `yaml:"batch_size" env:"SYNC_BATCH_SIZE" env-default:"500"`
	RuntimeBudget time.Duration `yaml:"runtime_budget" env:"SYNC_RUNTIME_BUDGET" env-default:"55s"`

	// Schedule is a cron expression for automatic syncs. Empty disables the
	// scheduler; syncs can still be triggered through the API.
	Schedule string `yaml:"schedule" env:"SYNC_SCHEDULE" env-default:""`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFrom is Load with an explicit config file path, used by tests.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scryfall.BaseURL == "" {
		return fmt.Errorf("scryfall base_url must not be empty")
	}
	if c.Scryfall.MinInterval < 0 {
		return fmt.Errorf("scryfall min_interval must not be negative")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch_size must be positive")
	}
	if c.Sync.RuntimeBudget <= 0 {
		return fmt.Errorf("sync runtime_budget must be positive")
	}
	if c.Database.MigrationsPath != "" {
		if _, err := os.Stat(c.Database.MigrationsPath); err != nil {
			return fmt.Errorf("migrations path does not exist: %w", err)
		}
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
