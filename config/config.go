// Package config loads runtime settings from CLINIC_* environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/songzhibin97/clinic-intake/types"
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config holds the settings for one process. Storage "memory" keeps
// appointments for the life of the process only.
type Config struct {
	Storage       string        `mapstructure:"storage"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	InitialStatus string        `mapstructure:"initial_status"`
	SubmitLatency time.Duration `mapstructure:"submit_latency"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	CatalogFile   string        `mapstructure:"catalog_file"`
	LogLevel      string        `mapstructure:"log_level"`
	LogPretty     bool          `mapstructure:"log_pretty"`
	MachineID     uint16        `mapstructure:"machine_id"`
}

var keys = []string{
	"storage",
	"redis_addr",
	"redis_password",
	"redis_db",
	"initial_status",
	"submit_latency",
	"submit_timeout",
	"catalog_file",
	"log_level",
	"log_pretty",
	"machine_id",
}

// Load reads the configuration. file may be empty; when set it must exist.
// Environment variables override file values.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLINIC")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("storage", StorageMemory)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("initial_status", string(types.StatusConfirmed))
	v.SetDefault("submit_latency", "1.5s")
	v.SetDefault("submit_timeout", "10s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("machine_id", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Status returns the configured status for new appointments.
func (c *Config) Status() types.AppointmentStatus {
	return types.AppointmentStatus(c.InitialStatus)
}

// Validate checks that the configuration can be run.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("CLINIC_REDIS_ADDR is required when CLINIC_STORAGE is %q", StorageRedis)
		}
	default:
		return fmt.Errorf("CLINIC_STORAGE must be %q or %q, got %q", StorageMemory, StorageRedis, c.Storage)
	}

	if s := c.Status(); s != types.StatusConfirmed && s != types.StatusPending {
		return fmt.Errorf("CLINIC_INITIAL_STATUS must be %q or %q, got %q", types.StatusConfirmed, types.StatusPending, c.InitialStatus)
	}
	if c.SubmitLatency < 0 {
		return fmt.Errorf("CLINIC_SUBMIT_LATENCY cannot be negative, got %s", c.SubmitLatency)
	}
	if c.SubmitTimeout <= c.SubmitLatency {
		return fmt.Errorf("CLINIC_SUBMIT_TIMEOUT (%s) must exceed CLINIC_SUBMIT_LATENCY (%s)", c.SubmitTimeout, c.SubmitLatency)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("CLINIC_LOG_LEVEL: %w", err)
	}
	return nil
}
