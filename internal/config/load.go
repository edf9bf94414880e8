package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. COMPLIANCE_TASK_MAX_CONCURRENT_TASKS.
const EnvPrefix = "COMPLIANCE"

// defaults holds every key that has a sensible default. Keys without one
// (database.url, auth.jwt_secret) are bound explicitly in Load.
var defaults = map[string]any{
	"server.port":                              8080,
	"server.log_level":                         "info",
	"server.shutdown_timeout_seconds":          15,
	"server.keepalive_interval_seconds":        15,
	"database.max_open_conns":                  10,
	"database.notify_channel":                  "new_task",
	"database.listener_reconnect_delay_seconds": 5,
	"task.poll_interval_seconds":               5,
	"task.max_concurrent_tasks":                3,
	"task.shutdown_grace_period_seconds":       30,
	"task.store_timeout_seconds":               10,
	"tools.base_url":                           "http://localhost:8001",
	"tools.timeout_seconds":                    30,
	"tools.retry_count":                        3,
	"tools.backoff_base_millis":                250,
	"tools.max_backoff_seconds":                5,
	"intent.default_project_id":                1,
	"intent.default_framework":                 "NIST-800-53",
	"intent.default_report_format":             "pdf",
	"telemetry.enabled":                        false,
	"telemetry.service_name":                   "compliance-tasks",
	"telemetry.export_interval_seconds":        60,
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom behaves like Load but looks for config.yaml in dir.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper already knows about
	for _, key := range []string{"database.url", "auth.jwt_secret"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
