package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
	Tools     ToolsConfig     `mapstructure:"tools" validate:"required"`
	Intent    IntentConfig    `mapstructure:"intent" validate:"required"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// ShutdownTimeoutSeconds bounds HTTP server shutdown
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"gte=0"`

	// KeepaliveIntervalSeconds is how often idle event streams get a keepalive event
	KeepaliveIntervalSeconds int `mapstructure:"keepalive_interval_seconds" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`

	// NotifyChannel is the LISTEN/NOTIFY channel new task rows are announced on
	NotifyChannel string `mapstructure:"notify_channel" validate:"required"`

	// ListenerReconnectDelaySeconds is the pause before re-establishing a dropped listener
	ListenerReconnectDelaySeconds int `mapstructure:"listener_reconnect_delay_seconds" validate:"gt=0"`
}

// AuthConfig contains the settings used to identify the calling principal.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// TaskConfig controls the background task worker.
type TaskConfig struct {
	PollIntervalSeconds        int `mapstructure:"poll_interval_seconds" validate:"gt=0"`
	MaxConcurrentTasks         int `mapstructure:"max_concurrent_tasks" validate:"gt=0"`
	ShutdownGracePeriodSeconds int `mapstructure:"shutdown_grace_period_seconds" validate:"gte=0"`
	StoreTimeoutSeconds        int `mapstructure:"store_timeout_seconds" validate:"gt=0"`
}

// ToolsConfig configures the client for the remote tool-execution service.
type ToolsConfig struct {
	BaseURL           string `mapstructure:"base_url" validate:"required,url"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" validate:"gt=0"`
	RetryCount        int    `mapstructure:"retry_count" validate:"gt=0"`
	BackoffBaseMillis int    `mapstructure:"backoff_base_millis" validate:"gt=0"`
	MaxBackoffSeconds int    `mapstructure:"max_backoff_seconds" validate:"gt=0"`
}

// IntentConfig holds the defaults applied when a request leaves context out.
type IntentConfig struct {
	DefaultProjectID    int64  `mapstructure:"default_project_id" validate:"gt=0"`
	DefaultFramework    string `mapstructure:"default_framework" validate:"required"`
	DefaultReportFormat string `mapstructure:"default_report_format" validate:"omitempty,oneof=pdf docx xlsx csv markdown"`
}

// TelemetryConfig controls metric export.
type TelemetryConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	ServiceName           string `mapstructure:"service_name"`
	ExportIntervalSeconds int    `mapstructure:"export_interval_seconds" validate:"gte=0"`
}

// PollInterval returns the worker's fallback poll interval.
func (c TaskConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ShutdownGracePeriod returns how long in-flight tasks may run after Stop.
func (c TaskConfig) ShutdownGracePeriod() time.Duration {
	return time.Duration(c.ShutdownGracePeriodSeconds) * time.Second
}

// StoreTimeout returns the per-write timeout used by the worker.
func (c TaskConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// Timeout returns the per-request timeout for tool calls.
func (c ToolsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (c ToolsConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

// MaxBackoff caps the retry delay.
func (c ToolsConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// ListenerReconnectDelay returns the pause before reconnecting the listener.
func (c DatabaseConfig) ListenerReconnectDelay() time.Duration {
	return time.Duration(c.ListenerReconnectDelaySeconds) * time.Second
}

// ShutdownTimeout returns the HTTP server shutdown bound.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// KeepaliveInterval returns the event stream keepalive period.
func (c ServerConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalSeconds) * time.Second
}

// ExportInterval returns the metric export period.
func (c TelemetryConfig) ExportInterval() time.Duration {
	return time.Duration(c.ExportIntervalSeconds) * time.Second
}
