// Package config loads and validates wubwatch configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Countdown CountdownConfig `mapstructure:"countdown"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the local operator HTTP API.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ChannelConfig addresses the push server and tunes reconnection.
type ChannelConfig struct {
	BaseURL                 string `mapstructure:"base_url"`
	ProgressResource        string `mapstructure:"progress_resource"`
	Separator               string `mapstructure:"separator"`
	ReconnectIntervalMs     int    `mapstructure:"reconnect_interval_ms"`
	ReconnectBurst          int    `mapstructure:"reconnect_burst"`
	MaxReconnects           int    `mapstructure:"max_reconnects"`
	HandshakeTimeoutSeconds int    `mapstructure:"handshake_timeout_seconds"`
	ReadLimitBytes          int64  `mapstructure:"read_limit_bytes"`
	EventBuffer             int    `mapstructure:"event_buffer"`
}

// CountdownConfig sets the artifact expiry window.
type CountdownConfig struct {
	WindowMs int `mapstructure:"window_ms"`
	PeriodMs int `mapstructure:"period_ms"`
}

// WatchConfig governs watch sessions.
type WatchConfig struct {
	// SiteURL is the web front end; relative links resolve against it.
	SiteURL      string `mapstructure:"site_url"`
	MaxSessions  int    `mapstructure:"max_sessions"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// MonitorConfig configures the monitoring dashboard client.
type MonitorConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	FeedResource   string `mapstructure:"feed_resource"`
}

// ProgressConfig tunes the session event hub and its sinks.
type ProgressConfig struct {
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	Coalesce      bool                `mapstructure:"coalesce"`
}

// ProgressBatchConfig bounds hub batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WUBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("channel.base_url", "ws://localhost:8889")
	v.SetDefault("channel.progress_resource", "progress")
	v.SetDefault("channel.separator", "/")
	v.SetDefault("channel.reconnect_interval_ms", 1000)
	v.SetDefault("channel.reconnect_burst", 1)
	v.SetDefault("channel.max_reconnects", 10)
	v.SetDefault("channel.handshake_timeout_seconds", 10)
	v.SetDefault("channel.read_limit_bytes", 1<<20)
	v.SetDefault("channel.event_buffer", 64)
	v.SetDefault("countdown.window_ms", 1800000)
	v.SetDefault("countdown.period_ms", 1000)
	v.SetDefault("watch.site_url", "http://localhost:8888/")
	v.SetDefault("watch.max_sessions", 64)
	v.SetDefault("watch.history_limit", 256)
	v.SetDefault("monitor.base_url", "http://localhost:8888/")
	v.SetDefault("monitor.poll_interval_ms", 600000)
	v.SetDefault("monitor.timeout_seconds", 10)
	v.SetDefault("monitor.feed_resource", "monitor")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.coalesce", true)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "wubwatch")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if err := requireURL("channel.base_url", c.Channel.BaseURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Channel.ProgressResource == "" {
		return fmt.Errorf("channel.progress_resource must be set")
	}
	if c.Channel.ReconnectIntervalMs <= 0 {
		return fmt.Errorf("channel.reconnect_interval_ms must be > 0")
	}
	if c.Channel.MaxReconnects < 0 {
		return fmt.Errorf("channel.max_reconnects must be >= 0")
	}
	if c.Countdown.PeriodMs <= 0 {
		return fmt.Errorf("countdown.period_ms must be > 0")
	}
	if c.Countdown.WindowMs < c.Countdown.PeriodMs {
		return fmt.Errorf("countdown.window_ms must be >= countdown.period_ms")
	}
	if err := requireURL("watch.site_url", c.Watch.SiteURL, "http", "https"); err != nil {
		return err
	}
	if c.Watch.MaxSessions <= 0 {
		return fmt.Errorf("watch.max_sessions must be > 0")
	}
	if err := requireURL("monitor.base_url", c.Monitor.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Monitor.PollIntervalMs <= 0 {
		return fmt.Errorf("monitor.poll_interval_ms must be > 0")
	}
	if c.Progress.BufferSize < 0 || c.Progress.Batch.MaxEvents < 0 {
		return fmt.Errorf("progress buffer and batch sizes must be >= 0")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry.service_name must be set when telemetry is enabled")
	}
	return nil
}

func requireURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", key)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use scheme %s", key, strings.Join(schemes, " or "))
}

// ReconnectInterval returns the redial spacing.
func (c ChannelConfig) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMs) * time.Millisecond
}

// HandshakeTimeout returns the WebSocket handshake budget.
func (c ChannelConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

// Window returns the countdown length.
func (c CountdownConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// Period returns the countdown tick period.
func (c CountdownConfig) Period() time.Duration {
	return time.Duration(c.PeriodMs) * time.Millisecond
}

// PollInterval returns the dashboard refresh period.
func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Timeout returns the per-request HTTP budget.
func (c MonitorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown of the HTTP API.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// MaxBatchWait returns the hub flush interval.
func (c ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.Batch.MaxWaitMs) * time.Millisecond
}

// SinkTimeout returns the per-sink flush budget.
func (c ProgressConfig) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutMs) * time.Millisecond
}
