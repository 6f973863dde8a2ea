// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package config loads and validates the daemon configuration from YAML,
// FEEDFUSE_* environment variables, and built-in defaults, with ascending
// precedence: defaults, file, environment.
package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/spf13/viper"
)

// Provider adapter types understood by the wire layer's factory map.
// Unknown types are not a config error; the wire layer warns and skips them.
const (
	ProviderTypeSim  = "sim"
	ProviderTypeHTTP = "http"
)

// Config is the top-level Feedfuse configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Providers []ProviderConfig `mapstructure:"providers"`
	Failover  FailoverConfig   `mapstructure:"failover"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Breaker   BreakerConfig    `mapstructure:"breaker"`
	Quality   QualityConfig    `mapstructure:"quality"`
	Monitor   MonitorConfig    `mapstructure:"monitor"`
	Log       LogConfig        `mapstructure:"log"`

	// Path is the config file actually read, empty when running on
	// defaults and environment alone.
	Path string `mapstructure:"-"`
}

// ServerConfig controls the ops/diagnostics HTTP listener.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

// ProviderConfig declares one upstream provider adapter.
type ProviderConfig struct {
	Name     string    `mapstructure:"name"`
	Type     string    `mapstructure:"type"`
	Priority int       `mapstructure:"priority"`
	APIKey   string    `mapstructure:"api_key"`
	BaseURL  string    `mapstructure:"base_url"`
	Weight   float64   `mapstructure:"weight"`
	Sim      SimConfig `mapstructure:"sim"`
}

// SimConfig holds the simulated adapter's behavior knobs.
type SimConfig struct {
	FailureRate float64 `mapstructure:"failure_rate"`
	LatencyMS   int     `mapstructure:"latency_ms"`
}

// FailoverConfig controls the fetch orchestrator.
type FailoverConfig struct {
	Strategy           string `mapstructure:"strategy"`
	ConflictResolution string `mapstructure:"conflict_resolution"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-provider call timeout.
func (f FailoverConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// CacheConfig selects and tunes the result cache backend.
type CacheConfig struct {
	Backend    string `mapstructure:"backend"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	RedisURL   string `mapstructure:"redis_url"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// BreakerConfig sets the registry-wide circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold       int `mapstructure:"failure_threshold"`
	RecoveryTimeoutSeconds int `mapstructure:"recovery_timeout_seconds"`
}

// RecoveryTimeout returns how long an open breaker denies calls.
func (b BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(b.RecoveryTimeoutSeconds) * time.Second
}

// QualityConfig tunes result quality scoring.
type QualityConfig struct {
	Threshold  float64 `mapstructure:"threshold"`
	TrustTable string  `mapstructure:"trust_table"`
}

// MonitorConfig tunes the background health monitor.
type MonitorConfig struct {
	IntervalSeconds       int             `mapstructure:"interval_seconds"`
	ProbeTimeoutSeconds   int             `mapstructure:"probe_timeout_seconds"`
	RetentionHours        int             `mapstructure:"retention_hours"`
	Windows               []int           `mapstructure:"windows"`
	MaxConcurrentProbes   int             `mapstructure:"max_concurrent_probes"`
	RestartBackoffSeconds int             `mapstructure:"restart_backoff_seconds"`
	Alerts                AlertThresholds `mapstructure:"alerts"`
}

// Interval returns the monitoring poll period.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe deadline.
func (m MonitorConfig) ProbeTimeout() time.Duration {
	return time.Duration(m.ProbeTimeoutSeconds) * time.Second
}

// Retention returns how long probe history is kept.
func (m MonitorConfig) Retention() time.Duration {
	return time.Duration(m.RetentionHours) * time.Hour
}

// RestartBackoff returns the supervisor's delay before reviving a crashed
// monitoring loop.
func (m MonitorConfig) RestartBackoff() time.Duration {
	return time.Duration(m.RestartBackoffSeconds) * time.Second
}

// AlertThresholds configures when the monitor raises alerts.
type AlertThresholds struct {
	WarningFailureRate   float64 `mapstructure:"warning_failure_rate"`
	CriticalFailureRate  float64 `mapstructure:"critical_failure_rate"`
	WarningLatencyMS     float64 `mapstructure:"warning_latency_ms"`
	CriticalLatencyMS    float64 `mapstructure:"critical_latency_ms"`
	CriticalConsecutive  int     `mapstructure:"critical_consecutive"`
	EmergencyConsecutive int     `mapstructure:"emergency_consecutive"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel maps the configured level name onto slog. Validate guarantees
// the name is one of the known levels.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setDefaults registers every built-in default on v. Load and Default share
// this single source of truth.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8710)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 20)

	v.SetDefault("failover.strategy", "fast_fail")
	v.SetDefault("failover.conflict_resolution", "primary_wins")
	v.SetDefault("failover.timeout_seconds", 30)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_seconds", 300)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout_seconds", 300)

	v.SetDefault("quality.threshold", 0.8)

	v.SetDefault("monitor.interval_seconds", 30)
	v.SetDefault("monitor.probe_timeout_seconds", 5)
	v.SetDefault("monitor.retention_hours", 24)
	v.SetDefault("monitor.windows", []int{5, 15, 60, 240})
	v.SetDefault("monitor.max_concurrent_probes", 4)
	v.SetDefault("monitor.restart_backoff_seconds", 10)
	v.SetDefault("monitor.alerts.warning_failure_rate", 0.3)
	v.SetDefault("monitor.alerts.critical_failure_rate", 0.6)
	v.SetDefault("monitor.alerts.warning_latency_ms", 2500)
	v.SetDefault("monitor.alerts.critical_latency_ms", 5000)
	v.SetDefault("monitor.alerts.critical_consecutive", 3)
	v.SetDefault("monitor.alerts.emergency_consecutive", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the given path with environment variable
// overrides (prefix FEEDFUSE_). An empty path searches the working
// directory, ~/.config/feedfuse, and /etc/feedfuse; running without any
// config file is fine, the providers then come from the environment or
// nowhere (which Validate reports).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FEEDFUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fferr.Errorf(fferr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("feedfuse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/feedfuse")
		v.AddConfigPath("/etc/feedfuse")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fferr.Errorf(fferr.CodeConfigParseInvalidFormat, "reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fferr.Errorf(fferr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fferr.Errorf(fferr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Default returns the built-in configuration plus the demo sim providers,
// the same setup the bootstrapped config file describes.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Unmarshalling pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)

	cfg.Providers = []ProviderConfig{
		{Name: "sim-primary", Type: ProviderTypeSim, Priority: 1, Weight: 1.0, Sim: SimConfig{LatencyMS: 15}},
		{Name: "sim-backup", Type: ProviderTypeSim, Priority: 2, Weight: 0.8, Sim: SimConfig{FailureRate: 0.25, LatencyMS: 40}},
	}
	return &cfg
}

// Validate checks the configuration for logical errors. It returns every
// problem found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateFailover()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateBreaker()...)
	errs = append(errs, c.validateQuality()...)
	errs = append(errs, c.validateMonitor()...)
	errs = append(errs, c.validateLog()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Host == "" {
		errs = append(errs, fferr.New(fferr.CodeConfigValidateInvalidValue, "config: server.host must not be empty"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit_rps must not be negative, got %v", c.Server.RateLimitRPS))
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit_burst must be at least 1 when rate limiting is enabled, got %d", c.Server.RateLimitBurst))
	}

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, fferr.New(fferr.CodeConfigValidateInvalidValue,
			"config: providers must list at least one provider"))
		return errs
	}

	names := make(map[string]bool, len(c.Providers))
	priorities := make(map[int]string, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: providers[%d].name must not be empty", i))
		} else if names[p.Name] {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: duplicate provider name %q", p.Name))
		}
		names[p.Name] = true

		if p.Type == "" {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: providers[%d].type must not be empty", i))
		}

		if p.Priority < 1 {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: providers[%d].priority must be at least 1, got %d", i, p.Priority))
		} else if prev, dup := priorities[p.Priority]; dup {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: providers %q and %q share priority %d", prev, p.Name, p.Priority))
		} else {
			priorities[p.Priority] = p.Name
		}

		if p.Weight < 0 {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: providers[%d].weight must not be negative, got %g", i, p.Weight))
		}

		if p.Type == ProviderTypeHTTP && p.BaseURL == "" {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: providers[%d] (%s) has type http but no base_url", i, p.Name))
		}

		if p.Sim.FailureRate < 0 || p.Sim.FailureRate > 1 {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: providers[%d].sim.failure_rate must be within [0,1], got %g", i, p.Sim.FailureRate))
		}
		if p.Sim.LatencyMS < 0 {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: providers[%d].sim.latency_ms must not be negative, got %d", i, p.Sim.LatencyMS))
		}
	}

	return errs
}

func (c *Config) validateFailover() []error {
	var errs []error

	validStrategies := map[string]bool{"fast_fail": true, "retry_once": true, "consensus": true}
	if !validStrategies[c.Failover.Strategy] {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: failover.strategy must be one of [fast_fail, retry_once, consensus], got %q",
			c.Failover.Strategy))
	}

	validResolutions := map[string]bool{"primary_wins": true, "latest_timestamp": true}
	if !validResolutions[c.Failover.ConflictResolution] {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: failover.conflict_resolution must be one of [primary_wins, latest_timestamp], got %q",
			c.Failover.ConflictResolution))
	}

	if c.Failover.TimeoutSeconds < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: failover.timeout_seconds must be at least 1, got %d", c.Failover.TimeoutSeconds))
	}

	return errs
}

func (c *Config) validateCache() []error {
	var errs []error

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, fferr.New(fferr.CodeConfigValidateInvalidValue,
				"config: cache.backend redis requires cache.redis_url"))
		}
	default:
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: cache.backend must be one of [memory, redis], got %q", c.Cache.Backend))
	}

	if c.Cache.TTLSeconds < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: cache.ttl_seconds must be at least 1, got %d", c.Cache.TTLSeconds))
	}

	return errs
}

func (c *Config) validateBreaker() []error {
	var errs []error

	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold))
	}
	if c.Breaker.RecoveryTimeoutSeconds < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: breaker.recovery_timeout_seconds must be at least 1, got %d", c.Breaker.RecoveryTimeoutSeconds))
	}

	return errs
}

func (c *Config) validateQuality() []error {
	var errs []error

	if c.Quality.Threshold < 0 || c.Quality.Threshold > 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: quality.threshold must be within [0,1], got %g", c.Quality.Threshold))
	}

	return errs
}

func (c *Config) validateMonitor() []error {
	var errs []error

	if c.Monitor.IntervalSeconds < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.interval_seconds must be at least 1, got %d", c.Monitor.IntervalSeconds))
	}
	if c.Monitor.ProbeTimeoutSeconds < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.probe_timeout_seconds must be at least 1, got %d", c.Monitor.ProbeTimeoutSeconds))
	}
	if c.Monitor.RetentionHours < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.retention_hours must be at least 1, got %d", c.Monitor.RetentionHours))
	}
	if len(c.Monitor.Windows) == 0 {
		errs = append(errs, fferr.New(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.windows must list at least one window"))
	}
	for i, w := range c.Monitor.Windows {
		if w < 1 {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"config: monitor.windows[%d] must be at least 1 minute, got %d", i, w))
		}
	}
	if c.Monitor.MaxConcurrentProbes < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.max_concurrent_probes must be at least 1, got %d", c.Monitor.MaxConcurrentProbes))
	}
	if c.Monitor.RestartBackoffSeconds < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.restart_backoff_seconds must be at least 1, got %d", c.Monitor.RestartBackoffSeconds))
	}

	errs = append(errs, c.validateAlertThresholds()...)

	return errs
}

func (c *Config) validateAlertThresholds() []error {
	var errs []error
	a := c.Monitor.Alerts

	if a.WarningFailureRate < 0 || a.WarningFailureRate > 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.alerts.warning_failure_rate must be within [0,1], got %g", a.WarningFailureRate))
	}
	if a.CriticalFailureRate < 0 || a.CriticalFailureRate > 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.alerts.critical_failure_rate must be within [0,1], got %g", a.CriticalFailureRate))
	}
	if a.WarningFailureRate > a.CriticalFailureRate {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.alerts.warning_failure_rate %g exceeds critical_failure_rate %g",
			a.WarningFailureRate, a.CriticalFailureRate))
	}

	if a.WarningLatencyMS <= 0 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.alerts.warning_latency_ms must be positive, got %g", a.WarningLatencyMS))
	}
	if a.CriticalLatencyMS <= 0 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.alerts.critical_latency_ms must be positive, got %g", a.CriticalLatencyMS))
	}
	if a.WarningLatencyMS > a.CriticalLatencyMS {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.alerts.warning_latency_ms %g exceeds critical_latency_ms %g",
			a.WarningLatencyMS, a.CriticalLatencyMS))
	}

	if a.CriticalConsecutive < 1 {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.alerts.critical_consecutive must be at least 1, got %d", a.CriticalConsecutive))
	}
	if a.EmergencyConsecutive < a.CriticalConsecutive {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: monitor.alerts.emergency_consecutive %d is below critical_consecutive %d",
			a.EmergencyConsecutive, a.CriticalConsecutive))
	}

	return errs
}

func (c *Config) validateLog() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"config: log.format must be one of [text, json], got %q", c.Log.Format))
	}

	return errs
}
