package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Plugins are the configured plugins, in configuration order
	Plugins []PluginConfig `yaml:"plugins"`
	// Preferences map a capability to the plugin id that should provide it
	Preferences map[string]string `yaml:"preferences"`

	ResponseCache ResponseCacheConfig `yaml:"response_cache"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
	// HealthSchedule is a cron spec for background plugin health probes
	HealthSchedule string `yaml:"health_schedule"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// PluginConfig is one entry of the plugins list
type PluginConfig struct {
	ID     string                 `yaml:"id"`
	Module string                 `yaml:"module"`
	Config map[string]interface{} `yaml:"config"`
}

// ResponseCacheConfig controls write-back of GET responses into the selected cache
type ResponseCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Workers int           `yaml:"workers"`
}

// Default returns the configuration used for anything the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "4873",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    50 << 20,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			HealthSchedule:     "@every 30s",
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "wharf",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
		},
		ResponseCache: ResponseCacheConfig{
			TTL:     5 * time.Minute,
			Workers: 4,
		},
	}
}

// Load reads the YAML file at path (if any), applies WHARF_* environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides server and observability settings from the environment
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("WHARF_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("WHARF_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("WHARF_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("WHARF_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("WHARF_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("WHARF_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.MaxBodyBytes = getEnvInt64("WHARF_MAX_BODY_BYTES", cfg.Server.MaxBodyBytes)

	cfg.Observability.LogLevel = getEnv("WHARF_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = getEnv("WHARF_LOG_FORMAT", cfg.Observability.LogFormat)
	cfg.Observability.MetricsEnabled = getEnvBool("WHARF_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.HealthSchedule = getEnv("WHARF_HEALTH_SCHEDULE", cfg.Observability.HealthSchedule)
	cfg.Observability.OTelEnabled = getEnvBool("WHARF_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("WHARF_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("WHARF_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("WHARF_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("WHARF_OTEL_INSECURE", cfg.Observability.OTelInsecure)

	cfg.ResponseCache.Enabled = getEnvBool("WHARF_RESPONSE_CACHE_ENABLED", cfg.ResponseCache.Enabled)
	cfg.ResponseCache.TTL = getEnvDuration("WHARF_RESPONSE_CACHE_TTL", cfg.ResponseCache.TTL)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be numeric: %q", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max_body_bytes must be positive")
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.Observability.LogLevel)
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.HealthSchedule != "" {
		if _, err := cron.ParseStandard(c.Observability.HealthSchedule); err != nil {
			return fmt.Errorf("invalid health_schedule %q: %w", c.Observability.HealthSchedule, err)
		}
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	seen := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.Module == "" {
			return fmt.Errorf("plugins[%d]: module is required", i)
		}
		id := p.ID
		if id == "" {
			id = p.Module
		}
		if seen[id] {
			return fmt.Errorf("plugins[%d]: duplicate plugin id %q", i, id)
		}
		seen[id] = true
	}

	for capability := range c.Preferences {
		if _, err := plugins.ParseCapability(capability); err != nil {
			return fmt.Errorf("preferences: %w", err)
		}
	}

	if c.ResponseCache.Enabled {
		if c.ResponseCache.TTL <= 0 {
			return fmt.Errorf("response_cache ttl must be positive")
		}
		if c.ResponseCache.Workers < 1 {
			return fmt.Errorf("response_cache workers must be at least 1")
		}
	}

	return nil
}

// Runtime builds the immutable plugin runtime configuration
func (c *Config) Runtime() (plugins.RuntimeConfiguration, error) {
	descriptors := make([]plugins.Descriptor, 0, len(c.Plugins))
	for _, p := range c.Plugins {
		var blob plugins.Config
		if p.Config != nil {
			blob = plugins.Config(p.Config)
		}
		descriptors = append(descriptors, plugins.Descriptor{
			ID:     p.ID,
			Module: p.Module,
			Config: blob,
		})
	}

	prefs := make(map[plugins.Capability]string, len(c.Preferences))
	for name, id := range c.Preferences {
		capability, err := plugins.ParseCapability(name)
		if err != nil {
			return plugins.RuntimeConfiguration{}, err
		}
		prefs[capability] = id
	}

	return plugins.NewRuntimeConfiguration(descriptors, prefs)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
