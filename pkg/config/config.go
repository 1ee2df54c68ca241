// Package config provides configuration structures and loading logic for the
// decision engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Batch     BatchConfig     `yaml:"batch"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Warmup    WarmupConfig    `yaml:"warmup"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// CacheConfig holds configuration for the two-tier decision cache. Tier 2 is
// optional: an empty address runs the engine tier-1 only.
type CacheConfig struct {
	TierOneCapacity int           `yaml:"tier1_capacity"`
	TierTwoAddress  string        `yaml:"tier2_address"`
	TierTwoTimeout  time.Duration `yaml:"tier2_timeout"`
	TTL             time.Duration `yaml:"ttl"`
}

// BatchConfig holds configuration for the batching coordinator.
type BatchConfig struct {
	MaxSize  int           `yaml:"max_size"`
	Window   time.Duration `yaml:"window"`
	Coalesce bool          `yaml:"coalesce"`
}

// EvaluatorConfig holds configuration for the full policy evaluator.
type EvaluatorConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	BundleDir  string        `yaml:"bundle_dir"`
	Entrypoint string        `yaml:"entrypoint"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WarmupConfig points at an optional YAML file of sample requests used to
// pre-populate the cache at startup.
type WarmupConfig struct {
	File string `yaml:"file"`
}

// Default returns a configuration with safe defaults: tier 1 only, no tier
// 2, single-digit-millisecond batch window.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: ":8090"},
		Cache: CacheConfig{
			TierOneCapacity: 1024,
			TierTwoTimeout:  250 * time.Millisecond,
			TTL:             5 * time.Minute,
		},
		Batch: BatchConfig{
			MaxSize: 16,
			Window:  5 * time.Millisecond,
		},
		Evaluator: EvaluatorConfig{
			Timeout:    100 * time.Millisecond,
			Entrypoint: "verdict/decision",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("VERDICT_LISTEN_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("VERDICT_TIER2_ADDR"); val != "" {
		cfg.Cache.TierTwoAddress = val
	}
	if val := os.Getenv("VERDICT_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if val := os.Getenv("VERDICT_BUNDLE_DIR"); val != "" {
		cfg.Evaluator.BundleDir = val
	}
	if val := os.Getenv("VERDICT_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("VERDICT_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("VERDICT_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate checks configuration invariants after defaults and overrides.
func (c *Config) Validate() error {
	if c.Cache.TierOneCapacity <= 0 {
		return fmt.Errorf("cache.tier1_capacity must be positive, got %d", c.Cache.TierOneCapacity)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Batch.MaxSize <= 0 {
		return fmt.Errorf("batch.max_size must be positive, got %d", c.Batch.MaxSize)
	}
	if c.Batch.Window <= 0 {
		return fmt.Errorf("batch.window must be positive, got %s", c.Batch.Window)
	}
	if c.Evaluator.Timeout <= 0 {
		return fmt.Errorf("evaluator.timeout must be positive, got %s", c.Evaluator.Timeout)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}
