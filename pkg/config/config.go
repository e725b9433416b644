package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m365mcp/m365-cache/pkg/warmer"
)

// Config is the process configuration, loaded from YAML with defaults
// applied for anything omitted.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	Cache   CacheConfig   `yaml:"cache"`
	Worker  WorkerConfig  `yaml:"worker"`
	Warming WarmingConfig `yaml:"warming"`
}

// CacheConfig holds the cache sizing limits in bytes.
type CacheConfig struct {
	MaxEntryBytes   int64 `yaml:"max_entry_bytes"`
	MaxTotalBytes   int64 `yaml:"max_total_bytes"`
	CompressAtBytes int64 `yaml:"compress_at_bytes"`
}

// WorkerConfig holds the retry policy and the stale-running sweep threshold.
type WorkerConfig struct {
	MaxRetries            int `yaml:"max_retries"`
	InitialBackoffSeconds int `yaml:"initial_backoff_seconds"`
	StaleRunningMinutes   int `yaml:"stale_running_minutes"` // 0 disables the startup sweep
}

// WarmingConfig lists the accounts to warm and overrides the default plan.
type WarmingConfig struct {
	Accounts []string          `yaml:"accounts"`
	MaxRPS   float64           `yaml:"max_rps"`
	Plan     []warmer.PlanItem `yaml:"plan"`
}

// Default returns the standard configuration. The data directory lives under
// the platform user config dir.
func Default() *Config {
	dataDir := "."
	if base, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(base, "m365-mcp")
	}

	return &Config{
		DataDir:     dataDir,
		LogLevel:    "info",
		MetricsAddr: "127.0.0.1:9464",
		Cache: CacheConfig{
			MaxEntryBytes:   10 << 20,
			MaxTotalBytes:   2 << 30,
			CompressAtBytes: 50 << 10,
		},
		Worker: WorkerConfig{
			MaxRetries:            3,
			InitialBackoffSeconds: 1,
			StaleRunningMinutes:   10,
		},
		Warming: WarmingConfig{
			MaxRPS: warmer.DefaultMaxRPS,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// InitialBackoff returns the worker backoff as a duration.
func (c WorkerConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

// StaleRunningThreshold returns the sweep threshold, zero when disabled.
func (c WorkerConfig) StaleRunningThreshold() time.Duration {
	return time.Duration(c.StaleRunningMinutes) * time.Minute
}
