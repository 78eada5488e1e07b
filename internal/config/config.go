// Package config loads the attestra configuration file.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/attestra/attestra/internal/safefile"
)

// Config is the top-level attestra configuration.
type Config struct {
	DataDir     string        `yaml:"data_dir"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr,omitempty"` // empty disables the endpoint
	Ledger      LedgerConfig  `yaml:"ledger"`
	Monitor     MonitorConfig `yaml:"monitor"`
}

// LedgerConfig bounds evidence retention and search.
type LedgerConfig struct {
	QuotaMB     int64 `yaml:"quota_mb"`     // storage ceiling; 0 = unlimited
	PruneBatch  int   `yaml:"prune_batch"`  // records deleted per pruning pass
	SearchLimit int   `yaml:"search_limit"` // max full-text results
}

// MonitorConfig tunes the watcher and scheduler.
type MonitorConfig struct {
	TickSeconds     int             `yaml:"tick_seconds"`
	DebounceMS      int             `yaml:"debounce_ms"`
	Intervals       IntervalsConfig `yaml:"reverify_minutes"`
	FileTimeoutSec  int             `yaml:"file_timeout_seconds"`
	DirBudgetSec    int             `yaml:"dir_budget_seconds"`
	DirMaxFiles     int             `yaml:"dir_max_files"`
	PerFileTimeout  int             `yaml:"per_file_timeout_seconds"`
	RecentWindowMin int             `yaml:"recent_window_minutes"`
}

// IntervalsConfig is the sensitivity-tiered re-verification schedule,
// in minutes.
type IntervalsConfig struct {
	Critical int `yaml:"critical"`
	Strict   int `yaml:"strict"`
	Normal   int `yaml:"normal"`
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: "info",
		Ledger: LedgerConfig{
			QuotaMB:     256,
			PruneBatch:  100,
			SearchLimit: 100,
		},
		Monitor: MonitorConfig{
			TickSeconds:     60,
			DebounceMS:      500,
			Intervals:       IntervalsConfig{Critical: 5, Strict: 15, Normal: 60},
			FileTimeoutSec:  10,
			DirBudgetSec:    30,
			DirMaxFiles:     500,
			PerFileTimeout:  5,
			RecentWindowMin: 10,
		},
	}
}

// Load reads and parses a config file; missing fields keep defaults.
func Load(path string) (*Config, error) {
	data, err := safefile.ReadFileMax(path, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LedgerPath is the ledger database location under the data dir.
func (c *Config) LedgerPath() string { return filepath.Join(c.DataDir, "ledger.db") }

// AssetsPath is the asset registry database location.
func (c *Config) AssetsPath() string { return filepath.Join(c.DataDir, "assets.db") }

// Tick returns the scheduler tick as a duration.
func (c *MonitorConfig) Tick() time.Duration { return time.Duration(c.TickSeconds) * time.Second }

// Debounce returns the fs event quiet period as a duration.
func (c *MonitorConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// ParseLevel maps the configured log level to slog.
func ParseLevel(level string) slog.Level {
	switch level {
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
