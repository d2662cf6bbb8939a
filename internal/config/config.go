package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the root configuration structure
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
	Collector CollectorConfig `mapstructure:"collector"`
	Libvirt   LibvirtConfig   `mapstructure:"libvirt"`
	Query     QueryConfig     `mapstructure:"query"`
	LogFile   string          `mapstructure:"log_file"`
	Debug     bool            `mapstructure:"debug"`
}

// StorageConfig locates the sample stores.
type StorageConfig struct {
	Path        string `mapstructure:"path"`         // SQLite database
	PostgresDSN string `mapstructure:"postgres_dsn"` // optional rollup store
}

// QueryConfig controls how the CLI reads time ranges.
type QueryConfig struct {
	Timezone   string        `mapstructure:"timezone"`
	TimeLayout string        `mapstructure:"time_layout"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LibvirtConfig holds hypervisor connection parameters.
type LibvirtConfig struct {
	URI       string        `mapstructure:"uri"`
	RetryWait time.Duration `mapstructure:"retry_wait"`
}

// Location resolves the configured timezone. "Local" and "" mean the
// machine's zone.
func (q QueryConfig) Location() (*time.Location, error) {
	if q.Timezone == "" || q.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("query.timezone: %w", err)
	}
	return loc, nil
}

// DefaultConfigDir returns ~/.config/vperf.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vperf"
	}
	return filepath.Join(home, ".config", "vperf")
}

// LoadConfig loads configuration from the default locations and environment variables
func LoadConfig() (*Config, error) {
	return LoadConfigFromPath("")
}

// LoadConfigFromPath loads configuration from path, or from the default
// locations when path is empty. A missing config file is not an error.
func LoadConfigFromPath(path string) (*Config, error) {
	v := viper.New()

	// Set config file details
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	// Environment variable support
	v.SetEnvPrefix("VPERF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Apply defaults
	applyDefaults(v)

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.Storage.Path = expandHome(config.Storage.Path)
	config.LogFile = expandHome(config.LogFile)

	// Validate configuration
	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateConfig validates the configuration values
func ValidateConfig(cfg *Config) error {
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}

	if err := validateRange("retention.realtime_window", cfg.Retention.RealtimeWindow, 5*time.Minute, 24*time.Hour); err != nil {
		return err
	}
	if err := validateRange("retention.rollups", cfg.Retention.Rollups, time.Hour, 8760*time.Hour); err != nil {
		return err
	}
	if cfg.Retention.Rollups < cfg.Retention.RealtimeWindow {
		return fmt.Errorf("retention.rollups (%v) must be >= retention.realtime_window (%v)",
			cfg.Retention.Rollups, cfg.Retention.RealtimeWindow)
	}

	if err := ValidateCollectorConfig(&cfg.Collector); err != nil {
		return err
	}
	if cfg.Collector.RefreshRate >= cfg.Retention.RealtimeWindow {
		return fmt.Errorf("collector.refresh_rate (%v) must be shorter than retention.realtime_window (%v)",
			cfg.Collector.RefreshRate, cfg.Retention.RealtimeWindow)
	}

	if cfg.Libvirt.URI == "" {
		return fmt.Errorf("libvirt.uri cannot be empty")
	}

	if _, err := cfg.Query.Location(); err != nil {
		return err
	}
	if cfg.Query.TimeLayout == "" {
		return fmt.Errorf("query.time_layout cannot be empty")
	}
	if cfg.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive, got %v", cfg.Query.Timeout)
	}

	return nil
}

// applyDefaults sets default configuration values
func applyDefaults(v *viper.Viper) {
	dir := DefaultConfigDir()

	// Storage defaults
	v.SetDefault("storage.path", filepath.Join(dir, "vperf.db"))
	v.SetDefault("storage.postgres_dsn", "")

	// Retention defaults
	v.SetDefault("retention.realtime_window", "1h")
	v.SetDefault("retention.rollups", "720h")

	// Collector defaults
	v.SetDefault("collector.refresh_rate", "20s")
	v.SetDefault("collector.persist_interval", "10s")
	v.SetDefault("collector.rollup_interval", "300s")
	v.SetDefault("collector.buffer_capacity", 10000)

	// Libvirt defaults
	v.SetDefault("libvirt.uri", "qemu:///system")
	v.SetDefault("libvirt.retry_wait", "3s")

	// Query defaults
	v.SetDefault("query.timezone", "Local")
	v.SetDefault("query.time_layout", "2006-01-02 15:04:05")
	v.SetDefault("query.timeout", "30s")

	v.SetDefault("log_file", filepath.Join(dir, "vperf.log"))
	v.SetDefault("debug", false)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
