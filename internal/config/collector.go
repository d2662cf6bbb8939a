package config

import (
	"fmt"
	"time"
)

// RetentionConfig configures how long samples are kept.
type RetentionConfig struct {
	// RealtimeWindow is how far back real-time samples reach. It also
	// places the boundary between real-time and historical queries.
	RealtimeWindow time.Duration `mapstructure:"realtime_window"`

	// Rollups is how long rollup buckets are kept.
	Rollups time.Duration `mapstructure:"rollups"`
}

// CollectorConfig configures the agent's sampling and persistence cadence.
type CollectorConfig struct {
	RefreshRate     time.Duration `mapstructure:"refresh_rate"`     // real-time sampling (default: 20s)
	PersistInterval time.Duration `mapstructure:"persist_interval"` // buffer flush to SQLite (default: 10s)
	RollupInterval  time.Duration `mapstructure:"rollup_interval"`  // finest rollup bucket (default: 300s)
	BufferCapacity  int           `mapstructure:"buffer_capacity"`  // samples kept in memory per entity
}

// DefaultCollectorConfig returns the default collector configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		RefreshRate:     20 * time.Second,
		PersistInterval: 10 * time.Second,
		RollupInterval:  300 * time.Second,
		BufferCapacity:  10000,
	}
}

// ValidateCollectorConfig validates the collector configuration.
func ValidateCollectorConfig(cfg *CollectorConfig) error {
	if err := validateRange("collector.refresh_rate", cfg.RefreshRate, time.Second, 300*time.Second); err != nil {
		return err
	}
	if cfg.RefreshRate%time.Second != 0 {
		return fmt.Errorf("collector.refresh_rate must be whole seconds, got %v", cfg.RefreshRate)
	}
	if err := validateRange("collector.persist_interval", cfg.PersistInterval, time.Second, 60*time.Second); err != nil {
		return err
	}
	// Rollups back the "day" cycle, so the finest bucket is fixed
	if cfg.RollupInterval != 300*time.Second {
		return fmt.Errorf("collector.rollup_interval must be 300s, got %v", cfg.RollupInterval)
	}
	if cfg.BufferCapacity < 100 {
		return fmt.Errorf("collector.buffer_capacity must be >= 100, got %d", cfg.BufferCapacity)
	}
	return nil
}

// validateRange validates a duration setting.
func validateRange(field string, value, min, max time.Duration) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %v and %v, got %v", field, min, max, value)
	}
	return nil
}
