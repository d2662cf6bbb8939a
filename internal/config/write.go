package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultYAML renders the default configuration as a config file.
func DefaultYAML() ([]byte, error) {
	dir := DefaultConfigDir()
	collector := DefaultCollectorConfig()

	doc := map[string]any{
		"storage": map[string]any{
			"path":         filepath.Join(dir, "vperf.db"),
			"postgres_dsn": "",
		},
		"retention": map[string]any{
			"realtime_window": "1h",
			"rollups":         "720h",
		},
		"collector": map[string]any{
			"refresh_rate":     collector.RefreshRate.String(),
			"persist_interval": collector.PersistInterval.String(),
			"rollup_interval":  collector.RollupInterval.String(),
			"buffer_capacity":  collector.BufferCapacity,
		},
		"libvirt": map[string]any{
			"uri":        "qemu:///system",
			"retry_wait": "3s",
		},
		"query": map[string]any{
			"timezone":    "Local",
			"time_layout": "2006-01-02 15:04:05",
			"timeout":     "30s",
		},
		"log_file": filepath.Join(dir, "vperf.log"),
		"debug":    false,
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

// WriteDefault writes the default configuration to path. An existing file
// is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := DefaultYAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
