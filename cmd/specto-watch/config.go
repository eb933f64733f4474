// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st April 2026 8:36:55 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/specto/pkg/reconcile"
)

// WatchConfig is the viewer-side configuration, read from
// ~/.specto/watch.yaml. Durations are strings ("90s", "10m") to match the
// server config convention.
type WatchConfig struct {
	ServerURL string `yaml:"server_url"` // Server base URL (http://host:port)
	CacheDir  string `yaml:"cache_dir"`  // Snapshot and log directory; empty means ~/.specto

	SweepInterval   string `yaml:"sweep_interval"`    // How often the engine prunes idle entries
	IdleThreshold   string `yaml:"idle_threshold"`    // Idle time before a non-terminal entry is pruned
	FinalStateGrace string `yaml:"final_state_grace"` // How long completed/failed rows stay highlighted

	RenderInterval string `yaml:"render_interval"` // Screen refresh interval
	LogLevel       string `yaml:"log_level"`       // File log level ("debug", "info", "warn", "error")
}

// DefaultWatchConfig returns the built-in defaults. The engine timings are
// left empty here so the reconcile package's own defaults apply.
func DefaultWatchConfig() *WatchConfig {
	return &WatchConfig{
		ServerURL:      "http://localhost:8085",
		RenderInterval: "2s",
		LogLevel:       "info",
	}
}

// DefaultConfigPath returns ~/.specto/watch.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "watch.yaml"
	}
	return filepath.Join(home, ".specto", "watch.yaml")
}

// LoadWatchConfig reads path over the defaults. An empty path means the
// default location, where a missing file is fine; an explicit path that
// does not exist is an error.
func LoadWatchConfig(path string) (*WatchConfig, error) {
	config := DefaultWatchConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return config, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config, nil
}

// ResolvedCacheDir returns the cache directory, defaulting to ~/.specto.
func (c *WatchConfig) ResolvedCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".specto"
	}
	return filepath.Join(home, ".specto")
}

// SnapshotPath returns the persisted cache location under the cache dir.
func (c *WatchConfig) SnapshotPath() string {
	return filepath.Join(c.ResolvedCacheDir(), "watch-snapshot.json")
}

// SweepIntervalDuration returns the parsed sweep interval.
func (c *WatchConfig) SweepIntervalDuration() time.Duration {
	return parseDurationOr(c.SweepInterval, reconcile.DefaultSweepInterval)
}

// IdleThresholdDuration returns the parsed idle threshold.
func (c *WatchConfig) IdleThresholdDuration() time.Duration {
	return parseDurationOr(c.IdleThreshold, reconcile.DefaultIdleThreshold)
}

// FinalStateGraceDuration returns the parsed final-state grace window.
func (c *WatchConfig) FinalStateGraceDuration() time.Duration {
	return parseDurationOr(c.FinalStateGrace, reconcile.DefaultFinalStateGrace)
}

// RenderIntervalDuration returns the parsed render interval.
func (c *WatchConfig) RenderIntervalDuration() time.Duration {
	return parseDurationOr(c.RenderInterval, 2*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
