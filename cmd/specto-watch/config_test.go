package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/specto/pkg/reconcile"
)

func TestLoadWatchConfigDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	config, err := LoadWatchConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if config.ServerURL != "http://localhost:8085" {
		t.Fatalf("unexpected default server url %q", config.ServerURL)
	}
	if got := config.RenderIntervalDuration(); got != 2*time.Second {
		t.Fatalf("unexpected default render interval %v", got)
	}
}

func TestLoadWatchConfigExplicitMissingFileErrors(t *testing.T) {
	_, err := LoadWatchConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadWatchConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watch.yaml")
	content := "server_url: http://specto.internal:9000\nsweep_interval: 90s\ncache_dir: " + dir + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	config, err := LoadWatchConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if config.ServerURL != "http://specto.internal:9000" {
		t.Fatalf("unexpected server url %q", config.ServerURL)
	}
	if got := config.SweepIntervalDuration(); got != 90*time.Second {
		t.Fatalf("unexpected sweep interval %v", got)
	}
	// Untouched keys keep their defaults
	if config.RenderInterval != "2s" {
		t.Fatalf("expected default render interval, got %q", config.RenderInterval)
	}
	if got := config.SnapshotPath(); got != filepath.Join(dir, "watch-snapshot.json") {
		t.Fatalf("unexpected snapshot path %q", got)
	}
}

func TestDurationHelpersFallBackOnBadValues(t *testing.T) {
	config := &WatchConfig{
		SweepInterval:   "not-a-duration",
		IdleThreshold:   "-5m",
		FinalStateGrace: "",
	}
	if got := config.SweepIntervalDuration(); got != reconcile.DefaultSweepInterval {
		t.Fatalf("expected sweep fallback, got %v", got)
	}
	if got := config.IdleThresholdDuration(); got != reconcile.DefaultIdleThreshold {
		t.Fatalf("expected idle fallback, got %v", got)
	}
	if got := config.FinalStateGraceDuration(); got != reconcile.DefaultFinalStateGrace {
		t.Fatalf("expected grace fallback, got %v", got)
	}
}

func TestResolvedCacheDirPrefersConfigured(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	config := DefaultWatchConfig()
	if got := config.ResolvedCacheDir(); got != filepath.Join(os.Getenv("HOME"), ".specto") {
		t.Fatalf("unexpected default cache dir %q", got)
	}

	config.CacheDir = "/tmp/elsewhere"
	if got := config.ResolvedCacheDir(); got != "/tmp/elsewhere" {
		t.Fatalf("unexpected cache dir %q", got)
	}
}
