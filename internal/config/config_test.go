package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.PluginRoots) != 1 || cfg.PluginRoots[0] != "./plugins" {
		t.Errorf("roots = %v", cfg.PluginRoots)
	}
	if cfg.MetricCapacity != 100 {
		t.Errorf("metric capacity = %d, want 100", cfg.MetricCapacity)
	}
	if cfg.HealthInterval != 30*time.Second {
		t.Errorf("health interval = %s, want 30s", cfg.HealthInterval)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("logging = %s/%s, want info/json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MemoryThresholdMB != 512 || cfg.CPUThresholdPercent != 80 {
		t.Errorf("thresholds = %v/%v", cfg.MemoryThresholdMB, cfg.CPUThresholdPercent)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pluginhost.yaml")
	content := `
plugins:
  roots:
    - /opt/plugins
  watch: true
  health_interval: 5s
monitoring:
  metric_capacity: 10
logging:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.PluginRoots) != 1 || cfg.PluginRoots[0] != "/opt/plugins" {
		t.Errorf("roots = %v", cfg.PluginRoots)
	}
	if !cfg.WatchRoots || cfg.HealthInterval != 5*time.Second || cfg.MetricCapacity != 10 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "console" {
		t.Errorf("logging = %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for an explicit missing file")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("info", "json"); err != nil {
		t.Errorf("json logger: %v", err)
	}
	if _, err := NewLogger("debug", "console"); err != nil {
		t.Errorf("console logger: %v", err)
	}
	if _, err := NewLogger("shout", "json"); err == nil {
		t.Error("invalid level accepted")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Error("invalid format accepted")
	}
}
