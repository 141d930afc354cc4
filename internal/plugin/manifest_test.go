package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ManifestFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestReadManifestComplete(t *testing.T) {
	path := writeManifest(t, `{
  "name": "formatter",
  "version": "2.1.0",
  "description": "Formats things",
  "author": "someone",
  "category": "tools",
  "dependencies": ["core"],
  "permissions": ["filesystem.read"],
  "resource_limits": {
    "max_memory_mb": 32,
    "max_cpu_percent": 25,
    "max_execution_time_seconds": 10
  }
}`)

	m, violations := ReadManifest(path, "dir-name")
	if len(violations) != 0 {
		t.Fatalf("violations = %v, want none", violations)
	}
	if m.Name != "formatter" || m.Version != "2.1.0" || m.Category != "tools" {
		t.Errorf("manifest = %+v", m)
	}

	limits := m.ResourceLimits()
	if limits.MaxMemoryMB != 32 || limits.MaxExecutionTime != 10*time.Second {
		t.Errorf("limits = %+v", limits)
	}
}

func TestReadManifestMissingUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFile)

	m, violations := ReadManifest(path, "my-plugin")
	if len(violations) != 1 {
		t.Fatalf("violations = %v, want the missing-manifest note", violations)
	}
	if m.Name != "my-plugin" {
		t.Errorf("name = %q, want directory fallback", m.Name)
	}
	if m.Version != DefaultVersion || m.Category != DefaultCategory {
		t.Errorf("defaults not applied: %+v", m)
	}
}

func TestReadManifestInvalidJSON(t *testing.T) {
	path := writeManifest(t, `{not json`)

	m, violations := ReadManifest(path, "my-plugin")
	if len(violations) == 0 {
		t.Fatal("expected a violation for invalid JSON")
	}
	if m.Name != "my-plugin" {
		t.Errorf("name = %q, want directory fallback", m.Name)
	}
}

func TestReadManifestSchemaMismatchSalvagesScalars(t *testing.T) {
	// dependencies has the wrong type; name and version survive.
	path := writeManifest(t, `{"name": "salvage", "version": "3.0.0", "dependencies": "core"}`)

	m, violations := ReadManifest(path, "dir-name")
	if len(violations) == 0 {
		t.Fatal("expected a schema-mismatch violation")
	}
	if m.Name != "salvage" || m.Version != "3.0.0" {
		t.Errorf("scalars not salvaged: %+v", m)
	}
}

func TestReadManifestEmptyNameFallsBack(t *testing.T) {
	path := writeManifest(t, `{"version": "1.0.0"}`)

	m, violations := ReadManifest(path, "dir-name")
	if m.Name != "dir-name" {
		t.Errorf("name = %q, want dir-name", m.Name)
	}
	if len(violations) != 1 {
		t.Errorf("violations = %v, want the missing-name note", violations)
	}
}

func TestReadManifestBadNameFlagged(t *testing.T) {
	path := writeManifest(t, `{"name": "Bad_Name!"}`)

	_, violations := ReadManifest(path, "dir-name")
	if len(violations) == 0 {
		t.Error("invalid plugin name not flagged")
	}
}

func TestManifestLimitDefaults(t *testing.T) {
	path := writeManifest(t, `{"name": "minimal"}`)

	m, _ := ReadManifest(path, "minimal")
	limits := m.ResourceLimits()
	if limits.MaxMemoryMB <= 0 || limits.MaxCPUPercent <= 0 || limits.MaxExecutionTime <= 0 {
		t.Errorf("limit defaults not applied: %+v", limits)
	}
}
