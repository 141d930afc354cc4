package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/pluginhost/internal/plugin/security"
)

// ManifestFile is the manifest document name inside a plugin directory.
const ManifestFile = "plugin.json"

// Manifest defaults.
const (
	DefaultVersion  = "1.0.0"
	DefaultCategory = "general"
)

// Manifest mirrors the optional plugin.json document.
type Manifest struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Description  string         `json:"description"`
	Author       string         `json:"author"`
	Category     string         `json:"category"`
	Dependencies []string       `json:"dependencies"`
	Permissions  []string       `json:"permissions"`
	Limits       ManifestLimits `json:"resource_limits"`
}

// ManifestLimits is the resource_limits manifest section.
type ManifestLimits struct {
	MaxMemoryMB             int      `json:"max_memory_mb"`
	MaxCPUPercent           int      `json:"max_cpu_percent"`
	MaxExecutionTimeSeconds int      `json:"max_execution_time_seconds"`
	AllowedModules          []string `json:"allowed_modules"`
	BlockedModules          []string `json:"blocked_modules"`
}

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// ReadManifest loads the manifest at path, applying defaults for every
// missing field. A missing or malformed manifest never aborts
// discovery: the problem is returned as a violation string and the
// defaults (with fallbackName) are used instead.
func ReadManifest(path, fallbackName string) (*Manifest, []string) {
	var violations []string

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			violations = append(violations, "manifest missing; defaults applied")
		} else {
			violations = append(violations, fmt.Sprintf("manifest unreadable: %v", err))
		}
		m := &Manifest{Name: fallbackName}
		m.applyDefaults()
		return m, violations
	}

	if !gjson.ValidBytes(data) {
		violations = append(violations, "manifest is not valid JSON; defaults applied")
		m := &Manifest{Name: fallbackName}
		m.applyDefaults()
		return m, violations
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		// The document is well-formed JSON but does not match the
		// schema. Salvage what scalar fields we can.
		violations = append(violations, fmt.Sprintf("manifest schema mismatch: %v", err))
		m = Manifest{
			Name:        gjson.GetBytes(data, "name").String(),
			Version:     gjson.GetBytes(data, "version").String(),
			Description: gjson.GetBytes(data, "description").String(),
			Author:      gjson.GetBytes(data, "author").String(),
			Category:    gjson.GetBytes(data, "category").String(),
		}
	}

	if m.Name == "" {
		violations = append(violations, "manifest missing required name; directory name used")
		m.Name = fallbackName
	} else if !namePattern.MatchString(m.Name) {
		violations = append(violations, fmt.Sprintf("manifest name %q is not a valid plugin name", m.Name))
	}

	m.applyDefaults()
	return &m, violations
}

// applyDefaults fills in the documented defaults for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.Category == "" {
		m.Category = DefaultCategory
	}

	def := security.DefaultResourceLimits()
	if m.Limits.MaxMemoryMB <= 0 {
		m.Limits.MaxMemoryMB = def.MaxMemoryMB
	}
	if m.Limits.MaxCPUPercent <= 0 {
		m.Limits.MaxCPUPercent = def.MaxCPUPercent
	}
	if m.Limits.MaxExecutionTimeSeconds <= 0 {
		m.Limits.MaxExecutionTimeSeconds = int(def.MaxExecutionTime / time.Second)
	}
}

// ResourceLimits converts the manifest section to runtime limits.
func (m *Manifest) ResourceLimits() security.ResourceLimits {
	limits := security.DefaultResourceLimits()
	limits.MaxMemoryMB = m.Limits.MaxMemoryMB
	limits.MaxCPUPercent = m.Limits.MaxCPUPercent
	limits.MaxExecutionTime = time.Duration(m.Limits.MaxExecutionTimeSeconds) * time.Second
	limits.AllowedModules = append([]string{}, m.Limits.AllowedModules...)
	limits.BlockedModules = append([]string{}, m.Limits.BlockedModules...)
	return limits
}

// Capabilities converts permission tags to capabilities. Unknown tags
// are preserved; the validator flags them against the vocabulary.
func (m *Manifest) Capabilities() []security.Capability {
	caps := make([]security.Capability, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		caps = append(caps, security.Capability(p))
	}
	return caps
}
