package plugin

import (
	"path/filepath"

	"github.com/dshills/pluginhost/internal/plugin/security"
)

// Descriptor is the static metadata describing a plugin before and
// without loading it. Built at discovery time from the manifest plus
// the entry source scan; the Name is the unique registry key.
type Descriptor struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Category    string `json:"category"`

	// Dependencies are names of plugins that must load first.
	// Duplicates in the manifest are dropped, order preserved.
	Dependencies []string `json:"dependencies"`

	// Permissions are the capability tags requested by the manifest.
	Permissions []security.Capability `json:"permissions"`

	// Limits are the declared resource ceilings.
	Limits security.ResourceLimits `json:"resource_limits"`

	// Path is the plugin directory; EntryFile the main source file
	// inside it.
	Path      string `json:"path"`
	EntryFile string `json:"entry_file"`

	// ManifestViolations records missing/malformed manifest issues
	// found at discovery; they fold into the security assessment.
	ManifestViolations []string `json:"manifest_violations,omitempty"`

	// Assessment is filled in by the security validator.
	Assessment security.Assessment `json:"security_assessment"`
}

// EntryPath returns the full path of the entry source file.
func (d *Descriptor) EntryPath() string {
	return filepath.Join(d.Path, d.EntryFile)
}

// HasPermission returns true if the descriptor requests the capability.
func (d *Descriptor) HasPermission(cap security.Capability) bool {
	for _, p := range d.Permissions {
		if p == cap {
			return true
		}
	}
	return false
}

// dedupe returns names with duplicates removed, order preserved.
func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
