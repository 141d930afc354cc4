package security

import (
	"fmt"
	"strings"
)

// Capability represents a permission that a plugin can request in its
// manifest. Capabilities are hierarchical - granting a parent capability
// implicitly grants all child capabilities.
type Capability string

// Capabilities a plugin may request.
const (
	// CapabilityFileRead allows reading files inside the plugin workspace.
	CapabilityFileRead Capability = "filesystem.read"

	// CapabilityFileWrite allows writing files inside the plugin workspace.
	CapabilityFileWrite Capability = "filesystem.write"

	// CapabilityNetwork allows network access.
	CapabilityNetwork Capability = "network"

	// CapabilityShell allows reading host environment state (os.getenv).
	CapabilityShell Capability = "shell"

	// CapabilityClipboard allows clipboard access.
	CapabilityClipboard Capability = "clipboard"

	// CapabilityProcess allows spawning child processes.
	CapabilityProcess Capability = "process.spawn"

	// CapabilityUnsafe grants full Lua stdlib access (debug, io, os).
	// Dangerous; should be granted sparingly.
	CapabilityUnsafe Capability = "unsafe"
)

// RiskTier is the coarse security-severity classification used both for
// capability metadata and for whole-plugin assessments.
type RiskTier int

const (
	// RiskLow indicates no violations were found.
	RiskLow RiskTier = iota

	// RiskMedium indicates violations that do not involve dangerous
	// calls or denied modules.
	RiskMedium

	// RiskHigh indicates a denied module or dangerous call pattern.
	// High-risk plugins are never loaded.
	RiskHigh
)

// String returns a string representation of the risk tier.
func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// CapabilityInfo provides metadata about a capability.
type CapabilityInfo struct {
	// Name is the capability identifier.
	Name Capability

	// DisplayName is a human-readable name.
	DisplayName string

	// Description explains what the capability allows.
	Description string

	// Risk indicates how dangerous this capability is.
	Risk RiskTier
}

// capabilityRegistry holds metadata about all known capabilities.
var capabilityRegistry = map[Capability]CapabilityInfo{
	CapabilityFileRead: {
		Name:        CapabilityFileRead,
		DisplayName: "File Read",
		Description: "Read files inside the plugin workspace",
		Risk:        RiskLow,
	},
	CapabilityFileWrite: {
		Name:        CapabilityFileWrite,
		DisplayName: "File Write",
		Description: "Write files inside the plugin workspace",
		Risk:        RiskMedium,
	},
	CapabilityNetwork: {
		Name:        CapabilityNetwork,
		DisplayName: "Network Access",
		Description: "Make network requests",
		Risk:        RiskMedium,
	},
	CapabilityShell: {
		Name:        CapabilityShell,
		DisplayName: "Shell Access",
		Description: "Read host environment state",
		Risk:        RiskHigh,
	},
	CapabilityClipboard: {
		Name:        CapabilityClipboard,
		DisplayName: "Clipboard Access",
		Description: "Read and write clipboard",
		Risk:        RiskMedium,
	},
	CapabilityProcess: {
		Name:        CapabilityProcess,
		DisplayName: "Process Spawn",
		Description: "Spawn child processes",
		Risk:        RiskHigh,
	},
	CapabilityUnsafe: {
		Name:        CapabilityUnsafe,
		DisplayName: "Unsafe Mode",
		Description: "Full Lua stdlib access",
		Risk:        RiskHigh,
	},
}

// GetCapabilityInfo returns metadata about a capability.
func GetCapabilityInfo(cap Capability) (CapabilityInfo, bool) {
	info, ok := capabilityRegistry[cap]
	return info, ok
}

// IsValidCapability returns true if the capability belongs to the
// fixed permission vocabulary.
func IsValidCapability(cap Capability) bool {
	_, ok := capabilityRegistry[cap]
	return ok
}

// AllCapabilities returns all known capabilities.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, len(capabilityRegistry))
	for cap := range capabilityRegistry {
		caps = append(caps, cap)
	}
	return caps
}

// HighRiskCapabilities returns capabilities classified RiskHigh.
func HighRiskCapabilities() []Capability {
	var caps []Capability
	for cap, info := range capabilityRegistry {
		if info.Risk == RiskHigh {
			caps = append(caps, cap)
		}
	}
	return caps
}

// IsChildOf returns true if child is a child of parent.
func IsChildOf(child, parent Capability) bool {
	return strings.HasPrefix(string(child), string(parent)+".")
}

// ImpliesCapability returns true if having 'granted' implies having
// 'required'.
func ImpliesCapability(granted, required Capability) bool {
	if granted == required {
		return true
	}
	return IsChildOf(required, granted)
}

// CapabilityError is returned when an operation requires a capability
// the plugin was not granted.
type CapabilityError struct {
	Capability Capability
	Operation  string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("capability %q required for %s", e.Capability, e.Operation)
	}
	return fmt.Sprintf("capability %q not granted", e.Capability)
}
