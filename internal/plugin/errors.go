package plugin

import "errors"

// Plugin runtime errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoEntryPoint is returned when a plugin directory has no valid
	// entry source file (init.lua or plugin.lua).
	ErrNoEntryPoint = errors.New("plugin has no entry point (init.lua or plugin.lua)")

	// ErrValidation is returned when security screening rejects a plugin.
	ErrValidation = errors.New("plugin failed security validation")

	// ErrDependencyCycle is returned when the dependency graph contains
	// a cycle. Resolution fails for the whole batch.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrDependencyMissing is returned when a declared dependency is
	// not registered.
	ErrDependencyMissing = errors.New("plugin dependency not found")

	// ErrInvalidTransition is returned for a lifecycle transition
	// outside the legal edge set.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)
