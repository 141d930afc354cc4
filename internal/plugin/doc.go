// Package plugin manages the full lifetime of Lua plugins: discovery
// on disk, static security screening, dependency-ordered loading,
// sandboxed execution, lifecycle state transitions with hooks, and
// bounded per-plugin metrics.
//
// The Runtime is the entry point; it owns the registry, the dependency
// graph, the lifecycle manager and the monitor. Plugins move through
// Discovered -> Loaded -> Initialized -> Active, may toggle between
// Active and Inactive, and end in the terminal Unloaded state. Any
// failure parks a plugin in Error without disturbing its neighbors.
package plugin
