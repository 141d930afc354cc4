// Package security provides static screening and resource-limit
// primitives for the plugin runtime.
//
// The Validator performs pattern-based screening of plugin source and
// manifest data before any code is loaded: restricted-module imports,
// dynamic-execution call patterns, a source size ceiling, and the
// permission vocabulary check. Screening is heuristic, not a proof of
// safety; anything it cannot read is treated as hostile (fail closed).
//
// ResourceLimits and ResourceMonitor bound what a plugin may consume
// once it does run. Limits the host cannot enforce (memory, cpu) are
// advisory and reported as such rather than silently dropped.
package security
