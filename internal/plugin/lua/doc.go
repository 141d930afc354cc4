// Package lua provides the sandboxed execution environment for plugin
// code, built on gopher-lua.
//
// Each plugin runs in its own LState with only the safe standard
// libraries opened. A replacement require() enforces the per-plugin
// allow/deny module lists (the deny list always wins), dangerous
// globals (dofile, loadfile, load, loadstring) are removed, and
// capability-gated host APIs are injected per the granted capability
// set. Every execution gets a uniquely named scratch workspace
// (config/data/logs) that is removed on every exit path.
//
// Wall-clock timeouts are hard: the deadline context is attached to
// the LState, so the VM aborts mid-loop when it expires. A timed-out
// execution always resolves to StatusTimedOut; no background
// continuation survives it.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. A Runner owns
// its LState and serializes access through its own mutex.
package lua
