package plugin

import (
	"sync"
	"time"

	luart "github.com/dshills/pluginhost/internal/plugin/lua"
)

// Health is the single current health record of a plugin. It is
// overwritten, not historized.
type Health struct {
	Status    string    `json:"status"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message"`
	LastCheck time.Time `json:"last_check"`
}

// Instance is a live plugin: it exclusively owns one Descriptor, the
// current lifecycle state, the sandbox handle (released on unload) and
// the current health record.
type Instance struct {
	// opMu serializes whole lifecycle operations (load, init,
	// activate, deactivate, unload) so partial transitions never
	// interleave. Cross-cutting readers use the short state mutex only.
	opMu sync.Mutex

	mu     sync.RWMutex
	desc   *Descriptor
	state  State
	runner *luart.Runner
	health Health
}

// NewInstance creates an instance in the initial Discovered state.
func NewInstance(desc *Descriptor) *Instance {
	return &Instance{
		desc:  desc,
		state: StateDiscovered,
		health: Health{
			Status:    "discovered",
			Healthy:   true,
			LastCheck: time.Now(),
		},
	}
}

// Name returns the plugin name.
func (i *Instance) Name() string {
	return i.desc.Name
}

// Descriptor returns the owned descriptor.
func (i *Instance) Descriptor() *Descriptor {
	return i.desc
}

// State returns the current lifecycle state (point-in-time read).
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// setState records a new lifecycle state. Callers validate the edge.
func (i *Instance) setState(s State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
}

// Health returns the current health record (point-in-time read).
func (i *Instance) Health() Health {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.health
}

// SetHealth overwrites the current health record.
func (i *Instance) SetHealth(status string, healthy bool, message string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.health = Health{
		Status:    status,
		Healthy:   healthy,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// Touch refreshes the health record timestamp without changing it.
func (i *Instance) Touch() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.health.LastCheck = time.Now()
}

// Runner returns the sandbox handle, or nil when not loaded.
func (i *Instance) Runner() *luart.Runner {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.runner
}

// attachRunner records the sandbox handle after a successful load.
func (i *Instance) attachRunner(r *luart.Runner) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.runner = r
}

// releaseRunner detaches and returns the sandbox handle for teardown.
func (i *Instance) releaseRunner() *luart.Runner {
	i.mu.Lock()
	defer i.mu.Unlock()
	r := i.runner
	i.runner = nil
	return r
}

// lockOp acquires the per-plugin operation scope.
func (i *Instance) lockOp() func() {
	i.opMu.Lock()
	return i.opMu.Unlock
}
