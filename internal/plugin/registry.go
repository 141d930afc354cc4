package plugin

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry is the shared name-keyed map of descriptors and instances.
// All mutations are serialized per key under the registry lock;
// listing operations return point-in-time snapshots.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	log       *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		instances: make(map[string]*Instance),
		log:       log,
	}
}

// Put registers an instance for its descriptor name. Re-registering an
// existing name overwrites the prior entry (last scan wins); the
// overwrite is logged so the conflict stays visible.
func (r *Registry) Put(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := inst.Name()
	if prior, exists := r.instances[name]; exists {
		r.log.Warn("registry overwrite: plugin re-registered",
			zap.String("name", name),
			zap.String("prior_path", prior.Descriptor().Path),
			zap.String("new_path", inst.Descriptor().Path),
		)
	}
	r.instances[name] = inst
}

// Get returns the instance for name.
func (r *Registry) Get(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[name]
	return ok
}

// Remove deletes the entry for name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns a snapshot of all instances, sorted by name.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// StateCounts returns a snapshot of how many plugins are in each state.
func (r *Registry) StateCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, inst := range r.instances {
		counts[inst.State().String()]++
	}
	return counts
}

// CategoryCounts returns a snapshot of plugin counts per category.
func (r *Registry) CategoryCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, inst := range r.instances {
		counts[inst.Descriptor().Category]++
	}
	return counts
}

// CountByState returns how many plugins are currently in state s.
func (r *Registry) CountByState(s State) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, inst := range r.instances {
		if inst.State() == s {
			n++
		}
	}
	return n
}
