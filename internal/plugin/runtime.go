package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	luart "github.com/dshills/pluginhost/internal/plugin/lua"
	"github.com/dshills/pluginhost/internal/plugin/security"
)

// DefaultHealthInterval is how often the background collector runs.
const DefaultHealthInterval = 30 * time.Second

// RuntimeConfig configures the plugin runtime.
type RuntimeConfig struct {
	// Roots are the directories scanned for plugins.
	Roots []string

	// WorkDir is where per-plugin scratch workspaces are created.
	// Empty means the system temp directory.
	WorkDir string

	// MetricCapacity bounds each per-plugin metric series.
	MetricCapacity int

	// Thresholds is the alert threshold table.
	Thresholds Thresholds

	// HealthInterval is the background collector period.
	HealthInterval time.Duration
}

// OpResult is the outcome of a control operation. Control operations
// never propagate errors; failures come back as unsuccessful results.
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SystemMetrics is the aggregate rollup across all managed plugins.
type SystemMetrics struct {
	TotalPlugins   int              `json:"total_plugins"`
	ActivePlugins  int              `json:"active_plugins"`
	StateCounts    map[string]int   `json:"state_counts"`
	CategoryCounts map[string]int   `json:"category_counts"`
	Alerts         []string         `json:"alerts,omitempty"`
}

// SystemHealth is the aggregate health rollup. Healthy is false as
// soon as any managed plugin is unhealthy.
type SystemHealth struct {
	Healthy bool              `json:"healthy"`
	Plugins map[string]Health `json:"plugins"`
}

// Runtime is the orchestrator tying discovery, screening, dependency
// resolution, sandboxing, lifecycle and monitoring together. One
// plugin's failure never aborts the others; only a dependency cycle
// fails a whole discovery batch.
type Runtime struct {
	cfg RuntimeConfig
	log *zap.Logger

	loader    *Loader
	validator *security.Validator
	registry  *Registry
	lifecycle *Lifecycle
	graph     *Graph
	monitor   *Monitor

	mu        sync.Mutex
	loadOrder []string

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewRuntime creates the runtime. Collectors register on reg; a nil
// registerer keeps metrics private to the process.
func NewRuntime(cfg RuntimeConfig, reg prometheus.Registerer, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}

	monitorOpts := []MonitorOption{WithThresholds(cfg.Thresholds)}
	if cfg.MetricCapacity > 0 {
		monitorOpts = append(monitorOpts, WithMetricCapacity(cfg.MetricCapacity))
	}
	if cfg.Thresholds == (Thresholds{}) {
		monitorOpts[0] = WithThresholds(DefaultThresholds())
	}

	registry := NewRegistry(log)
	return &Runtime{
		cfg:       cfg,
		log:       log,
		loader:    NewLoader(cfg.Roots, log),
		validator: security.NewValidator(log),
		registry:  registry,
		lifecycle: NewLifecycle(registry, log),
		graph:     NewGraph(),
		monitor:   NewMonitor(reg, log, monitorOpts...),
		stop:      make(chan struct{}),
	}
}

// Registry exposes the shared plugin registry.
func (r *Runtime) Registry() *Registry { return r.registry }

// Lifecycle exposes the lifecycle manager for hook registration.
func (r *Runtime) Lifecycle() *Lifecycle { return r.lifecycle }

// Monitor exposes the metrics monitor.
func (r *Runtime) Monitor() *Monitor { return r.monitor }

// DiscoverAndLoad runs the full pipeline: scan the roots, screen every
// candidate, resolve the dependency order, and drive each survivor
// through load, init and activate. Individual plugin failures move
// that plugin to Error and the batch continues; a dependency cycle
// aborts the entire batch before anything loads.
func (r *Runtime) DiscoverAndLoad(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	descs := r.loader.Scan()

	// Register and screen candidates. Plugins already past Discovered
	// are live and left alone.
	var candidates []string
	for _, desc := range descs {
		if inst, ok := r.registry.Get(desc.Name); ok && !inst.State().IsTerminal() && inst.State() != StateDiscovered && inst.State() != StateError {
			continue
		}

		inst := NewInstance(desc)
		r.registry.Put(inst)

		desc.Assessment = r.validator.Validate(desc.EntryPath(), desc.Permissions, desc.ManifestViolations)
		if desc.Assessment.Risk == security.RiskHigh {
			r.lifecycle.Fail(desc.Name, fmt.Errorf("%w: %v", ErrValidation, desc.Assessment.Violations).Error())
			r.monitor.IncLoadFailure()
			continue
		}

		r.graph.Add(desc.Name, desc.Dependencies)
		candidates = append(candidates, desc.Name)
	}

	order, err := r.graph.ResolveAll()
	if err != nil {
		// A cycle poisons ordering for everyone; nothing in this batch
		// loads.
		for _, name := range candidates {
			r.lifecycle.Fail(name, err.Error())
			r.monitor.IncLoadFailure()
		}
		r.log.Error("dependency resolution failed, batch aborted", zap.Error(err))
		return err
	}
	r.loadOrder = order

	for _, name := range order {
		inst, ok := r.registry.Get(name)
		if !ok || inst.State() != StateDiscovered {
			continue
		}
		if err := r.loadOne(ctx, inst); err != nil {
			r.log.Warn("plugin failed to start",
				zap.String("plugin", name),
				zap.Error(err),
			)
		}
	}

	r.monitor.SetActiveCount(r.registry.CountByState(StateActive))
	r.log.Info("discovery pipeline complete",
		zap.Int("discovered", len(descs)),
		zap.Int("active", r.registry.CountByState(StateActive)),
	)
	return nil
}

// loadOne drives a single discovered plugin through load, init and
// activate. Any stage failure tears the sandbox down and parks the
// plugin in Error.
func (r *Runtime) loadOne(ctx context.Context, inst *Instance) error {
	unlock := inst.lockOp()
	defer unlock()

	desc := inst.Descriptor()
	name := desc.Name

	// A dependency that is not active cannot serve its dependents.
	for _, dep := range desc.Dependencies {
		depInst, ok := r.registry.Get(dep)
		if !ok {
			err := fmt.Errorf("%w: %q requires %q", ErrDependencyMissing, name, dep)
			r.failStage(inst, nil, err.Error())
			return err
		}
		if depInst.State() != StateActive {
			err := fmt.Errorf("%w: %q requires %q (state %s)", ErrDependencyMissing, name, dep, depInst.State())
			r.failStage(inst, nil, err.Error())
			return err
		}
	}

	runner := luart.NewRunner(name, desc.Limits, desc.Permissions, r.log,
		luart.WithBaseDir(r.cfg.WorkDir),
	)

	// Load: execute the entry chunk.
	r.lifecycle.Trigger(BeforeLoad, name)
	start := time.Now()
	res := runner.Load(ctx, desc.EntryPath(), pluginConfig(desc))
	r.monitor.ObserveStage(name, MetricLoadMS, time.Since(start))
	if err := res.Err(); err != nil {
		r.failStage(inst, runner, fmt.Sprintf("load failed: %v", err))
		return err
	}
	inst.attachRunner(runner)
	if err := r.lifecycle.Transition(name, StateLoaded); err != nil {
		r.failStage(inst, runner, err.Error())
		return err
	}
	r.lifecycle.Trigger(AfterLoad, name)

	// Init: optional init() entry point.
	r.lifecycle.Trigger(BeforeInit, name)
	start = time.Now()
	res = runner.Call(ctx, "init")
	r.monitor.ObserveStage(name, MetricInitMS, time.Since(start))
	if err := res.Err(); err != nil {
		r.failStage(inst, runner, fmt.Sprintf("init failed: %v", err))
		return err
	}
	if err := r.lifecycle.Transition(name, StateInitialized); err != nil {
		r.failStage(inst, runner, err.Error())
		return err
	}
	r.lifecycle.Trigger(AfterInit, name)

	// Activate: optional activate() entry point.
	r.lifecycle.Trigger(BeforeActivate, name)
	start = time.Now()
	res = runner.Call(ctx, "activate")
	r.monitor.ObserveStage(name, MetricActivateMS, time.Since(start))
	if err := res.Err(); err != nil {
		r.failStage(inst, runner, fmt.Sprintf("activate failed: %v", err))
		return err
	}
	if err := r.lifecycle.Transition(name, StateActive); err != nil {
		r.failStage(inst, runner, err.Error())
		return err
	}
	r.lifecycle.Trigger(AfterActivate, name)

	inst.SetHealth("active", true, "")
	r.log.Info("plugin active",
		zap.String("plugin", name),
		zap.String("version", desc.Version),
		zap.String("risk", desc.Assessment.Risk.String()),
	)
	return nil
}

// failStage records a stage failure: the sandbox is torn down, the
// plugin parks in Error, and the failure counter ticks.
func (r *Runtime) failStage(inst *Instance, runner *luart.Runner, message string) {
	if released := inst.releaseRunner(); released != nil {
		_ = released.Close()
	} else if runner != nil {
		_ = runner.Close()
	}
	r.lifecycle.Fail(inst.Name(), message)
	r.monitor.IncLoadFailure()
}

// pluginConfig builds the `config` table injected into the sandbox.
func pluginConfig(desc *Descriptor) map[string]any {
	return map[string]any{
		"name":     desc.Name,
		"version":  desc.Version,
		"category": desc.Category,
	}
}

// Activate moves an inactive plugin back to Active, invoking its
// activate() entry point.
func (r *Runtime) Activate(ctx context.Context, name string) OpResult {
	inst, ok := r.registry.Get(name)
	if !ok {
		return OpResult{Message: fmt.Sprintf("plugin %q not found", name)}
	}
	unlock := inst.lockOp()
	defer unlock()

	switch inst.State() {
	case StateActive:
		return OpResult{Success: true, Message: fmt.Sprintf("plugin %q is already active", name)}
	case StateInactive:
	default:
		return OpResult{Message: fmt.Sprintf("plugin %q cannot activate from state %s", name, inst.State())}
	}

	runner := inst.Runner()
	if runner == nil {
		return OpResult{Message: fmt.Sprintf("plugin %q has no live sandbox", name)}
	}

	r.lifecycle.Trigger(BeforeActivate, name)
	start := time.Now()
	res := runner.Call(ctx, "activate")
	r.monitor.ObserveStage(name, MetricActivateMS, time.Since(start))
	if err := res.Err(); err != nil {
		r.failStage(inst, runner, fmt.Sprintf("activate failed: %v", err))
		return OpResult{Message: fmt.Sprintf("plugin %q activate failed: %v", name, err)}
	}
	if err := r.lifecycle.Transition(name, StateActive); err != nil {
		return OpResult{Message: err.Error()}
	}
	r.lifecycle.Trigger(AfterActivate, name)
	inst.SetHealth("active", true, "")
	r.monitor.SetActiveCount(r.registry.CountByState(StateActive))
	return OpResult{Success: true, Message: fmt.Sprintf("plugin %q activated", name)}
}

// Deactivate moves an active plugin to Inactive, invoking its
// deactivate() entry point. The sandbox stays alive.
func (r *Runtime) Deactivate(ctx context.Context, name string) OpResult {
	inst, ok := r.registry.Get(name)
	if !ok {
		return OpResult{Message: fmt.Sprintf("plugin %q not found", name)}
	}
	unlock := inst.lockOp()
	defer unlock()

	if inst.State() != StateActive {
		return OpResult{Message: fmt.Sprintf("plugin %q cannot deactivate from state %s", name, inst.State())}
	}

	runner := inst.Runner()
	if runner == nil {
		return OpResult{Message: fmt.Sprintf("plugin %q has no live sandbox", name)}
	}

	r.lifecycle.Trigger(BeforeDeactivate, name)
	res := runner.Call(ctx, "deactivate")
	if err := res.Err(); err != nil {
		r.failStage(inst, runner, fmt.Sprintf("deactivate failed: %v", err))
		return OpResult{Message: fmt.Sprintf("plugin %q deactivate failed: %v", name, err)}
	}
	if err := r.lifecycle.Transition(name, StateInactive); err != nil {
		return OpResult{Message: err.Error()}
	}
	r.lifecycle.Trigger(AfterDeactivate, name)
	inst.SetHealth("inactive", true, "")
	r.monitor.SetActiveCount(r.registry.CountByState(StateActive))
	return OpResult{Success: true, Message: fmt.Sprintf("plugin %q deactivated", name)}
}

// Unload tears the plugin's sandbox down and moves it to the terminal
// Unloaded state. Its node leaves the dependency graph so dependents
// report the dependency missing.
func (r *Runtime) Unload(ctx context.Context, name string) OpResult {
	inst, ok := r.registry.Get(name)
	if !ok {
		return OpResult{Message: fmt.Sprintf("plugin %q not found", name)}
	}
	unlock := inst.lockOp()
	defer unlock()

	state := inst.State()
	if !CanTransition(state, StateUnloaded) {
		return OpResult{Message: fmt.Sprintf("plugin %q cannot unload from state %s", name, state)}
	}

	r.lifecycle.Trigger(BeforeUnload, name)

	if runner := inst.releaseRunner(); runner != nil {
		if state == StateActive {
			if res := runner.Call(ctx, "deactivate"); res.Err() != nil {
				r.log.Warn("deactivate during unload failed",
					zap.String("plugin", name),
					zap.Error(res.Err()),
				)
			}
		}
		if err := runner.Close(); err != nil {
			r.log.Warn("sandbox teardown reported errors",
				zap.String("plugin", name),
				zap.Error(err),
			)
		}
	}

	if err := r.lifecycle.Transition(name, StateUnloaded); err != nil {
		return OpResult{Message: err.Error()}
	}
	r.lifecycle.Trigger(AfterUnload, name)
	inst.SetHealth("unloaded", true, "")
	r.graph.Remove(name)
	r.monitor.SetActiveCount(r.registry.CountByState(StateActive))
	return OpResult{Success: true, Message: fmt.Sprintf("plugin %q unloaded", name)}
}

// Reload unloads the plugin and runs it through the discovery pipeline
// again, picking up manifest and source changes from disk.
func (r *Runtime) Reload(ctx context.Context, name string) OpResult {
	inst, ok := r.registry.Get(name)
	if !ok {
		return OpResult{Message: fmt.Sprintf("plugin %q not found", name)}
	}

	if !inst.State().IsTerminal() && inst.State() != StateDiscovered {
		if res := r.Unload(ctx, name); !res.Success && inst.State() != StateError {
			return OpResult{Message: fmt.Sprintf("plugin %q reload blocked: %s", name, res.Message)}
		}
	}

	r.mu.Lock()
	old := inst.Descriptor()
	desc, err := r.loader.inspect(old.Path, name)
	if err != nil {
		r.mu.Unlock()
		return OpResult{Message: fmt.Sprintf("plugin %q reload failed: %v", name, err)}
	}

	fresh := NewInstance(desc)
	r.registry.Put(fresh)

	desc.Assessment = r.validator.Validate(desc.EntryPath(), desc.Permissions, desc.ManifestViolations)
	if desc.Assessment.Risk == security.RiskHigh {
		r.lifecycle.Fail(desc.Name, fmt.Errorf("%w: %v", ErrValidation, desc.Assessment.Violations).Error())
		r.monitor.IncLoadFailure()
		r.mu.Unlock()
		return OpResult{Message: fmt.Sprintf("plugin %q blocked by security screening", name)}
	}
	r.graph.Add(desc.Name, desc.Dependencies)

	loadErr := r.loadOne(ctx, fresh)
	r.monitor.SetActiveCount(r.registry.CountByState(StateActive))
	r.mu.Unlock()

	if loadErr != nil {
		return OpResult{Message: fmt.Sprintf("plugin %q reload failed: %v", name, loadErr)}
	}
	return OpResult{Success: true, Message: fmt.Sprintf("plugin %q reloaded", name)}
}

// TriggerDiscovery re-runs the discovery pipeline on demand.
func (r *Runtime) TriggerDiscovery(ctx context.Context) error {
	return r.DiscoverAndLoad(ctx)
}

// Plugins returns all managed instances, sorted by name.
func (r *Runtime) Plugins() []*Instance {
	return r.registry.List()
}

// Plugin returns the named instance.
func (r *Runtime) Plugin(name string) (*Instance, bool) {
	return r.registry.Get(name)
}

// LoadOrder returns the dependency-resolved order of the last
// successful resolution.
func (r *Runtime) LoadOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.loadOrder...)
}

// CheckDependencies reports structural presence of each declared
// dependency of the named plugin.
func (r *Runtime) CheckDependencies(name string) map[string]bool {
	return r.graph.Check(name)
}

// SystemMetrics returns the aggregate rollup.
func (r *Runtime) SystemMetrics() SystemMetrics {
	return SystemMetrics{
		TotalPlugins:   r.registry.Count(),
		ActivePlugins:  r.registry.CountByState(StateActive),
		StateCounts:    r.registry.StateCounts(),
		CategoryCounts: r.registry.CategoryCounts(),
		Alerts:         r.monitor.AllAlerts(),
	}
}

// SystemHealth returns the aggregate health rollup.
func (r *Runtime) SystemHealth() SystemHealth {
	out := SystemHealth{
		Healthy: true,
		Plugins: make(map[string]Health),
	}
	for _, inst := range r.registry.List() {
		h := inst.Health()
		out.Plugins[inst.Name()] = h
		if !h.Healthy {
			out.Healthy = false
		}
	}
	return out
}

// Start launches the background collector, which refreshes the active
// gauge and surfaces threshold alerts periodically.
func (r *Runtime) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.HealthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.collect()
			}
		}
	}()
}

// collect is one background sweep: gauge refresh, health timestamps,
// alert surfacing.
func (r *Runtime) collect() {
	r.monitor.SetActiveCount(r.registry.CountByState(StateActive))
	for _, inst := range r.registry.List() {
		if inst.State() == StateActive {
			inst.Touch()
		}
	}
	if alerts := r.monitor.AllAlerts(); len(alerts) > 0 {
		r.log.Warn("plugin alerts", zap.Strings("alerts", alerts))
	}
}

// Close stops the collector and unloads every plugin in reverse
// dependency order, so dependents go down before their dependencies.
func (r *Runtime) Close(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()

	order := r.LoadOrder()
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if inst, ok := r.registry.Get(name); ok && !inst.State().IsTerminal() && inst.State() != StateDiscovered {
			r.Unload(ctx, name)
		}
	}
	r.log.Info("plugin runtime shut down")
}
