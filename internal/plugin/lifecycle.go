package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// HookEvent identifies a lifecycle transition hook point. Before/after
// pairs bracket every transition.
type HookEvent string

// Lifecycle hook events.
const (
	BeforeLoad       HookEvent = "before_load"
	AfterLoad        HookEvent = "after_load"
	BeforeInit       HookEvent = "before_init"
	AfterInit        HookEvent = "after_init"
	BeforeActivate   HookEvent = "before_activate"
	AfterActivate    HookEvent = "after_activate"
	BeforeDeactivate HookEvent = "before_deactivate"
	AfterDeactivate  HookEvent = "after_deactivate"
	BeforeUnload     HookEvent = "before_unload"
	AfterUnload      HookEvent = "after_unload"
)

// HookFunc is invoked with the plugin name when its event fires.
// Hook failures are logged and never block the transition they wrap.
type HookFunc func(name string) error

// Lifecycle drives the per-plugin state machine and its transition
// hooks. States move only along the legal edge set; every illegal
// request is rejected with ErrInvalidTransition.
type Lifecycle struct {
	mu    sync.RWMutex
	hooks map[HookEvent][]HookFunc

	registry *Registry
	log      *zap.Logger
}

// NewLifecycle creates a lifecycle manager over the registry.
func NewLifecycle(registry *Registry, log *zap.Logger) *Lifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lifecycle{
		hooks:    make(map[HookEvent][]HookFunc),
		registry: registry,
		log:      log,
	}
}

// RegisterHook adds a hook for the event.
func (l *Lifecycle) RegisterHook(event HookEvent, fn HookFunc) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks[event] = append(l.hooks[event], fn)
}

// Trigger fires all hooks for the event. Hook errors and panics are
// logged; the surrounding transition proceeds regardless.
func (l *Lifecycle) Trigger(event HookEvent, name string) {
	l.mu.RLock()
	fns := make([]HookFunc, len(l.hooks[event]))
	copy(fns, l.hooks[event])
	l.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.Error("lifecycle hook panicked",
						zap.String("event", string(event)),
						zap.String("plugin", name),
						zap.Any("panic", r),
					)
				}
			}()
			if err := fn(name); err != nil {
				l.log.Warn("lifecycle hook failed",
					zap.String("event", string(event)),
					zap.String("plugin", name),
					zap.Error(err),
				)
			}
		}()
	}
}

// Transition moves the named plugin to the target state, validating
// the edge. Unknown plugins are an error; illegal edges return
// ErrInvalidTransition and leave the state untouched.
func (l *Lifecycle) Transition(name string, to State) error {
	inst, ok := l.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}

	from := inst.State()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s for plugin %q", ErrInvalidTransition, from, to, name)
	}

	inst.setState(to)
	l.log.Debug("lifecycle transition",
		zap.String("plugin", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return nil
}

// Fail moves the plugin to Error with a message, recording it in the
// plugin's health. No-op for terminal states.
func (l *Lifecycle) Fail(name, message string) {
	inst, ok := l.registry.Get(name)
	if !ok {
		return
	}
	if inst.State().IsTerminal() {
		return
	}
	inst.setState(StateError)
	inst.SetHealth("error", false, message)
	l.log.Warn("plugin entered error state",
		zap.String("plugin", name),
		zap.String("reason", message),
	)
}

// StateOf returns the state of the named plugin. Unknown names report
// the initial state rather than erroring.
func (l *Lifecycle) StateOf(name string) State {
	inst, ok := l.registry.Get(name)
	if !ok {
		return StateDiscovered
	}
	return inst.State()
}
