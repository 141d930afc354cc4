package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/pluginhost/internal/plugin/security"
)

// Status is the execution sub-state of a sandboxed plugin.
// Created -> Running -> {Completed, Failed, TimedOut} -> Cleaned.
// Cleaned is always reached, on every exit path.
type Status int

// Execution statuses.
const (
	// StatusCreated - sandbox exists, nothing has run.
	StatusCreated Status = iota

	// StatusRunning - plugin code is executing.
	StatusRunning

	// StatusCompleted - the last execution finished normally.
	StatusCompleted

	// StatusFailed - the last execution failed.
	StatusFailed

	// StatusTimedOut - the last execution exceeded its wall-clock
	// deadline and was forcibly terminated.
	StatusTimedOut

	// StatusCleaned - the sandbox is torn down and its workspace
	// removed.
	StatusCleaned
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// cleanupGrace bounds how long a timed-out worker may take to unwind
// before the runner stops waiting for it.
const cleanupGrace = 2 * time.Second

// Result carries the outcome of one sandboxed execution. Failures are
// structured results, never uncaught faults.
type Result struct {
	// Status is Completed, Failed or TimedOut.
	Status Status

	// Value is the structured return value of the executed chunk or
	// function, converted to Go types. Nil when nothing was returned.
	Value any

	// Output is the captured print output.
	Output string

	// Diagnostics holds the error text for failed executions.
	Diagnostics string

	// DeniedModule names the module whose import was rejected, when
	// the failure was an import denial.
	DeniedModule string

	// Duration is the wall-clock time of the execution.
	Duration time.Duration

	// AdvisoryLimits names declared ceilings the host could not
	// enforce for this execution.
	AdvisoryLimits []string

	// Workspace is the scratch root used by the execution.
	Workspace string
}

// Err returns the failure as an error, or nil for completed results.
func (r *Result) Err() error {
	switch r.Status {
	case StatusTimedOut:
		return fmt.Errorf("execution timed out after %s", r.Duration.Round(time.Millisecond))
	case StatusFailed:
		if r.DeniedModule != "" {
			return &ImportDeniedError{Module: r.DeniedModule}
		}
		return errors.New(r.Diagnostics)
	default:
		return nil
	}
}

// Runner owns one plugin's sandboxed VM and scratch workspace. The
// caller blocks on every execution until it completes, fails or times
// out; a timed-out VM is cancelled and torn down, so no background
// continuation survives the deadline.
type Runner struct {
	mu sync.Mutex

	log  *zap.Logger
	name string

	baseDir string
	limits  security.ResourceLimits
	caps    []security.Capability
	timeout time.Duration

	state  *State
	ws     *Workspace
	status Status
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBaseDir sets where scratch workspaces are created.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithTimeout overrides the execution timeout taken from the limits.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// NewRunner creates a runner for the named plugin. Nothing is
// allocated until Load.
func NewRunner(name string, limits security.ResourceLimits, caps []security.Capability, log *zap.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		log:     log.With(zap.String("plugin", name)),
		name:    name,
		limits:  limits,
		caps:    caps,
		timeout: limits.MaxExecutionTime,
		status:  StatusCreated,
	}
	if r.timeout <= 0 {
		r.timeout = security.DefaultResourceLimits().MaxExecutionTime
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status returns the current execution sub-state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Workspace returns the scratch workspace, or nil before Load.
func (r *Runner) Workspace() *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ws
}

// Loaded reports whether the plugin's VM is alive.
func (r *Runner) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != nil && !r.state.IsClosed()
}

// Load creates the workspace and VM, injects cfg as the global
// `config` table, and executes the plugin entry chunk under the hard
// deadline. On any failure the sandbox is torn down before returning;
// on success the VM stays alive for Call.
func (r *Runner) Load(ctx context.Context, entryPath string, cfg map[string]any) *Result {
	r.mu.Lock()
	if r.state != nil && !r.state.IsClosed() {
		r.mu.Unlock()
		return &Result{Status: StatusFailed, Diagnostics: "plugin is already loaded"}
	}

	ws, err := NewWorkspace(r.baseDir, r.name)
	if err != nil {
		r.status = StatusFailed
		r.mu.Unlock()
		return &Result{Status: StatusFailed, Diagnostics: err.Error()}
	}

	state := NewState(ws, r.limits)
	for _, cap := range r.caps {
		state.Sandbox().Grant(cap)
	}
	state.SetGlobal("config", ToLua(state.LuaState(), cfg))

	r.ws = ws
	r.state = state
	r.mu.Unlock()

	if adv := r.limits.Advisory(); len(adv) > 0 {
		r.log.Debug("resource ceilings are advisory only",
			zap.Strings("limits", adv),
		)
	}

	res := r.run(ctx, func(cctx context.Context) ([]lua.LValue, error) {
		return state.RunFile(cctx, entryPath)
	})

	if res.Status != StatusCompleted {
		// Failed loads never leave a live sandbox behind.
		_ = r.Close()
	}
	return res
}

// Call invokes a global function in the loaded plugin under the hard
// deadline. Missing functions complete successfully: lifecycle entry
// points are optional.
func (r *Runner) Call(ctx context.Context, fn string, args ...any) *Result {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()

	if state == nil || state.IsClosed() {
		return &Result{Status: StatusFailed, Diagnostics: ErrNotLoaded.Error()}
	}

	return r.run(ctx, func(cctx context.Context) ([]lua.LValue, error) {
		luaArgs := make([]lua.LValue, len(args))
		for i, arg := range args {
			luaArgs[i] = ToLua(state.LuaState(), arg)
		}
		vals, _, err := state.CallGlobal(cctx, fn, luaArgs...)
		return vals, err
	})
}

type execOut struct {
	vals []lua.LValue
	err  error
}

// run executes fn on a worker goroutine with the wall-clock deadline
// attached to the VM. The deadline context makes the VM abort even in
// a tight loop; the grace timer bounds how long cleanup may take.
func (r *Runner) run(ctx context.Context, fn func(context.Context) ([]lua.LValue, error)) *Result {
	r.mu.Lock()
	r.status = StatusRunning
	state := r.state
	ws := r.ws
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan execOut, 1)
	go func() {
		vals, err := fn(cctx)
		done <- execOut{vals: vals, err: err}
	}()

	var out execOut
	select {
	case out = <-done:
	case <-time.After(r.timeout + cleanupGrace):
		// The VM failed to honor its cancelled context. Close it out
		// from under the worker; the goroutine exits on its own.
		r.log.Error("worker did not stop at deadline, forcing teardown")
		out = execOut{err: context.DeadlineExceeded}
	}

	res := &Result{
		Duration:       time.Since(start),
		AdvisoryLimits: r.limits.Advisory(),
	}
	if ws != nil {
		res.Workspace = ws.Root
	}
	if state != nil {
		res.Output = state.Sandbox().Output()
	}

	switch {
	case out.err == nil:
		res.Status = StatusCompleted
		res.Value = returnValue(out.vals)

	case errors.Is(out.err, context.DeadlineExceeded) || cctx.Err() == context.DeadlineExceeded:
		res.Status = StatusTimedOut
		res.Diagnostics = fmt.Sprintf("execution exceeded %s", r.timeout)
		r.log.Warn("execution timed out, terminating sandbox",
			zap.Duration("timeout", r.timeout),
		)
		// The deadline forcibly ends this sandbox; nothing may keep
		// running behind the caller's back.
		_ = r.Close()
		r.mu.Lock()
		r.status = StatusTimedOut
		r.mu.Unlock()
		return res

	default:
		res.Status = StatusFailed
		res.Diagnostics = out.err.Error()
		if denied := state.Sandbox().DeniedModule(); denied != "" {
			res.DeniedModule = denied
		}
		if state.Monitor().IsExceeded() {
			res.Diagnostics = fmt.Sprintf("%s (%s)", res.Diagnostics, state.Monitor().ExceededReason())
		}
	}

	r.mu.Lock()
	r.status = res.Status
	r.mu.Unlock()
	return res
}

// returnValue collapses chunk return values to a single Go value.
func returnValue(vals []lua.LValue) any {
	switch len(vals) {
	case 0:
		return nil
	case 1:
		return ToGo(vals[0])
	default:
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = ToGo(v)
		}
		return out
	}
}

// Close tears down the VM and removes the scratch workspace. Always
// leaves the runner in StatusCleaned; safe to call repeatedly.
func (r *Runner) Close() error {
	r.mu.Lock()
	state := r.state
	ws := r.ws
	r.state = nil
	r.ws = nil
	r.status = StatusCleaned
	r.mu.Unlock()

	var errs []error
	if state != nil {
		if err := state.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if ws != nil {
		if err := ws.Remove(); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove workspace: %w", err))
		}
	}
	return errors.Join(errs...)
}
