package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/pluginhost/internal/plugin/security"
)

// State wraps a gopher-lua LState with sandboxing for plugin execution.
//
// gopher-lua's LState is not goroutine-safe; the mutex serializes
// access from Go code. Memory and cpu ceilings are advisory only - the
// VM exposes no primitive to enforce them.
type State struct {
	L *lua.LState

	mu sync.Mutex

	sandbox *Sandbox
	monitor *security.ResourceMonitor

	closed bool
}

// NewState creates a sandboxed Lua state. Only the safe standard
// libraries are opened; everything else goes through the sandbox's
// restricted require.
func NewState(ws *Workspace, limits security.ResourceLimits) *State {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	// Base plus the package machinery (required for require itself),
	// then the safe value libraries. io, os and debug stay closed.
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	monitor := security.NewResourceMonitor(limits)

	s := &State{
		L:       L,
		monitor: monitor,
	}
	s.sandbox = NewSandbox(L, ws, monitor)
	s.sandbox.SetModulePolicy(limits.AllowedModules, limits.BlockedModules)
	s.sandbox.Install()

	return s
}

// Sandbox returns the sandbox for capability management.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// Monitor returns the resource monitor for this state.
func (s *State) Monitor() *security.ResourceMonitor {
	return s.monitor
}

// RunFile loads and executes a Lua file under the given context.
// The context's deadline is attached to the VM, so expiry aborts the
// execution even inside a tight loop. Return values of the chunk are
// left for the caller, already popped off the stack.
func (s *State) RunFile(ctx context.Context, path string) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fn, err := s.L.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s.pcall(ctx, fn)
}

// CallGlobal calls a global function if it exists. Missing globals are
// not an error: lifecycle entry points are optional.
func (s *State) CallGlobal(ctx context.Context, name string, args ...lua.LValue) ([]lua.LValue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(name)
	if fnVal.Type() != lua.LTFunction {
		return nil, false, nil
	}

	results, err := s.pcall(ctx, fnVal.(*lua.LFunction), args...)
	return results, true, err
}

// pcall runs fn with panic recovery and the context attached to the
// VM. Must be called with the mutex held.
func (s *State) pcall(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (results []lua.LValue, err error) {
	if ctx != nil {
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	stackTop := s.L.GetTop()
	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}

	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	nRet := s.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results = make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(stackTop + i + 1)
	}
	s.L.Pop(nRet)
	return results, nil
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// HasGlobalFunction reports whether a global function exists.
func (s *State) HasGlobalFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// LuaState returns the underlying LState.
//
// WARNING: direct access bypasses the mutex and the sandbox.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the VM. After Close all methods return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
