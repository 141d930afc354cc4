package lua

import (
	"bytes"
	"os"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/pluginhost/internal/plugin/security"
)

// safeModules are gopher-lua built-ins importable without any grant.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Sandbox restricts what plugin code can reach: which modules it may
// require, which host APIs are injected, and where its output goes.
type Sandbox struct {
	L *lua.LState

	mu sync.Mutex

	// Module policy. blocked always wins over allowed.
	allowed map[string]bool
	blocked map[string]bool

	capabilities map[security.Capability]bool

	monitor *security.ResourceMonitor
	ws      *Workspace

	output bytes.Buffer

	// deniedModule records the last module rejected by require, so a
	// failed execution can name it in its diagnostics.
	deniedModule string
}

// NewSandbox creates a sandbox for the Lua state. The monitor bounds
// output size and workspace file operations; ws confines file access.
func NewSandbox(L *lua.LState, ws *Workspace, monitor *security.ResourceMonitor) *Sandbox {
	return &Sandbox{
		L:            L,
		allowed:      make(map[string]bool),
		blocked:      make(map[string]bool),
		capabilities: make(map[security.Capability]bool),
		monitor:      monitor,
		ws:           ws,
	}
}

// SetModulePolicy installs the per-plugin allow and block lists.
// Entries on both lists are blocked.
func (s *Sandbox) SetModulePolicy(allowed, blocked []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allowed = make(map[string]bool, len(allowed))
	for _, mod := range allowed {
		s.allowed[mod] = true
	}
	s.blocked = make(map[string]bool, len(blocked))
	for _, mod := range blocked {
		s.blocked[mod] = true
	}
}

// Install sets up the sandbox restrictions. Must be called before any
// plugin code runs.
func (s *Sandbox) Install() {
	// Remove globals that load arbitrary code, bypassing screening.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installPrintCapture()
	s.installRestrictedRequire()
}

// installPrintCapture redirects print into the captured output buffer
// instead of the host's stdout.
func (s *Sandbox) installPrintCapture() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		line := strings.Join(parts, "\t") + "\n"

		if s.monitor != nil && s.monitor.AddOutput(int64(len(line))) {
			L.RaiseError("output size limit exceeded")
			return 0
		}

		s.mu.Lock()
		s.output.WriteString(line)
		s.mu.Unlock()
		return 0
	}))
}

// installRestrictedRequire replaces require with a version enforcing
// the allow/deny module policy. The deny list always wins; a denied
// import aborts the execution naming the module.
func (s *Sandbox) installRestrictedRequire() {
	// Clear package search paths so nothing can be loaded from disk.
	if pkgTable, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		s.mu.Lock()
		blocked := s.blocked[modName]
		allowed := s.allowed[modName]
		s.mu.Unlock()

		if blocked {
			s.deny(L, modName)
			return 0
		}

		if safeModules[modName] || allowed {
			L.Push(originalRequire)
			L.Push(lua.LString(modName))
			L.Call(1, 1)
			return 1
		}

		// Capability-gated standard modules.
		switch modName {
		case "io":
			if s.HasCapability(security.CapabilityFileRead) || s.HasCapability(security.CapabilityFileWrite) {
				L.Push(originalRequire)
				L.Push(lua.LString(modName))
				L.Call(1, 1)
				return 1
			}
		case "os":
			if s.HasCapability(security.CapabilityShell) {
				L.Push(originalRequire)
				L.Push(lua.LString(modName))
				L.Call(1, 1)
				return 1
			}
		case "debug":
			if s.HasCapability(security.CapabilityUnsafe) {
				L.Push(originalRequire)
				L.Push(lua.LString(modName))
				L.Call(1, 1)
				return 1
			}
		}

		s.deny(L, modName)
		return 0
	}))
}

// deny records the rejected module and aborts the current execution.
func (s *Sandbox) deny(L *lua.LState, modName string) {
	s.mu.Lock()
	if s.deniedModule == "" {
		s.deniedModule = modName
	}
	s.mu.Unlock()

	L.RaiseError("%s", (&ImportDeniedError{Module: modName}).Error())
}

// Grant enables a capability and injects the corresponding host API.
func (s *Sandbox) Grant(cap security.Capability) {
	s.mu.Lock()
	s.capabilities[cap] = true
	s.mu.Unlock()

	switch cap {
	case security.CapabilityFileRead, security.CapabilityFileWrite:
		s.injectWorkspaceFS()
	case security.CapabilityShell:
		s.injectEnvAPI()
	case security.CapabilityUnsafe:
		lua.OpenIo(s.L)
		lua.OpenOs(s.L)
		lua.OpenDebug(s.L)
	}
}

// HasCapability returns true if the capability is granted, directly or
// via a granted parent capability.
func (s *Sandbox) HasCapability(cap security.Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capabilities[cap] {
		return true
	}
	for granted := range s.capabilities {
		if security.ImpliesCapability(granted, cap) {
			return true
		}
	}
	return false
}

// Capabilities returns all granted capabilities.
func (s *Sandbox) Capabilities() []security.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps := make([]security.Capability, 0, len(s.capabilities))
	for cap := range s.capabilities {
		caps = append(caps, cap)
	}
	return caps
}

// Output returns everything the plugin printed so far.
func (s *Sandbox) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

// DeniedModule returns the first module rejected by require, or "".
func (s *Sandbox) DeniedModule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deniedModule
}

// injectWorkspaceFS exposes a ws table confined to the workspace.
// Reads require filesystem.read; writes require filesystem.write.
// All operations count against the file-op rate limit.
func (s *Sandbox) injectWorkspaceFS() {
	if s.ws == nil {
		return
	}

	wsMod := s.L.NewTable()

	s.L.SetField(wsMod, "read", s.L.NewFunction(func(L *lua.LState) int {
		if !s.HasCapability(security.CapabilityFileRead) {
			L.RaiseError("%s", (&security.CapabilityError{Capability: security.CapabilityFileRead, Operation: "ws.read"}).Error())
			return 0
		}
		if s.monitor != nil && !s.monitor.TryFileOp() {
			L.RaiseError("file operation rate limit exceeded")
			return 0
		}

		path, err := s.ws.Resolve(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		data, err := os.ReadFile(path)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	}))

	s.L.SetField(wsMod, "write", s.L.NewFunction(func(L *lua.LState) int {
		if !s.HasCapability(security.CapabilityFileWrite) {
			L.RaiseError("%s", (&security.CapabilityError{Capability: security.CapabilityFileWrite, Operation: "ws.write"}).Error())
			return 0
		}
		if s.monitor != nil && !s.monitor.TryFileOp() {
			L.RaiseError("file operation rate limit exceeded")
			return 0
		}

		path, err := s.ws.Resolve(L.CheckString(1))
		if err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if err := os.WriteFile(path, []byte(L.CheckString(2)), 0o644); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	s.L.SetField(wsMod, "data_dir", lua.LString(s.ws.DataDir))
	s.L.SetField(wsMod, "config_dir", lua.LString(s.ws.ConfigDir))
	s.L.SetField(wsMod, "log_dir", lua.LString(s.ws.LogDir))

	s.L.SetGlobal("ws", wsMod)
}

// injectEnvAPI exposes a minimal env table under the shell capability.
// Command execution is intentionally absent even with the grant.
func (s *Sandbox) injectEnvAPI() {
	envMod := s.L.NewTable()

	s.L.SetField(envMod, "get", s.L.NewFunction(func(L *lua.LState) int {
		value := os.Getenv(L.CheckString(1))
		if value == "" {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(value))
		}
		return 1
	}))

	s.L.SetGlobal("env", envMod)
}
