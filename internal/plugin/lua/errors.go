package lua

import (
	"errors"
	"fmt"
)

// Sandbox execution errors.
var (
	// ErrStateClosed is returned when using a closed Lua state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNotLoaded is returned when calling into a runner whose plugin
	// code has not been loaded.
	ErrNotLoaded = errors.New("plugin code is not loaded")
)

// ImportDeniedError is returned when sandboxed code imports a module
// outside its allow list or on its block list.
type ImportDeniedError struct {
	Module string
}

// Error implements the error interface.
func (e *ImportDeniedError) Error() string {
	return fmt.Sprintf("import denied: module %q is not allowed in this sandbox", e.Module)
}
