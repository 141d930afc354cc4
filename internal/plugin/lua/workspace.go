package lua

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is the scratch area for a single sandboxed execution.
// The root is uniquely named per execution and must be removed on
// every exit path.
type Workspace struct {
	// Root is the workspace root directory.
	Root string

	// ConfigDir holds plugin configuration scratch files.
	ConfigDir string

	// DataDir holds plugin data scratch files.
	DataDir string

	// LogDir holds plugin log scratch files.
	LogDir string
}

// NewWorkspace creates a scratch workspace for the named plugin under
// baseDir (os.TempDir when empty). The root name embeds a uuid so
// concurrent executions of the same plugin never collide.
func NewWorkspace(baseDir, pluginName string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	root := filepath.Join(baseDir, fmt.Sprintf("pluginhost-%s-%s", pluginName, uuid.NewString()))
	ws := &Workspace{
		Root:      root,
		ConfigDir: filepath.Join(root, "config"),
		DataDir:   filepath.Join(root, "data"),
		LogDir:    filepath.Join(root, "logs"),
	}

	for _, dir := range []string{ws.ConfigDir, ws.DataDir, ws.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create sandbox workspace: %w", err)
		}
	}

	return ws, nil
}

// Contains reports whether path resolves to a location inside the
// workspace root. Used by the sandboxed file API to keep plugin file
// access confined to the scratch area.
func (w *Workspace) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return filepath.IsLocal(rel)
}

// Resolve joins path onto the workspace data directory when it is
// relative, and validates containment either way.
func (w *Workspace) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.DataDir, path)
	}
	if !w.Contains(path) {
		return "", fmt.Errorf("path %q escapes the sandbox workspace", path)
	}
	return path, nil
}

// Remove deletes the workspace root and everything under it.
// Safe to call more than once.
func (w *Workspace) Remove() error {
	if w.Root == "" {
		return nil
	}
	return os.RemoveAll(w.Root)
}
