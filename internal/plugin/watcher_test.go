package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherFiresOnRootChange(t *testing.T) {
	root := t.TempDir()
	fired := make(chan struct{}, 1)

	w, err := NewWatcher([]string{root}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.Mkdir(filepath.Join(root, "newplugin"), 0o755); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not fired after root change")
	}
}

func TestWatcherSkipsMissingRoots(t *testing.T) {
	w, err := NewWatcher([]string{filepath.Join(t.TempDir(), "missing")}, func() {}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
