package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// entryFiles are the accepted entry source files, in preference order.
var entryFiles = []string{"init.lua", "plugin.lua"}

// Loader discovers plugins on disk and builds their descriptors.
// One directory per plugin under each configured root.
type Loader struct {
	roots []string
	log   *zap.Logger
}

// NewLoader creates a loader scanning the given roots.
func NewLoader(roots []string, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		roots: append([]string{}, roots...),
		log:   log,
	}
}

// Roots returns the configured scan roots.
func (l *Loader) Roots() []string {
	return append([]string{}, l.roots...)
}

// AddRoot adds a scan root.
func (l *Loader) AddRoot(root string) {
	l.roots = append(l.roots, root)
}

// Scan enumerates candidate plugin directories under every root and
// returns their descriptors sorted by name. Missing roots are skipped;
// manifest problems are recorded on the descriptor, never fatal. When
// the same name appears under several roots the later scan wins, which
// matches re-discovery overwriting the registry entry.
func (l *Loader) Scan() []*Descriptor {
	byName := make(map[string]*Descriptor)

	for _, root := range l.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				l.log.Warn("plugin root unreadable",
					zap.String("root", root),
					zap.Error(err),
				)
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			desc, err := l.inspect(filepath.Join(root, entry.Name()), entry.Name())
			if err != nil {
				l.log.Warn("skipping plugin directory",
					zap.String("dir", entry.Name()),
					zap.Error(err),
				)
				continue
			}
			if prior, exists := byName[desc.Name]; exists {
				l.log.Warn("duplicate plugin name, later scan wins",
					zap.String("name", desc.Name),
					zap.String("replaced", prior.Path),
					zap.String("kept", desc.Path),
				)
			}
			byName[desc.Name] = desc
		}
	}

	descs := make([]*Descriptor, 0, len(byName))
	for _, d := range byName {
		descs = append(descs, d)
	}
	sort.Slice(descs, func(i, j int) bool {
		return descs[i].Name < descs[j].Name
	})

	l.log.Info("plugin discovery complete",
		zap.Int("found", len(descs)),
		zap.Strings("roots", l.roots),
	)
	return descs
}

// inspect builds a descriptor from one plugin directory.
func (l *Loader) inspect(dir, dirName string) (*Descriptor, error) {
	entry := ""
	for _, name := range entryFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			entry = name
			break
		}
	}
	if entry == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryPoint, dir)
	}

	manifest, violations := ReadManifest(filepath.Join(dir, ManifestFile), dirName)

	return &Descriptor{
		Name:               manifest.Name,
		Version:            manifest.Version,
		Description:        manifest.Description,
		Author:             manifest.Author,
		Category:           manifest.Category,
		Dependencies:       dedupe(manifest.Dependencies),
		Permissions:        manifest.Capabilities(),
		Limits:             manifest.ResourceLimits(),
		Path:               dir,
		EntryFile:          entry,
		ManifestViolations: violations,
	}, nil
}
