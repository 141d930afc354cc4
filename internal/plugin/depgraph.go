package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Graph is the plugin dependency graph: plugin name -> dependency
// names. It is rebuilt incrementally as plugins are added and must be
// acyclic to resolve.
type Graph struct {
	mu    sync.RWMutex
	edges map[string][]string
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		edges: make(map[string][]string),
	}
}

// Add records the dependency edges for name, replacing any prior edge
// set for that name. Idempotent per call.
func (g *Graph) Add(name string, deps []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[name] = dedupe(deps)
}

// Remove deletes a node and its outgoing edges.
func (g *Graph) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, name)
}

// Has reports whether name is a node in the graph.
func (g *Graph) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[name]
	return ok
}

// Dependencies returns the recorded dependency names for name.
func (g *Graph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.edges[name]...)
}

// ResolveAll returns every node in topological order: each dependency
// strictly before its dependents. A depth-first walk with a
// currently-visiting marker detects cycles; any cycle fails resolution
// for the whole batch - no partial order is returned.
//
// Edges to names that are not nodes are skipped here; missing
// dependencies are a per-plugin failure handled by the orchestrator,
// not a batch failure.
func (g *Graph) ResolveAll() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.edges))
	for name := range g.edges {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic order across runs

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	marks := make(map[string]int, len(names))
	order := make([]string, 0, len(names))

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: involving plugin %q", ErrDependencyCycle, name)
		}
		marks[name] = visiting

		for _, dep := range g.edges[name] {
			if _, ok := g.edges[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		marks[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Check reports, for each declared dependency of name, whether it is
// structurally present in the graph. Presence does not imply the
// dependency is active.
func (g *Graph) Check(name string) map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]bool)
	for _, dep := range g.edges[name] {
		_, present := g.edges[dep]
		out[dep] = present
	}
	return out
}
