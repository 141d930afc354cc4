package plugin

import (
	"errors"
	"testing"
)

func TestResolveAllOrdersDependenciesFirst(t *testing.T) {
	g := NewGraph()
	g.Add("alpha", []string{"beta"})
	g.Add("beta", nil)

	order, err := g.ResolveAll()
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if len(order) != 2 || order[0] != "beta" || order[1] != "alpha" {
		t.Errorf("order = %v, want [beta alpha]", order)
	}
}

func TestResolveAllChain(t *testing.T) {
	g := NewGraph()
	g.Add("c", []string{"b"})
	g.Add("b", []string{"a"})
	g.Add("a", nil)

	order, err := g.ResolveAll()
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("order = %v, want a before b before c", order)
	}
}

func TestResolveAllCycleFailsWholeBatch(t *testing.T) {
	g := NewGraph()
	g.Add("a", []string{"b"})
	g.Add("b", []string{"a"})
	g.Add("standalone", nil)

	order, err := g.ResolveAll()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("error = %v, want ErrDependencyCycle", err)
	}
	if order != nil {
		t.Errorf("order = %v, want no partial order on cycle", order)
	}
}

func TestResolveAllSkipsEdgesToUnknownNodes(t *testing.T) {
	g := NewGraph()
	g.Add("alpha", []string{"ghost"})

	order, err := g.ResolveAll()
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if len(order) != 1 || order[0] != "alpha" {
		t.Errorf("order = %v, want [alpha]", order)
	}
}

func TestResolveAllDeterministic(t *testing.T) {
	g := NewGraph()
	g.Add("zeta", nil)
	g.Add("alpha", nil)
	g.Add("mid", nil)

	first, err := g.ResolveAll()
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := g.ResolveAll()
		if err != nil {
			t.Fatalf("ResolveAll: %v", err)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("order changed between runs: %v vs %v", first, again)
			}
		}
	}
}

func TestCheckReportsStructuralPresence(t *testing.T) {
	g := NewGraph()
	g.Add("alpha", []string{"beta", "ghost"})
	g.Add("beta", nil)

	checks := g.Check("alpha")
	if !checks["beta"] {
		t.Error("beta should be present")
	}
	if checks["ghost"] {
		t.Error("ghost should be missing")
	}
}

func TestRemoveDropsNode(t *testing.T) {
	g := NewGraph()
	g.Add("alpha", []string{"beta"})
	g.Add("beta", nil)
	g.Remove("beta")

	if g.Has("beta") {
		t.Error("beta still present after Remove")
	}
	if checks := g.Check("alpha"); checks["beta"] {
		t.Error("alpha still sees beta as present")
	}
}

func TestAddDedupesDependencies(t *testing.T) {
	g := NewGraph()
	g.Add("alpha", []string{"beta", "beta", ""})

	deps := g.Dependencies("alpha")
	if len(deps) != 1 || deps[0] != "beta" {
		t.Errorf("deps = %v, want [beta]", deps)
	}
}
