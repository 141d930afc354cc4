package plugin

import "testing"

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry(nil)
	r.Put(NewInstance(&Descriptor{Name: "alpha"}))

	if inst, ok := r.Get("alpha"); !ok || inst.Name() != "alpha" {
		t.Fatal("alpha not retrievable")
	}
	if !r.Has("alpha") || r.Has("ghost") {
		t.Error("Has answers wrong")
	}

	r.Remove("alpha")
	if r.Has("alpha") {
		t.Error("alpha still present after Remove")
	}
}

func TestRegistryOverwriteKeepsLatest(t *testing.T) {
	r := NewRegistry(nil)
	r.Put(NewInstance(&Descriptor{Name: "alpha", Path: "/old"}))
	r.Put(NewInstance(&Descriptor{Name: "alpha", Path: "/new"}))

	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
	inst, _ := r.Get("alpha")
	if inst.Descriptor().Path != "/new" {
		t.Errorf("path = %q, want the re-registered /new", inst.Descriptor().Path)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Put(NewInstance(&Descriptor{Name: name}))
	}

	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	for i, w := range want {
		if names[i] != w {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry(nil)
	a := NewInstance(&Descriptor{Name: "a", Category: "tools"})
	b := NewInstance(&Descriptor{Name: "b", Category: "tools"})
	c := NewInstance(&Descriptor{Name: "c", Category: "ui"})
	a.setState(StateActive)
	b.setState(StateError)
	for _, inst := range []*Instance{a, b, c} {
		r.Put(inst)
	}

	if got := r.CountByState(StateActive); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	states := r.StateCounts()
	if states["active"] != 1 || states["error"] != 1 || states["discovered"] != 1 {
		t.Errorf("state counts = %v", states)
	}
	cats := r.CategoryCounts()
	if cats["tools"] != 2 || cats["ui"] != 1 {
		t.Errorf("category counts = %v", cats)
	}
}
