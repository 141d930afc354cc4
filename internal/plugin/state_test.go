package plugin

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDiscovered, StateLoaded, true},
		{StateLoaded, StateInitialized, true},
		{StateInitialized, StateActive, true},
		{StateActive, StateInactive, true},
		{StateInactive, StateActive, true},
		{StateActive, StateUnloaded, true},
		{StateInactive, StateUnloaded, true},
		{StateError, StateUnloaded, true},

		// Error is reachable from every non-terminal state.
		{StateDiscovered, StateError, true},
		{StateActive, StateError, true},
		{StateInactive, StateError, true},

		// Illegal edges.
		{StateDiscovered, StateActive, false},
		{StateLoaded, StateActive, false},
		{StateDiscovered, StateUnloaded, false},
		{StateActive, StateLoaded, false},

		// Unloaded is terminal.
		{StateUnloaded, StateLoaded, false},
		{StateUnloaded, StateError, false},
		{StateUnloaded, StateActive, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateActive.String() != "active" {
		t.Errorf("StateActive = %q", StateActive.String())
	}
	if State(99).String() != "unknown" {
		t.Errorf("out-of-range state = %q", State(99).String())
	}
}

func TestIsTerminal(t *testing.T) {
	if !StateUnloaded.IsTerminal() {
		t.Error("StateUnloaded should be terminal")
	}
	if StateError.IsTerminal() {
		t.Error("StateError should not be terminal")
	}
}
