package security

import "testing"

func TestAdvisoryNamesUnenforceableCeilings(t *testing.T) {
	adv := DefaultResourceLimits().Advisory()
	if len(adv) != 2 {
		t.Fatalf("advisory = %v, want memory and cpu", adv)
	}

	none := ResourceLimits{}
	if got := none.Advisory(); len(got) != 0 {
		t.Errorf("advisory = %v, want none for zero limits", got)
	}
}

func TestResourceMonitorOutputCeiling(t *testing.T) {
	limits := DefaultResourceLimits()
	limits.MaxOutputSize = 10
	rm := NewResourceMonitor(limits)

	if rm.AddOutput(5) {
		t.Fatal("5 of 10 bytes reported exceeded")
	}
	if !rm.AddOutput(6) {
		t.Fatal("11 of 10 bytes not reported exceeded")
	}
	if !rm.IsExceeded() {
		t.Error("exceeded flag not set")
	}
	if rm.ExceededReason() == "" {
		t.Error("no exceeded reason recorded")
	}

	rm.Reset()
	if rm.IsExceeded() {
		t.Error("reset did not clear exceeded state")
	}
}

func TestResourceMonitorFileOpRate(t *testing.T) {
	limits := DefaultResourceLimits()
	limits.FileOpsPerSecond = 2
	rm := NewResourceMonitor(limits)

	if !rm.TryFileOp() || !rm.TryFileOp() {
		t.Fatal("ops within budget denied")
	}
	if rm.TryFileOp() {
		t.Fatal("op over budget allowed")
	}
	if !rm.IsExceeded() {
		t.Error("exceeded flag not set after rate denial")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !rl.Allow() {
			t.Fatal("unlimited limiter denied an op")
		}
	}
}
