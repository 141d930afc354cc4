package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "init.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestValidateCleanSource(t *testing.T) {
	path := writeSource(t, `
local greeting = "hello"
function init()
  print(greeting)
end
return true
`)

	a := NewValidator(nil).Validate(path, []Capability{CapabilityFileRead}, nil)
	if !a.Valid {
		t.Fatalf("expected valid, got violations: %v", a.Violations)
	}
	if a.Risk != RiskLow {
		t.Errorf("risk = %s, want low", a.Risk)
	}
	if len(a.Violations) != 0 {
		t.Errorf("violations = %v, want none", a.Violations)
	}
}

func TestValidateDeniedModuleImport(t *testing.T) {
	path := writeSource(t, `local o = require("os")`)

	a := NewValidator(nil).Validate(path, nil, nil)
	if a.Valid {
		t.Fatal("expected invalid")
	}
	if a.Risk != RiskHigh {
		t.Errorf("risk = %s, want high", a.Risk)
	}
	found := false
	for _, v := range a.Violations {
		if strings.Contains(v, `restricted module import "os"`) {
			found = true
		}
	}
	if !found {
		t.Errorf("violations %v do not name the os module", a.Violations)
	}
}

func TestValidateDangerousCalls(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"load", `local f = load("return 1")`},
		{"loadstring", `loadstring("return 1")`},
		{"dofile", `dofile("other.lua")`},
		{"loadfile", `loadfile("other.lua")`},
		{"os.execute", `os.execute("ls")`},
		{"io.popen", `io.popen("ls")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSource(t, tt.source)
			a := NewValidator(nil).Validate(path, nil, nil)
			if a.Risk != RiskHigh {
				t.Errorf("risk = %s, want high for %q", a.Risk, tt.source)
			}
			if a.Valid {
				t.Error("expected invalid")
			}
		})
	}
}

func TestValidateSimilarNamesNotFlagged(t *testing.T) {
	// download() is not load(); preload is not a restricted import.
	path := writeSource(t, `
local data = download("something")
local mod = require("mypreload")
`)

	a := NewValidator(nil).Validate(path, nil, nil)
	if !a.Valid {
		t.Errorf("expected valid, got violations: %v", a.Violations)
	}
}

func TestValidateOversizeSource(t *testing.T) {
	path := writeSource(t, "-- "+strings.Repeat("x", 100))

	a := NewValidator(nil, WithMaxSourceLen(50)).Validate(path, nil, nil)
	if a.Valid {
		t.Fatal("expected invalid")
	}
	if a.Risk != RiskMedium {
		t.Errorf("risk = %s, want medium", a.Risk)
	}
}

func TestValidateUnknownPermissionTag(t *testing.T) {
	path := writeSource(t, `return true`)

	a := NewValidator(nil).Validate(path, []Capability{"telepathy"}, nil)
	if a.Valid {
		t.Fatal("expected invalid")
	}
	if a.Risk != RiskMedium {
		t.Errorf("risk = %s, want medium", a.Risk)
	}
}

func TestValidateHighRiskPermissionFlagged(t *testing.T) {
	path := writeSource(t, `return true`)

	a := NewValidator(nil).Validate(path, []Capability{CapabilityUnsafe}, nil)
	if a.Valid {
		t.Fatal("expected invalid")
	}
	if a.Risk != RiskMedium {
		t.Errorf("risk = %s, want medium (sandbox still gates the grant)", a.Risk)
	}
	if !strings.Contains(a.Violations[0], "high-risk permission") {
		t.Errorf("violations = %v", a.Violations)
	}
}

func TestValidateUnreadableSourceFailsClosed(t *testing.T) {
	a := NewValidator(nil).Validate(filepath.Join(t.TempDir(), "missing.lua"), nil, nil)
	if a.Valid {
		t.Fatal("expected invalid")
	}
	if a.Risk != RiskHigh {
		t.Errorf("risk = %s, want high", a.Risk)
	}
	if len(a.Violations) == 0 {
		t.Error("expected a read-error violation")
	}
}

func TestValidateFoldsManifestViolations(t *testing.T) {
	path := writeSource(t, `return true`)

	a := NewValidator(nil).Validate(path, nil, []string{"manifest missing; defaults applied"})
	if a.Valid {
		t.Fatal("expected invalid")
	}
	if a.Risk != RiskMedium {
		t.Errorf("risk = %s, want medium", a.Risk)
	}
	if len(a.Violations) != 1 {
		t.Errorf("violations = %v, want exactly the folded manifest violation", a.Violations)
	}
}

func TestValidateViolationsAccumulate(t *testing.T) {
	path := writeSource(t, `
require("os")
require("debug")
load("return 1")
`)

	a := NewValidator(nil).Validate(path, []Capability{"bogus"}, []string{"manifest missing"})
	if len(a.Violations) < 4 {
		t.Errorf("violations = %v, want all rules recorded", a.Violations)
	}
	if a.Risk != RiskHigh {
		t.Errorf("risk = %s, want high", a.Risk)
	}
}
