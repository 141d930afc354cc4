package security

import (
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"
)

// DefaultMaxSourceLen is the source size ceiling in characters.
const DefaultMaxSourceLen = 100_000

// Assessment is the result of screening a plugin.
type Assessment struct {
	// Valid is true only when no violations were found.
	Valid bool `json:"valid"`

	// Violations lists every rule the plugin broke.
	Violations []string `json:"violations"`

	// Risk is the coarse classification derived from the violations.
	// RiskHigh plugins are never loaded.
	Risk RiskTier `json:"risk_tier"`
}

// deniedModules is the fixed deny-list of Lua modules a plugin source
// may not import: process/OS control, raw filesystem access,
// interpreter introspection, and module machinery that can load
// arbitrary code from disk.
var deniedModules = map[string]string{
	"os":      "process and OS control",
	"io":      "raw filesystem access",
	"debug":   "interpreter introspection",
	"package": "arbitrary module loading",
	"ffi":     "native code execution",
}

// requirePattern matches require("mod") / require 'mod' forms.
var requirePattern = regexp.MustCompile(`require\s*\(?\s*['"]([\w./-]+)['"]`)

// dangerousCalls are call patterns that force RiskHigh: dynamic
// evaluation, dynamic compilation, and OS command execution.
var dangerousCalls = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`\bload\s*\(`), "dynamic evaluation via load()"},
	{regexp.MustCompile(`\bloadstring\s*\(`), "dynamic evaluation via loadstring()"},
	{regexp.MustCompile(`\bdofile\s*\(`), "dynamic compilation via dofile()"},
	{regexp.MustCompile(`\bloadfile\s*\(`), "dynamic compilation via loadfile()"},
	{regexp.MustCompile(`\bos\.execute\s*\(`), "OS command execution via os.execute()"},
	{regexp.MustCompile(`\bio\.popen\s*\(`), "OS command execution via io.popen()"},
}

// Validator statically screens plugin source and manifest data.
// Checks are cumulative; every match is recorded as a violation.
type Validator struct {
	maxSourceLen int
	log          *zap.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithMaxSourceLen overrides the source size ceiling.
func WithMaxSourceLen(n int) ValidatorOption {
	return func(v *Validator) {
		v.maxSourceLen = n
	}
}

// NewValidator creates a validator.
func NewValidator(log *zap.Logger, opts ...ValidatorOption) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	v := &Validator{
		maxSourceLen: DefaultMaxSourceLen,
		log:          log,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate screens the entry source at sourcePath together with the
// manifest's requested permissions. manifestViolations carries issues
// found while parsing the manifest; they are folded into the result.
//
// An unreadable source yields a single read-error violation at
// RiskHigh: a plugin that cannot be screened is not screened as safe.
func (v *Validator) Validate(sourcePath string, permissions []Capability, manifestViolations []string) Assessment {
	violations := append([]string{}, manifestViolations...)
	highRisk := false

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		v.log.Warn("plugin source unreadable, failing closed",
			zap.String("path", sourcePath),
			zap.Error(err),
		)
		return Assessment{
			Valid:      false,
			Violations: append(violations, fmt.Sprintf("source read error: %v", err)),
			Risk:       RiskHigh,
		}
	}

	// Rule 1: source size ceiling.
	if len(src) > v.maxSourceLen {
		violations = append(violations,
			fmt.Sprintf("source exceeds %d characters (%d)", v.maxSourceLen, len(src)))
	}

	// Rule 2: restricted-module import scan.
	for _, match := range requirePattern.FindAllSubmatch(src, -1) {
		mod := string(match[1])
		if reason, denied := deniedModules[mod]; denied {
			violations = append(violations,
				fmt.Sprintf("restricted module import %q (%s)", mod, reason))
			highRisk = true
		}
	}

	// Rule 3: dangerous call patterns.
	for _, dc := range dangerousCalls {
		if dc.pattern.Match(src) {
			violations = append(violations, "dangerous call pattern: "+dc.label)
			highRisk = true
		}
	}

	// Rule 4: permission tags must belong to the fixed vocabulary, and
	// high-risk grants are surfaced as violations so they can be
	// reviewed. They do not block loading; the sandbox gates them.
	for _, perm := range permissions {
		info, known := GetCapabilityInfo(perm)
		if !known {
			violations = append(violations,
				fmt.Sprintf("unknown permission tag %q", perm))
			continue
		}
		if info.Risk == RiskHigh {
			violations = append(violations,
				fmt.Sprintf("high-risk permission requested %q", perm))
		}
	}

	risk := RiskLow
	switch {
	case highRisk:
		risk = RiskHigh
	case len(violations) > 0:
		risk = RiskMedium
	}

	a := Assessment{
		Valid:      len(violations) == 0,
		Violations: violations,
		Risk:       risk,
	}

	if !a.Valid {
		v.log.Info("plugin screening found violations",
			zap.String("path", sourcePath),
			zap.Strings("violations", a.Violations),
			zap.String("risk", a.Risk.String()),
		)
	}

	return a
}
