// Package policy owns the decision surface: profiles with their thresholds,
// hard-block reason sets, the deterministic decider, and the immutable
// policy snapshot handed to every scan.
package policy

import (
	"sort"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

// Profile is a named threshold set. Scores below WarnAt allow, scores in
// [WarnAt, BlockAt) warn, scores at or above BlockAt block.
type Profile struct {
	Name    string
	WarnAt  float64
	BlockAt float64
}

// DefaultProfile applies when no profile is configured.
const DefaultProfile = "balanced"

var profiles = map[string]Profile{
	"strict":     {Name: "strict", WarnAt: 0.20, BlockAt: 0.40},
	"balanced":   {Name: "balanced", WarnAt: 0.35, BlockAt: 0.65},
	"permissive": {Name: "permissive", WarnAt: 0.55, BlockAt: 0.80},
}

// GetProfile resolves a profile by name. Unknown names fail closed to
// strict.
func GetProfile(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles["strict"]
}

// KnownProfile reports whether name is a configured profile.
func KnownProfile(name string) bool {
	_, ok := profiles[name]
	return ok
}

// hardBlock reasons force BLOCK regardless of score, in every profile.
var hardBlock = map[string]bool{
	model.ReasonSSRFBlocked:               true,
	model.ReasonNewSourceRequiresApproval: true,
	model.ReasonTagChars:                  true,
	model.ReasonSizeExceeded:              true,
}

// strictOnlyHardBlock reasons force BLOCK only under the strict profile.
var strictOnlyHardBlock = map[string]bool{
	model.ReasonEncodingInvalid: true,
}

// DefaultHideSanitized is the reason set whose BLOCKs withhold sanitized
// output entirely.
var DefaultHideSanitized = map[string]bool{
	model.ReasonSecretExfil: true,
	model.ReasonSSRFBlocked: true,
}

// sortedReasons returns a deduplicated, sorted copy used for deterministic
// hard-block evaluation.
func sortedReasons(reasons []string) []string {
	seen := make(map[string]bool, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}
