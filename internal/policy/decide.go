package policy

import (
	"github.com/bridgewarden/bridgewarden/internal/model"
	"github.com/bridgewarden/bridgewarden/internal/score"
)

// Decide maps a risk score and reason set to a decision under the given
// profile. The score is rounded to four decimal places before comparison
// and the reason set is deduplicated and sorted, so the decision is a pure
// function of its inputs.
func Decide(profile Profile, riskScore float64, reasons []string) model.Decision {
	rounded := score.Round4(riskScore)

	strict := profile.Name == "strict"
	for _, r := range sortedReasons(reasons) {
		if hardBlock[r] {
			return model.Block
		}
		if strict && strictOnlyHardBlock[r] {
			return model.Block
		}
	}

	switch {
	case rounded >= profile.BlockAt:
		return model.Block
	case rounded >= profile.WarnAt:
		return model.Warn
	default:
		return model.Allow
	}
}

// HideSanitized reports whether any triggered reason withholds sanitized
// output on BLOCK.
func HideSanitized(hide map[string]bool, reasons []string) bool {
	for _, r := range reasons {
		if hide[r] {
			return true
		}
	}
	return false
}
