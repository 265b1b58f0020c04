// Package score maps findings to a deterministic risk value in [0,1].
package score

import (
	"math"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

// Risk combines the weights of distinct finding codes as the complement of
// the no-hit probability: 1 − ∏(1 − wᵢ). Duplicate codes collapse to their
// first occurrence, so scoring is independent of text length and of how
// often a rule fired.
func Risk(findings []model.Finding) float64 {
	seen := make(map[string]bool, len(findings))
	clear := 1.0
	for _, f := range findings {
		if seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		w := f.Weight
		if w < 0 {
			w = 0
		}
		if w > 1 {
			w = 1
		}
		clear *= 1 - w
	}
	risk := 1 - clear
	if risk < 0 {
		return 0
	}
	if risk > 1 {
		return 1
	}
	return risk
}

// Round4 rounds a risk score to four decimal places. Decisions compare the
// rounded value so results are stable across float formatting.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
