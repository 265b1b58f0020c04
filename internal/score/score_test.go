package score

import (
	"testing"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

func f(code string, w float64) model.Finding {
	return model.Finding{Code: code, Weight: w}
}

func TestRiskEmpty(t *testing.T) {
	if got := Risk(nil); got != 0 {
		t.Errorf("Risk(nil) = %v", got)
	}
}

func TestRiskSingle(t *testing.T) {
	if got := Risk([]model.Finding{f("A", 0.6)}); got != 0.6 {
		t.Errorf("got %v", got)
	}
}

func TestRiskCombines(t *testing.T) {
	got := Risk([]model.Finding{f("A", 0.6), f("B", 0.5)})
	want := 1 - 0.4*0.5
	if Round4(got) != Round4(want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestRiskDuplicatesCollapse(t *testing.T) {
	once := Risk([]model.Finding{f("A", 0.5)})
	twice := Risk([]model.Finding{f("A", 0.5), f("A", 0.5)})
	if once != twice {
		t.Errorf("duplicate code changed score: %v vs %v", once, twice)
	}
}

func TestRiskClamped(t *testing.T) {
	got := Risk([]model.Finding{f("A", 1.0), f("B", 0.9)})
	if got > 1 {
		t.Errorf("score above 1: %v", got)
	}
}

func TestRiskMonotone(t *testing.T) {
	base := Risk([]model.Finding{f("A", 0.4)})
	more := Risk([]model.Finding{f("A", 0.4), f("B", 0.2)})
	if more <= base {
		t.Errorf("adding a finding should raise the score: %v → %v", base, more)
	}
}

func TestRound4(t *testing.T) {
	if Round4(0.66666) != 0.6667 {
		t.Errorf("got %v", Round4(0.66666))
	}
	if Round4(0.12344) != 0.1234 {
		t.Errorf("got %v", Round4(0.12344))
	}
}
