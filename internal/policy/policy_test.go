package policy

import (
	"testing"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

func TestDecideThresholds(t *testing.T) {
	tests := []struct {
		profile string
		score   float64
		want    model.Decision
	}{
		{"strict", 0.19, model.Allow},
		{"strict", 0.20, model.Warn},
		{"strict", 0.39, model.Warn},
		{"strict", 0.40, model.Block},
		{"balanced", 0.34, model.Allow},
		{"balanced", 0.35, model.Warn},
		{"balanced", 0.64, model.Warn},
		{"balanced", 0.65, model.Block},
		{"permissive", 0.54, model.Allow},
		{"permissive", 0.55, model.Warn},
		{"permissive", 0.79, model.Warn},
		{"permissive", 0.80, model.Block},
	}
	for _, tt := range tests {
		got := Decide(GetProfile(tt.profile), tt.score, nil)
		if got != tt.want {
			t.Errorf("Decide(%s, %v) = %s, want %s", tt.profile, tt.score, got, tt.want)
		}
	}
}

func TestDecideHardBlock(t *testing.T) {
	for _, reason := range []string{
		model.ReasonSSRFBlocked,
		model.ReasonNewSourceRequiresApproval,
		model.ReasonTagChars,
		model.ReasonSizeExceeded,
	} {
		for _, profile := range []string{"strict", "balanced", "permissive"} {
			got := Decide(GetProfile(profile), 0.0, []string{reason})
			if got != model.Block {
				t.Errorf("%s under %s = %s, want BLOCK", reason, profile, got)
			}
		}
	}
}

func TestEncodingInvalidStrictOnly(t *testing.T) {
	reasons := []string{model.ReasonEncodingInvalid}
	if got := Decide(GetProfile("strict"), 0.0, reasons); got != model.Block {
		t.Errorf("strict: got %s", got)
	}
	if got := Decide(GetProfile("balanced"), 0.0, reasons); got == model.Block {
		t.Error("balanced should not hard-block on ENCODING_INVALID")
	}
}

func TestDecideRounding(t *testing.T) {
	// 0.64995 rounds to 0.65 and crosses the balanced block threshold.
	if got := Decide(GetProfile("balanced"), 0.64995, nil); got != model.Block {
		t.Errorf("got %s", got)
	}
	// 0.64994 rounds to 0.6499 and stays WARN.
	if got := Decide(GetProfile("balanced"), 0.64994, nil); got != model.Warn {
		t.Errorf("got %s", got)
	}
}

func TestMonotoneProfiles(t *testing.T) {
	// If strict allows a score, balanced and permissive do too; if
	// permissive blocks on score alone, so do the others.
	for _, sc := range []float64{0.0, 0.1, 0.19, 0.3, 0.5, 0.7, 0.85, 1.0} {
		strict := Decide(GetProfile("strict"), sc, nil)
		balanced := Decide(GetProfile("balanced"), sc, nil)
		permissive := Decide(GetProfile("permissive"), sc, nil)
		if strict == model.Allow && (balanced != model.Allow || permissive != model.Allow) {
			t.Errorf("score %v: strict allows but %s/%s", sc, balanced, permissive)
		}
		if permissive == model.Block && (balanced != model.Block || strict != model.Block) {
			t.Errorf("score %v: permissive blocks but %s/%s", sc, balanced, strict)
		}
	}
}

func TestUnknownProfileFailsClosed(t *testing.T) {
	if GetProfile("nope").Name != "strict" {
		t.Error("unknown profile should resolve to strict")
	}
}

func TestSnapshotVersionStable(t *testing.T) {
	a, err := LoadSnapshot("balanced")
	if err != nil {
		t.Fatal(err)
	}
	b, err := LoadSnapshot("balanced")
	if err != nil {
		t.Fatal(err)
	}
	if a.Version != b.Version {
		t.Errorf("version unstable: %s vs %s", a.Version, b.Version)
	}
	if len(a.Version) != 16 {
		t.Errorf("version length = %d", len(a.Version))
	}
}

func TestSnapshotVersionVariesByProfile(t *testing.T) {
	a, _ := LoadSnapshot("balanced")
	b, _ := LoadSnapshot("strict")
	if a.Version == b.Version {
		t.Error("different profiles share a policy version")
	}
}

func TestSnapshotUnknownProfile(t *testing.T) {
	if _, err := LoadSnapshot("bogus"); err == nil {
		t.Error("want error for unknown profile")
	}
}

func TestHolderSwap(t *testing.T) {
	a, _ := LoadSnapshot("balanced")
	b, _ := LoadSnapshot("strict")
	h := NewHolder(a)
	if h.Current() != a {
		t.Error("holder lost initial snapshot")
	}
	h.Swap(b)
	if h.Current() != b {
		t.Error("swap not visible")
	}
}

func TestHideSanitized(t *testing.T) {
	if !HideSanitized(DefaultHideSanitized, []string{model.ReasonSSRFBlocked}) {
		t.Error("SSRF_BLOCKED should hide sanitized output")
	}
	if HideSanitized(DefaultHideSanitized, []string{model.ReasonPolicyOverride}) {
		t.Error("POLICY_OVERRIDE should not hide sanitized output")
	}
}
