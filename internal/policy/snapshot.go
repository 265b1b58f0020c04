package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/bridgewarden/bridgewarden/internal/detect"
	"github.com/bridgewarden/bridgewarden/internal/redact"
)

// MaxFindings caps findings accumulated per scan. Overflow is truncated and
// flagged with RULE_LIMIT_REACHED.
const MaxFindings = 64

// Snapshot is one immutable view of the loaded policy: the compiled rule
// pack, the active profile, and the derived version string. In-flight scans
// keep the snapshot they started with; reloads swap the pointer.
type Snapshot struct {
	Profile       Profile
	Detector      *detect.Detector
	PackVersion   string
	HideSanitized map[string]bool
	Version       string
}

// LoadSnapshot compiles the embedded rule packs for the given profile and
// derives the policy version from the pack version, profile name, and
// redaction configuration.
func LoadSnapshot(profileName string) (*Snapshot, error) {
	if profileName == "" {
		profileName = DefaultProfile
	}
	if !KnownProfile(profileName) {
		return nil, fmt.Errorf("policy: unknown profile %q", profileName)
	}

	pack, err := detect.LoadPack()
	if err != nil {
		return nil, err
	}
	detector, err := pack.Compile(profileName)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Profile:       GetProfile(profileName),
		Detector:      detector,
		PackVersion:   pack.Version,
		HideSanitized: DefaultHideSanitized,
		Version:       versionHash(pack.Version, profileName, redact.ConfigVersion()),
	}, nil
}

// versionHash derives the stable policy version from its three inputs.
func versionHash(packVersion, profile, redaction string) string {
	h := sha256.Sum256([]byte(packVersion + "|" + profile + "|" + redaction))
	return hex.EncodeToString(h[:])[:16]
}

// Holder publishes the current snapshot to concurrent scans. Swaps are
// atomic; readers never see a partially updated policy.
type Holder struct {
	ptr atomic.Pointer[Snapshot]
}

// NewHolder creates a holder seeded with the given snapshot.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.ptr.Store(s)
	return h
}

// Current returns the active snapshot.
func (h *Holder) Current() *Snapshot {
	return h.ptr.Load()
}

// Swap publishes a new snapshot.
func (h *Holder) Swap(s *Snapshot) {
	h.ptr.Store(s)
}
