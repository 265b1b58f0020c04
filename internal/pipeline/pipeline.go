// Package pipeline composes the inspection stages: normalize, sanitize,
// detect, redact, score, decide, then quarantine and audit. A scan is a
// pure function of the input bytes, the source descriptor, and the policy
// snapshot it started with.
package pipeline

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/bridgewarden/bridgewarden/internal/audit"
	"github.com/bridgewarden/bridgewarden/internal/detect"
	"github.com/bridgewarden/bridgewarden/internal/model"
	"github.com/bridgewarden/bridgewarden/internal/normalize"
	"github.com/bridgewarden/bridgewarden/internal/policy"
	"github.com/bridgewarden/bridgewarden/internal/quarantine"
	"github.com/bridgewarden/bridgewarden/internal/redact"
	"github.com/bridgewarden/bridgewarden/internal/sanitize"
	"github.com/bridgewarden/bridgewarden/internal/score"
)

// ruleLimitWeight is the contribution of the truncation marker itself.
const ruleLimitWeight = 0.05

// secretExfilWeight applies when a scan both contains a secret and asks for
// exfiltration.
const secretExfilWeight = 0.7

// Guard runs the pipeline against one policy holder and a pair of optional
// sinks. Safe for concurrent use; each scan is synchronous.
type Guard struct {
	policy     *policy.Holder
	quarantine *quarantine.Store
	auditLog   *audit.Log
}

// New creates a guard. The quarantine store and audit log may be nil, in
// which case blocked originals are not retained and decisions are not
// logged.
func New(holder *policy.Holder, store *quarantine.Store, log *audit.Log) *Guard {
	return &Guard{policy: holder, quarantine: store, auditLog: log}
}

// PolicyVersion returns the version of the active snapshot.
func (g *Guard) PolicyVersion() string {
	return g.policy.Current().Version
}

// Scan pushes raw bytes through every stage and returns the GuardResult.
// Any internal panic fails closed to BLOCK/INTERNAL_ERROR; tainted text
// never leaves the pipeline unsanitized.
func (g *Guard) Scan(raw []byte, src model.Source) (result model.GuardResult) {
	snap := g.policy.Current()
	contentHash := hashBytes(raw)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "pipeline: internal error for %s: %v\n", contentHash, r)
			result = model.GuardResult{
				Decision:      model.Block,
				RiskScore:     1.0,
				Reasons:       []string{model.ReasonInternalError},
				Source:        src,
				ContentHash:   contentHash,
				SanitizedText: "",
				Redactions:    []model.Redaction{},
				PolicyVersion: snap.Version,
			}
			g.record(result)
		}
	}()

	n := normalize.Normalize(raw)
	sanitized := sanitize.Sanitize(n.Text, n.Findings)

	findings := append([]model.Finding{}, n.Findings...)
	findings = append(findings, snap.Detector.Detect(detect.Input{
		Text:      n.Clean,
		Shadow:    n.Shadow,
		ShadowMap: n.ShadowMap,
	})...)

	red := redact.Mask(sanitized)
	if f := red.Finding(); f != nil {
		findings = append(findings, *f)
	}
	findings = synthesize(findings)

	if len(findings) > policy.MaxFindings {
		findings = append(findings[:policy.MaxFindings], model.Finding{
			Code:   model.ReasonRuleLimitReached,
			Weight: ruleLimitWeight,
		})
	}

	reasons := reasonCodes(findings)
	risk := score.Round4(score.Risk(findings))
	decision := policy.Decide(snap.Profile, risk, reasons)

	result = model.GuardResult{
		Decision:      decision,
		RiskScore:     risk,
		Reasons:       reasons,
		Source:        src,
		ContentHash:   contentHash,
		SanitizedText: red.Text,
		Redactions:    red.Redactions,
		PolicyVersion: snap.Version,
	}
	if result.Redactions == nil {
		result.Redactions = []model.Redaction{}
	}

	if decision == model.Block {
		if g.quarantine != nil {
			id, hit, err := g.quarantine.Put(quarantine.Record{
				ContentHash:   contentHash,
				Source:        src,
				Original:      base64.StdEncoding.EncodeToString(raw),
				Sanitized:     red.Text,
				Findings:      findings,
				Redactions:    result.Redactions,
				Decision:      decision,
				RiskScore:     risk,
				PolicyVersion: snap.Version,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "pipeline: quarantine write failed: %v\n", err)
				result.QuarantineID = quarantine.ID(contentHash)
			} else {
				result.QuarantineID = id
				result.CacheHit = hit
			}
		} else {
			result.QuarantineID = quarantine.ID(contentHash)
		}
		if policy.HideSanitized(snap.HideSanitized, reasons) {
			result.SanitizedText = ""
		}
	}

	g.record(result)
	return result
}

// Blocked builds a short-circuit BLOCK result for content that was never
// fetched: policy refusals and fetcher failures. There is nothing to
// sanitize or quarantine, and the decision is still audited.
func (g *Guard) Blocked(src model.Source, reason, approvalID string) model.GuardResult {
	result := model.GuardResult{
		Decision:      model.Block,
		RiskScore:     1.0,
		Reasons:       []string{reason},
		Source:        src,
		SanitizedText: "",
		Redactions:    []model.Redaction{},
		PolicyVersion: g.policy.Current().Version,
		ApprovalID:    approvalID,
	}
	g.record(result)
	return result
}

func (g *Guard) record(result model.GuardResult) {
	if g.auditLog == nil {
		return
	}
	if err := g.auditLog.Record(audit.FromResult(result)); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: audit write failed: %v\n", err)
	}
}

// synthesize derives compound findings. A scan that both carries a secret
// and requests exfiltration escalates to SECRET_EXFIL, which also withholds
// sanitized output on BLOCK.
func synthesize(findings []model.Finding) []model.Finding {
	var secret, exfil bool
	for _, f := range findings {
		switch f.Code {
		case model.ReasonSecretFound:
			secret = true
		case model.ReasonExfilRequest, model.ReasonExfilRequest + model.ObfuscatedSuffix:
			exfil = true
		}
	}
	if secret && exfil {
		findings = append(findings, model.Finding{
			Code:   model.ReasonSecretExfil,
			Weight: secretExfilWeight,
		})
	}
	return findings
}

// reasonCodes extracts finding codes, deduplicated, preserving order.
func reasonCodes(findings []model.Finding) []string {
	seen := make(map[string]bool, len(findings))
	reasons := make([]string, 0, len(findings))
	for _, f := range findings {
		if !seen[f.Code] {
			seen[f.Code] = true
			reasons = append(reasons, f.Code)
		}
	}
	return reasons
}

func hashBytes(raw []byte) string {
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}
