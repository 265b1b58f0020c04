package audit

import (
	"github.com/bridgewarden/bridgewarden/internal/model"
)

// Entry is one line in the hash-chained JSONL audit log. All fields are
// structs and scalars (no map[string]any) so json.Marshal field order is
// deterministic and lines hash reproducibly. Original text is never
// recorded, only its hash.
type Entry struct {
	Timestamp         string         `json:"ts"`
	Source            model.Source   `json:"source"`
	ContentHash       string         `json:"content_hash"`
	RiskScore         float64        `json:"risk_score"`
	Decision          model.Decision `json:"decision"`
	Reasons           []string       `json:"reasons"`
	PolicyVersion     string         `json:"policy_version"`
	CacheHit          bool           `json:"cache_hit"`
	QuarantineID      string         `json:"quarantine_id,omitempty"`
	ApprovalID        string         `json:"approval_id,omitempty"`
	RedactionsSummary map[string]int `json:"redactions_summary,omitempty"`
	ReasonsTruncated  bool           `json:"reasons_truncated,omitempty"`
	PrevHash          string         `json:"prev_hash"`
}

// FromResult flattens a GuardResult into an audit entry.
func FromResult(r model.GuardResult) Entry {
	return Entry{
		Source:            r.Source,
		ContentHash:       r.ContentHash,
		RiskScore:         r.RiskScore,
		Decision:          r.Decision,
		Reasons:           r.Reasons,
		PolicyVersion:     r.PolicyVersion,
		CacheHit:          r.CacheHit,
		QuarantineID:      r.QuarantineID,
		ApprovalID:        r.ApprovalID,
		RedactionsSummary: model.RedactionSummary(r.Redactions),
	}
}
