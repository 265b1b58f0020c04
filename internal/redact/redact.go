// Package redact masks secret-like tokens in sanitized text. Redaction runs
// after detection so secret bytes never influence instruction matching, and
// it never touches the content hash, which is computed over the original
// bytes before any stage runs.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

// Kind identifies the category of a masked secret.
type Kind string

const (
	KindAPIKey     Kind = "API_KEY"
	KindAWSKey     Kind = "AWS_ACCESS_KEY"
	KindPrivateKey Kind = "PRIVATE_KEY"
	KindJWT        Kind = "JWT"
	KindBearer     Kind = "BEARER_TOKEN"
)

// kindWeight is the SECRET_FOUND contribution of the strongest kind hit.
var kindWeight = map[Kind]float64{
	KindPrivateKey: 0.5,
	KindAWSKey:     0.4,
	KindAPIKey:     0.3,
	KindJWT:        0.3,
	KindBearer:     0.25,
}

type pattern struct {
	kind Kind
	re   *regexp.Regexp
}

// Declaration order doubles as replacement order: multi-line private key
// blocks go first so a JWT-looking line inside a key block is not masked
// twice.
var patterns = []pattern{
	{KindPrivateKey, regexp.MustCompile(`(?s)-----BEGIN (?:RSA |EC |OPENSSH |DSA |PGP )?PRIVATE KEY-----.*?-----END (?:RSA |EC |OPENSSH |DSA |PGP )?PRIVATE KEY-----`)},
	{KindAWSKey, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{KindJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\b`)},
	{KindBearer, regexp.MustCompile(`(?im)^\s*authorization\s*:\s*(?:bearer|basic)\s+\S+|\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`)},
	{KindAPIKey, regexp.MustCompile(`(?i)\b(?:api[_-]?key|token|secret)\b[ \t]*[:=][ \t]*["']?[A-Za-z0-9_-]{32,}["']?`)},
}

// Result is the output of one redaction pass.
type Result struct {
	Text       string
	Redactions []model.Redaction
}

// Mask replaces every secret match with «REDACTED:KIND» and accumulates
// per-kind counts in declaration order.
func Mask(text string) Result {
	res := Result{Text: text}
	for _, p := range patterns {
		matches := p.re.FindAllStringIndex(res.Text, -1)
		if len(matches) == 0 {
			continue
		}
		res.Text = p.re.ReplaceAllString(res.Text, placeholder(p.kind))
		res.Redactions = append(res.Redactions, model.Redaction{
			Kind:  string(p.kind),
			Count: len(matches),
		})
	}
	return res
}

// Finding converts a redaction pass into a SECRET_FOUND finding weighted by
// the strongest kind encountered, or nil when nothing was masked.
func (r Result) Finding() *model.Finding {
	if len(r.Redactions) == 0 {
		return nil
	}
	strongest := 0.0
	for _, red := range r.Redactions {
		if w := kindWeight[Kind(red.Kind)]; w > strongest {
			strongest = w
		}
	}
	return &model.Finding{Code: model.ReasonSecretFound, Weight: strongest}
}

func placeholder(kind Kind) string {
	return fmt.Sprintf("«REDACTED:%s»", kind)
}

// Kinds returns all known kinds in weight order, strongest first. Used by
// the policy version hash so a redaction config change rotates the version.
func Kinds() []string {
	kinds := make([]string, 0, len(kindWeight))
	for k := range kindWeight {
		kinds = append(kinds, string(k))
	}
	sort.Slice(kinds, func(i, j int) bool {
		wi, wj := kindWeight[Kind(kinds[i])], kindWeight[Kind(kinds[j])]
		if wi != wj {
			return wi > wj
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

// ConfigVersion is a stable fingerprint of the redaction pattern set.
func ConfigVersion() string {
	var b strings.Builder
	for _, p := range patterns {
		b.WriteString(string(p.kind))
		b.WriteByte('=')
		b.WriteString(p.re.String())
		b.WriteByte(';')
	}
	return b.String()
}
