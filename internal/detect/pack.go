// Package detect owns the instruction-likeness rule packs: tiered literal,
// regex, and structural matchers plus per-language phrase packs, matched
// against normalized text and its alphanumeric shadow.
package detect

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed packs/rules.yaml
var rulesYAML []byte

//go:embed packs/languages.yaml
var languagesYAML []byte

// MatcherKind selects how a rule matches.
type MatcherKind string

const (
	KindLiteral    MatcherKind = "literal"
	KindRegex      MatcherKind = "regex"
	KindStructural MatcherKind = "structural"
)

// Tier names the loosest profile a rule still runs under.
// permissive ⊂ balanced ⊂ strict: a permissive-tier rule runs everywhere,
// a strict-tier rule only under the strict profile.
type Tier string

const (
	TierPermissive Tier = "permissive"
	TierBalanced   Tier = "balanced"
	TierStrict     Tier = "strict"
)

var tierLevel = map[Tier]int{
	TierPermissive: 1,
	TierBalanced:   2,
	TierStrict:     3,
}

// RuleSpec is one rule as declared in rules.yaml.
type RuleSpec struct {
	Code     string      `yaml:"code"`
	Tier     Tier        `yaml:"tier"`
	Weight   float64     `yaml:"weight"`
	Kind     MatcherKind `yaml:"kind"`
	Pattern  string      `yaml:"pattern"`
	Patterns []string    `yaml:"patterns"`
}

// LanguageSpec is one language's phrase pack as declared in languages.yaml.
type LanguageSpec struct {
	Script   string              `yaml:"script"`
	Core     map[string][]string `yaml:"core"`
	Extended map[string][]string `yaml:"extended"`
}

// Pack is the parsed, not-yet-compiled rule pack.
type Pack struct {
	Version   string                  `yaml:"version"`
	Rules     []RuleSpec              `yaml:"rules"`
	Languages map[string]LanguageSpec `yaml:"-"`
}

type languagesFile struct {
	Languages map[string]LanguageSpec `yaml:"languages"`
}

// LoadPack parses the embedded rule and language packs.
func LoadPack() (*Pack, error) {
	var pack Pack
	if err := yaml.Unmarshal(rulesYAML, &pack); err != nil {
		return nil, fmt.Errorf("detect: parse rules pack: %w", err)
	}
	if pack.Version == "" {
		return nil, fmt.Errorf("detect: rules pack has no version")
	}

	var langs languagesFile
	if err := yaml.Unmarshal(languagesYAML, &langs); err != nil {
		return nil, fmt.Errorf("detect: parse language packs: %w", err)
	}
	pack.Languages = langs.Languages

	if err := pack.validate(); err != nil {
		return nil, err
	}
	return &pack, nil
}

func (p *Pack) validate() error {
	codes := make(map[string]bool, len(p.Rules))
	for _, r := range p.Rules {
		if r.Code == "" {
			return fmt.Errorf("detect: rule with empty code")
		}
		if codes[r.Code] {
			return fmt.Errorf("detect: duplicate rule code %q", r.Code)
		}
		codes[r.Code] = true
		if _, ok := tierLevel[r.Tier]; !ok {
			return fmt.Errorf("detect: rule %s: unknown tier %q", r.Code, r.Tier)
		}
		if r.Weight <= 0 || r.Weight > 1 {
			return fmt.Errorf("detect: rule %s: weight %v outside (0,1]", r.Code, r.Weight)
		}
		switch r.Kind {
		case KindRegex:
			if r.Pattern == "" {
				return fmt.Errorf("detect: regex rule %s has no pattern", r.Code)
			}
		case KindStructural:
			if len(r.Patterns) == 0 {
				return fmt.Errorf("detect: structural rule %s has no patterns", r.Code)
			}
		default:
			return fmt.Errorf("detect: rule %s: unknown kind %q", r.Code, r.Kind)
		}
	}

	for lang, spec := range p.Languages {
		for _, group := range []map[string][]string{spec.Core, spec.Extended} {
			for code := range group {
				if !codes[code] {
					return fmt.Errorf("detect: language %s references unknown code %q", lang, code)
				}
			}
		}
	}
	return nil
}

// languageOrder returns pack language keys sorted for deterministic runs.
func (p *Pack) languageOrder() []string {
	keys := make([]string, 0, len(p.Languages))
	for k := range p.Languages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
