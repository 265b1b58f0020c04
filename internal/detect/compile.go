package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// ObfuscatedPenalty scales the weight of shadow-only phrase matches.
const ObfuscatedPenalty = 0.8

type compiledRule struct {
	code   string
	weight float64
	kind   MatcherKind
	res    []*regexp.Regexp
}

type phraseRule struct {
	code   string
	weight float64
	// plain matches the normalized text with whitespace tolerance.
	plain *regexp.Regexp
	// needles are the phrases collapsed to [a-z0-9] for shadow matching.
	// Empty for phrases with no alphanumeric content.
	needles []string
}

type langPack struct {
	script   string
	core     []phraseRule
	extended []phraseRule
}

// Detector is a compiled, profile-filtered rule pack. Immutable after
// compilation; safe for concurrent use.
type Detector struct {
	profile   Tier
	rules     []compiledRule
	langs     map[string]*langPack
	langOrder []string
	codeOrder map[string]int
}

// Compile filters the pack to the rules active under profile and compiles
// every matcher up front. Go's regexp engine is RE2, so all compiled
// patterns run in linear time.
func (p *Pack) Compile(profile string) (*Detector, error) {
	tier := Tier(profile)
	level, ok := tierLevel[tier]
	if !ok {
		return nil, fmt.Errorf("detect: unknown profile %q", profile)
	}

	d := &Detector{
		profile:   tier,
		langs:     make(map[string]*langPack, len(p.Languages)),
		langOrder: p.languageOrder(),
		codeOrder: make(map[string]int, len(p.Rules)),
	}

	codeTier := make(map[string]Tier, len(p.Rules))
	codeWeight := make(map[string]float64, len(p.Rules))

	for i, spec := range p.Rules {
		d.codeOrder[spec.Code] = i
		codeTier[spec.Code] = spec.Tier
		codeWeight[spec.Code] = spec.Weight
		if tierLevel[spec.Tier] > level {
			continue
		}

		cr := compiledRule{code: spec.Code, weight: spec.Weight, kind: spec.Kind}
		patterns := spec.Patterns
		if spec.Kind == KindRegex {
			patterns = []string{spec.Pattern}
		}
		for _, pat := range patterns {
			if spec.Kind == KindStructural {
				pat = "(?m)" + pat
			}
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				return nil, fmt.Errorf("detect: rule %s: %w", spec.Code, err)
			}
			cr.res = append(cr.res, re)
		}
		d.rules = append(d.rules, cr)
	}

	for _, lang := range d.langOrder {
		spec := p.Languages[lang]
		lp := &langPack{script: spec.Script}
		var err error
		if lp.core, err = compilePhrases(spec.Core, codeTier, codeWeight, level, d.codeOrder); err != nil {
			return nil, fmt.Errorf("detect: language %s: %w", lang, err)
		}
		if lp.extended, err = compilePhrases(spec.Extended, codeTier, codeWeight, level, d.codeOrder); err != nil {
			return nil, fmt.Errorf("detect: language %s: %w", lang, err)
		}
		d.langs[lang] = lp
	}

	return d, nil
}

// compilePhrases builds phrase rules for the codes active under the profile
// level, ordered by the owning rule's declaration position.
func compilePhrases(group map[string][]string, codeTier map[string]Tier, codeWeight map[string]float64, level int, order map[string]int) ([]phraseRule, error) {
	codes := make([]string, 0, len(group))
	for code := range group {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return order[codes[i]] < order[codes[j]] })

	var rules []phraseRule
	for _, code := range codes {
		if tierLevel[codeTier[code]] > level {
			continue
		}
		phrases := group[code]
		if len(phrases) == 0 {
			continue
		}
		plain, err := phraseRegexp(phrases)
		if err != nil {
			return nil, fmt.Errorf("code %s: %w", code, err)
		}
		pr := phraseRule{code: code, weight: codeWeight[code], plain: plain}
		for _, phrase := range phrases {
			if needle := collapsePhrase(phrase); needle != "" {
				pr.needles = append(pr.needles, needle)
			}
		}
		rules = append(rules, pr)
	}
	return rules, nil
}

// phraseRegexp compiles a phrase list into one case-insensitive,
// whitespace-tolerant alternation. Word boundaries are added only where the
// phrase edge is an ASCII word character, so CJK phrases still match.
func phraseRegexp(phrases []string) (*regexp.Regexp, error) {
	alts := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		pat := regexp.QuoteMeta(phrase)
		pat = strings.ReplaceAll(pat, ` `, `\s+`)
		if isASCIIWord(firstRune(phrase)) {
			pat = `\b` + pat
		}
		if isASCIIWord(lastRune(phrase)) {
			pat += `\b`
		}
		alts = append(alts, pat)
	}
	return regexp.Compile("(?i)" + strings.Join(alts, "|"))
}

// collapsePhrase lowercases a phrase and drops everything outside [a-z0-9],
// mirroring the shadow projection of the normalizer.
func collapsePhrase(phrase string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(phrase) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}

func isASCIIWord(r rune) bool {
	return r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}
