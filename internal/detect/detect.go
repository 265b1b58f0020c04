package detect

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

// Input is the detector's view of one scan: the normalized text plus its
// alphanumeric shadow and the shadow→text offset map from the normalizer.
type Input struct {
	Text      string
	Shadow    string
	ShadowMap []int
}

type hit struct {
	order  int
	offset int
	f      model.Finding
}

// Detect runs the active rules against the input and returns findings in
// deterministic order: rule declaration order first, then first-match
// offset. Duplicate codes are suppressed after the first hit.
func (d *Detector) Detect(in Input) []model.Finding {
	var hits []hit
	seen := make(map[string]bool)

	add := func(code string, weight float64, order, offset int, span *model.Span) {
		if seen[code] {
			return
		}
		seen[code] = true
		hits = append(hits, hit{
			order:  order,
			offset: offset,
			f:      model.Finding{Code: code, Span: span, Weight: weight},
		})
	}

	// Main rules: regex and structural matchers over the normalized text.
	for _, r := range d.rules {
		offset := -1
		var span *model.Span
		for _, re := range r.res {
			if loc := re.FindStringIndex(in.Text); loc != nil {
				if offset < 0 || loc[0] < offset {
					offset = loc[0]
					span = &model.Span{Start: loc[0], End: loc[1]}
				}
			}
		}
		if offset >= 0 {
			add(r.code, r.weight, d.codeOrder[r.code], offset, span)
		}
	}

	// Language packs: core phrases for languages the script hints admit,
	// then extended phrases for languages whose core pack hit.
	scripts := scriptHints(in.Text)
	hinted := make(map[string]bool, len(d.langOrder))

	for _, lang := range d.langOrder {
		lp := d.langs[lang]
		if len(scripts) > 0 && lang != "en" && !scripts[lp.script] {
			continue
		}
		if d.matchPhrases(lp.core, in, add) {
			hinted[lang] = true
		}
	}
	for _, lang := range d.langOrder {
		if hinted[lang] {
			d.matchPhrases(d.langs[lang].extended, in, add)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].order != hits[j].order {
			return hits[i].order < hits[j].order
		}
		return hits[i].offset < hits[j].offset
	})

	findings := make([]model.Finding, len(hits))
	for i, h := range hits {
		findings[i] = h.f
	}
	return findings
}

// matchPhrases matches each phrase rule against the normalized text and,
// failing that, against the shadow. Shadow-only matches carry the
// _OBFUSCATED suffix and a reduced weight. Reports whether anything hit.
func (d *Detector) matchPhrases(rules []phraseRule, in Input, add func(string, float64, int, int, *model.Span)) bool {
	matched := false
	for _, pr := range rules {
		order := d.codeOrder[pr.code]

		if loc := pr.plain.FindStringIndex(in.Text); loc != nil {
			add(pr.code, pr.weight, order, loc[0], &model.Span{Start: loc[0], End: loc[1]})
			matched = true
			continue
		}

		for _, needle := range pr.needles {
			idx := strings.Index(in.Shadow, needle)
			if idx < 0 {
				continue
			}
			span := d.shadowSpan(in, idx, len(needle))
			offset := len(in.Text)
			if span != nil {
				offset = span.Start
			}
			add(pr.code+model.ObfuscatedSuffix, pr.weight*ObfuscatedPenalty, order, offset, span)
			matched = true
			break
		}
	}
	return matched
}

// shadowSpan maps a shadow substring back to a span in the normalized text.
func (d *Detector) shadowSpan(in Input, idx, length int) *model.Span {
	if idx+length > len(in.ShadowMap) || length == 0 {
		return nil
	}
	start := in.ShadowMap[idx]
	lastOff := in.ShadowMap[idx+length-1]
	_, size := utf8.DecodeRuneInString(in.Text[lastOff:])
	return &model.Span{Start: start, End: lastOff + size}
}
