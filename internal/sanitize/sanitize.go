// Package sanitize renders markup inert: HTML tags are stripped with text
// content preserved, markdown images and links with active payloads are
// neutralized, and hazard characters flagged by the normalizer are collapsed
// into visible placeholders. Line counts are preserved so finding spans stay
// meaningful for a reviewer.
package sanitize

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

// containers whose entire content is dropped, not just the tags.
var dropContent = map[string]bool{
	"script": true,
	"style":  true,
	"iframe": true,
	"object": true,
	"embed":  true,
}

var (
	imageRe = regexp.MustCompile(`!\[([^\]]*)\]\(\s*([^)\s]+)[^)]*\)`)
	linkRe  = regexp.MustCompile(`(!?)\[([^\]]*)\]\(\s*([^)\s]+)[^)]*\)`)
	fenceRe = regexp.MustCompile("^\\s*(```|~~~)")
)

// hazardCodes are the normalizer findings whose spans get collapsed here.
var hazardCodes = map[string]bool{
	model.ReasonBidiControl:   true,
	model.ReasonZeroWidth:     true,
	model.ReasonTagChars:      true,
	model.ReasonPrivateUseRun: true,
}

// Sanitize takes normalized text plus the normalizer's hazard findings and
// returns an inert rendering. Sanitize is idempotent: running it over its
// own output changes nothing.
func Sanitize(text string, hazards []model.Finding) string {
	s := collapseHazards(text, hazards)

	// Fenced code is opaque: markup transforms apply only outside fences.
	var out strings.Builder
	var plain strings.Builder
	inFence := false
	lines := strings.SplitAfter(s, "\n")
	flush := func() {
		if plain.Len() > 0 {
			out.WriteString(rewriteMarkdown(stripHTML(plain.String())))
			plain.Reset()
		}
	}
	for _, line := range lines {
		if fenceRe.MatchString(line) {
			flush()
			inFence = !inFence
			out.WriteString(line)
			continue
		}
		if inFence {
			out.WriteString(line)
		} else {
			plain.WriteString(line)
		}
	}
	flush()
	return out.String()
}

// collapseHazards replaces each hazard span with a visible placeholder of
// the form [U+XXXX×N], where XXXX is the first code point of the run and N
// the run length in code points.
func collapseHazards(text string, hazards []model.Finding) string {
	var spans []model.Finding
	for _, f := range hazards {
		if f.Span != nil && hazardCodes[f.Code] {
			spans = append(spans, f)
		}
	}
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Span.Start > spans[j].Span.Start })

	for _, f := range spans {
		start, end := f.Span.Start, f.Span.End
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		run := text[start:end]
		first, _ := utf8.DecodeRuneInString(run)
		n := utf8.RuneCountInString(run)
		placeholder := fmt.Sprintf("[U+%04X×%d]", first, n)
		text = text[:start] + placeholder + text[end:]
	}
	return text
}

// stripHTML removes all tags, drops the content of script/style/iframe/
// object/embed entirely, and keeps text as-is (entities stay escaped so a
// second pass is a no-op). Newlines inside dropped regions are kept so line
// numbers survive.
func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		raw := string(z.Raw())
		switch tt {
		case html.ErrorToken:
			// Tokenizer errors only occur at EOF for string input.
			return b.String()
		case html.TextToken:
			if skip > 0 {
				b.WriteString(newlinesOnly(raw))
			} else {
				b.WriteString(raw)
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if dropContent[string(name)] {
				skip++
			}
			b.WriteString(newlinesOnly(raw))
		case html.EndTagToken:
			name, _ := z.TagName()
			if dropContent[string(name)] && skip > 0 {
				skip--
			}
			b.WriteString(newlinesOnly(raw))
		default:
			// Self-closing tags, comments, doctypes.
			b.WriteString(newlinesOnly(raw))
		}
	}
}

func newlinesOnly(s string) string {
	return strings.Repeat("\n", strings.Count(s, "\n"))
}

// rewriteMarkdown strips images whose URL is not http(s) and rewrites links
// whose visible text misrepresents the destination into "TEXT (URL)".
func rewriteMarkdown(s string) string {
	s = imageRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := imageRe.FindStringSubmatch(m)
		alt, target := sub[1], sub[2]
		if isHTTPURL(target) {
			return m
		}
		return alt
	})

	return linkRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		if sub[1] == "!" {
			// Image, already handled above.
			return m
		}
		text, target := sub[2], sub[3]
		if !isHTTPURL(target) {
			// javascript:, data:, vbscript: and friends lose the payload.
			return text
		}
		if misleadingLinkText(text, target) {
			return fmt.Sprintf("%s (%s)", text, target)
		}
		return m
	})
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// misleadingLinkText reports whether the link text itself reads as a URL or
// bare domain whose host differs from the actual destination.
func misleadingLinkText(text, target string) bool {
	textHost := hostOf(text)
	if textHost == "" {
		return false
	}
	return !strings.EqualFold(textHost, hostOf(target))
}

var bareDomainRe = regexp.MustCompile(`^[a-zA-Z0-9][-a-zA-Z0-9.]*\.[a-zA-Z]{2,}(/\S*)?$`)

func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if u, err := url.Parse(s); err == nil {
			return strings.ToLower(u.Hostname())
		}
		return ""
	}
	if bareDomainRe.MatchString(s) {
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
		return strings.ToLower(s)
	}
	return ""
}
