// Package normalize canonicalizes untrusted bytes into Unicode text and
// flags structural hazards (bidi controls, zero-width characters, tag
// characters, private-use runs) before any downstream matching runs.
package normalize

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

// Hazard weights are fixed contributions to the risk score.
const (
	WeightBidiControl   = 0.6
	WeightZeroWidth     = 0.4
	WeightTagChars      = 0.7
	WeightPrivateUseRun = 0.3
	WeightEncoding      = 0.3
)

// minPrivateUseRun is the shortest private-use sequence worth flagging.
const minPrivateUseRun = 4

// Normalized is the output of the normalization stage.
type Normalized struct {
	// Text is NFKC-normalized, newline-canonical text. Hazard characters
	// are preserved so the sanitizer can collapse them span by span.
	Text string

	// Findings holds one entry per hazard run, spans indexing into Text.
	Findings []model.Finding

	// Clean is Text with every hazard character removed. Detection runs
	// against Clean so an invisible character cannot bridge or split a
	// match; Text keeps the hazards so the sanitizer can collapse them.
	Clean string

	// Shadow is the collapsed alphanumeric projection of Clean: lowercased,
	// everything outside [a-z0-9] removed. Used for obfuscation-resistant
	// phrase matching.
	Shadow string

	// ShadowMap maps each byte of Shadow back to the byte offset in Clean
	// of the rune it came from.
	ShadowMap []int
}

// Normalize decodes raw bytes, applies NFKC, canonicalizes newlines, scans
// for hazard characters, and builds the alphanumeric shadow.
func Normalize(raw []byte) Normalized {
	text, encodingValid := decode(raw)

	text = norm.NFKC.String(text)
	text = canonicalNewlines(text)
	text = trimBOM(text)

	n := Normalized{Text: text}
	if !encodingValid {
		n.Findings = append(n.Findings, model.Finding{
			Code:   model.ReasonEncodingInvalid,
			Weight: WeightEncoding,
		})
	}
	n.Findings = append(n.Findings, scanHazards(text)...)
	n.Clean = stripHazards(text)
	n.Shadow, n.ShadowMap = buildShadow(n.Clean)
	return n
}

// stripHazards removes every hazard-class character, including private-use
// runs below the flagging threshold.
func stripHazards(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if code, _ := hazardClass(r); code == "" {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// decode turns raw bytes into a string. UTF-16 input is recognized by BOM;
// everything else is treated as UTF-8 with invalid sequences replaced by
// U+FFFD. The bool reports whether the input decoded cleanly.
func decode(raw []byte) (string, bool) {
	if len(raw) >= 2 {
		hasLE := raw[0] == 0xFF && raw[1] == 0xFE
		hasBE := raw[0] == 0xFE && raw[1] == 0xFF
		if hasLE || hasBE {
			dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
			out, err := dec.Bytes(raw)
			if err == nil {
				return string(out), true
			}
		}
	}

	if utf8.Valid(raw) {
		return string(raw), true
	}
	// Replace invalid sequences with U+FFFD, one replacement per broken byte.
	return string(bytes.ToValidUTF8(raw, []byte("�"))), false
}

func canonicalNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func trimBOM(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r != 0xFEFF {
			break
		}
		s = s[size:]
	}
	return s
}

// hazardClass buckets a rune into one hazard category, or "" for none.
func hazardClass(r rune) (code string, weight float64) {
	switch {
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069:
		return model.ReasonBidiControl, WeightBidiControl
	case r >= 0x200B && r <= 0x200F, r == 0x2060, r == 0xFEFF:
		// FEFF here is always interior: a leading BOM was trimmed above.
		return model.ReasonZeroWidth, WeightZeroWidth
	case r >= 0xE0000 && r <= 0xE007F:
		return model.ReasonTagChars, WeightTagChars
	case isPrivateUse(r):
		return model.ReasonPrivateUseRun, WeightPrivateUseRun
	}
	return "", 0
}

func isPrivateUse(r rune) bool {
	return (r >= 0xE000 && r <= 0xF8FF) ||
		(r >= 0xF0000 && r <= 0xFFFFD) ||
		(r >= 0x100000 && r <= 0x10FFFD)
}

// scanHazards emits one finding per contiguous run of same-class hazard
// characters. Private-use runs shorter than minPrivateUseRun are ignored.
func scanHazards(text string) []model.Finding {
	var findings []model.Finding

	runCode := ""
	runWeight := 0.0
	runStart := 0
	runLen := 0

	flush := func(end int) {
		if runCode == "" {
			return
		}
		if runCode != model.ReasonPrivateUseRun || runLen >= minPrivateUseRun {
			findings = append(findings, model.Finding{
				Code:   runCode,
				Span:   &model.Span{Start: runStart, End: end},
				Weight: runWeight,
			})
		}
		runCode = ""
		runLen = 0
	}

	for i, r := range text {
		code, weight := hazardClass(r)
		if code != runCode {
			flush(i)
			if code != "" {
				runCode, runWeight, runStart = code, weight, i
			}
		}
		if code != "" {
			runLen++
		}
	}
	flush(len(text))
	return findings
}

// buildShadow lowercases and strips everything outside [a-z0-9],
// recording for each shadow byte the originating byte offset in text.
func buildShadow(text string) (string, []int) {
	shadow := make([]byte, 0, len(text))
	offsets := make([]int, 0, len(text))
	for i, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			shadow = append(shadow, byte(r))
			offsets = append(offsets, i)
		case r >= 'A' && r <= 'Z':
			shadow = append(shadow, byte(r)+('a'-'A'))
			offsets = append(offsets, i)
		}
	}
	return string(shadow), offsets
}
